package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/inference"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/parser"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

var tracer = otel.Tracer("kestrel-pipeline")

// Pipeline stages, also used as the error kind label.
const (
	StageParse     = "parse"
	StageExtract   = "extract"
	StageNormalize = "normalize"
	StageInfer     = "infer"
	StageDecide    = "decide"
)

// StageError records which stage of the serving pipeline failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Result is the outcome of scoring one message.
type Result struct {
	Message           *domain.PaymentMessage
	Features          domain.FeatureVector
	Scaled            domain.FeatureVector
	Probability       float64
	Decision          domain.RiskDecision
	NormalizerVersion string
	ParseMs           int64
	InferMs           int64
	TotalMs           int64
}

// Scorer runs the serving pipeline. Normalization parameters can be swapped
// while requests are in flight; each request uses the parameters it read at
// the start.
type Scorer struct {
	extractor *features.Extractor
	model     inference.Model
	params    atomic.Pointer[domain.NormalizationParams]
}

// NewScorer creates a scorer. params must match the extractor schema.
func NewScorer(extractor *features.Extractor, params *domain.NormalizationParams, model inference.Model) (*Scorer, error) {
	if extractor == nil || model == nil {
		return nil, fmt.Errorf("%w: extractor and model are required", domain.ErrInvalidInput)
	}

	s := &Scorer{extractor: extractor, model: model}
	if err := s.SetParams(params); err != nil {
		return nil, err
	}
	return s, nil
}

// Params returns the active normalization parameters.
func (s *Scorer) Params() *domain.NormalizationParams {
	return s.params.Load()
}

// SetParams validates and installs new normalization parameters.
func (s *Scorer) SetParams(params *domain.NormalizationParams) error {
	if err := normalize.Validate(params, domain.FeatureNames()); err != nil {
		return err
	}
	s.params.Store(params)
	return nil
}

// ModelType names the inference backend.
func (s *Scorer) ModelType() string {
	return s.model.Type()
}

// Score runs raw through parse, extract, normalize, infer and decide.
func (s *Scorer) Score(ctx context.Context, raw []byte, enc domain.Encoding) (*Result, error) {
	start := time.Now()
	params := s.params.Load()

	ctx, span := tracer.Start(ctx, "score",
		trace.WithAttributes(
			attribute.String("encoding", string(enc)),
			attribute.String("normalizer.version", params.Version),
		),
	)
	defer span.End()

	result, err := s.run(ctx, raw, enc, params)
	elapsed := time.Since(start)
	metrics.ScoreDuration.Observe(elapsed.Seconds())

	if err != nil {
		stage := "unknown"
		var se *StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		metrics.ScoreErrorsTotal.WithLabelValues(stage).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		return nil, err
	}

	result.TotalMs = elapsed.Milliseconds()
	metrics.ScoresTotal.WithLabelValues(scoring.Verdict(result.Decision)).Inc()
	span.SetAttributes(
		attribute.Float64("probability", result.Probability),
		attribute.Bool("fraud_detected", result.Decision.FraudDetected),
	)
	return result, nil
}

func (s *Scorer) run(ctx context.Context, raw []byte, enc domain.Encoding, params *domain.NormalizationParams) (*Result, error) {
	result := &Result{NormalizerVersion: params.Version}

	parseStart := time.Now()
	err := stage(ctx, StageParse, func(context.Context) error {
		msg, err := parser.Parse(raw, enc)
		result.Message = msg
		return err
	})
	result.ParseMs = time.Since(parseStart).Milliseconds()
	if err != nil {
		return nil, err
	}

	if err := stage(ctx, StageExtract, func(context.Context) error {
		vec, _, err := s.extractor.Extract(result.Message)
		result.Features = vec
		return err
	}); err != nil {
		return nil, err
	}

	if err := stage(ctx, StageNormalize, func(context.Context) error {
		scaled, err := normalize.Apply(params, result.Features)
		result.Scaled = scaled
		return err
	}); err != nil {
		return nil, err
	}

	inferStart := time.Now()
	err = stage(ctx, StageInfer, func(ctx context.Context) error {
		p, err := s.model.Predict(ctx, result.Scaled)
		result.Probability = p
		return err
	})
	result.InferMs = time.Since(inferStart).Milliseconds()
	if err != nil {
		return nil, err
	}

	if err := stage(ctx, StageDecide, func(context.Context) error {
		d, err := scoring.Decide(result.Probability)
		result.Decision = d
		return err
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// stage runs fn in its own span and tags any error with the stage name.
func stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StageError{Stage: name, Err: err}
	}
	return nil
}

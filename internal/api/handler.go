package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/parser"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Dependencies are the collaborators of the API handlers. Scorer is
// required; everything else is optional and the endpoints that need a
// missing collaborator answer 503.
type Dependencies struct {
	Scorer *pipeline.Scorer
	Repo   domain.Repository
	Cache  domain.Cache
	Bus    domain.EventBus

	// Worker consumes POST /score/async submissions. Health reports its
	// subscriptions when set.
	Worker *worker.Worker

	// NormalizerPath is reloaded by POST /normalizer/reload. When empty the
	// latest stored version is used instead.
	NormalizerPath string

	// ScoreTTL bounds how long a cached verdict is reused.
	ScoreTTL time.Duration

	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	scorer         *pipeline.Scorer
	repo           domain.Repository
	cache          domain.Cache
	bus            domain.EventBus
	worker         *worker.Worker
	normalizerPath string
	scoreTTL       time.Duration
	maxBodyBytes   int64
	version        string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	if deps.ScoreTTL <= 0 {
		deps.ScoreTTL = 10 * time.Minute
	}
	return &Handler{
		scorer:         deps.Scorer,
		repo:           deps.Repo,
		cache:          deps.Cache,
		bus:            deps.Bus,
		worker:         deps.Worker,
		normalizerPath: deps.NormalizerPath,
		scoreTTL:       deps.ScoreTTL,
		maxBodyBytes:   maxBodyBytes,
		version:        deps.Version,
	}
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	ScoreID       string `json:"scoreId"`
	MessageID     string `json:"messageId"`
	FraudDetected bool   `json:"fraud_detected"`
	RiskScore     string `json:"risk_score"`
	Message       string `json:"message"`
}

func newScoreResponse(score *domain.Score) ScoreResponse {
	return ScoreResponse{
		ScoreID:       score.ID,
		MessageID:     score.MessageID,
		FraudDetected: score.Decision.FraudDetected,
		RiskScore:     score.Decision.RiskScore,
		Message:       score.Decision.Message,
	}
}

// Score handles POST /score requests. The body is a payment message in the
// encoding named by Content-Type.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}
	enc := parser.EncodingFromContentType(r.Header.Get("Content-Type"))

	// Identical bytes under the same parameters reuse the stored verdict
	if h.cache != nil {
		cached, err := h.cache.GetScore(ctx, tenantID, cache.ScoreKey(raw, h.scorer.Params().Version))
		if err != nil {
			slog.Warn("score cache lookup failed", "error", err)
		}
		if cached != nil {
			metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			writeJSON(w, http.StatusOK, newScoreResponse(cached))
			return
		}
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	result, err := h.scorer.Score(ctx, raw, enc)
	if err != nil {
		level := slog.LevelInfo
		if !domain.IsClientError(err) {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "scoring failed",
			"tenant_id", tenantID,
			"trace_id", traceID,
			"error", err,
		)
		writeError(w, err)
		return
	}

	messageID := uuid.New().String()
	score := result.NewScore(tenantID, messageID, h.scorer.ModelType(), traceID)

	// Storage failures never fail a verdict
	if h.repo != nil {
		if err := h.repo.SaveMessage(ctx, tenantID, result.StoredMessage(tenantID, messageID, enc, raw)); err != nil {
			slog.Error("failed to save message", "message_id", messageID, "error", err)
		}
		if err := h.repo.SaveScore(ctx, tenantID, score); err != nil {
			slog.Error("failed to save score", "score_id", score.ID, "error", err)
		}
	}
	if h.cache != nil {
		// Keyed by the parameters that produced the verdict, which a
		// concurrent reload may have replaced since the lookup.
		key := cache.ScoreKey(raw, result.NormalizerVersion)
		if err := h.cache.SetScore(ctx, tenantID, key, score, h.scoreTTL); err != nil {
			slog.Warn("failed to cache score", "score_id", score.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, newScoreResponse(score))
}

// ScoreAsync handles POST /score/async. The message is checked for
// well-formedness, queued on the event bus and scored by the worker.
func (h *Handler) ScoreAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	raw, ok := h.readBody(w, r)
	if !ok {
		return
	}
	enc := parser.EncodingFromContentType(r.Header.Get("Content-Type"))

	if _, err := parser.Parse(raw, enc); err != nil {
		writeError(w, err)
		return
	}

	messageID := uuid.New().String()
	payload, err := json.Marshal(domain.IngestedMessage{
		MessageID: messageID,
		TenantID:  tenantID,
		TraceID:   GetTraceID(ctx),
		Encoding:  enc,
		Raw:       raw,
	})
	if err != nil {
		slog.Error("failed to encode queued message", "message_id", messageID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue message",
		})
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicMessageIngested, payload); err != nil {
		slog.Error("failed to queue message", "message_id", messageID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue message",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"messageId": messageID,
		"status":    "queued",
	})
}

// GetScore retrieves a score by ID.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	scoreID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	score, err := h.repo.GetScore(ctx, tenantID, scoreID)
	if err != nil {
		writeLookupError(w, "score", scoreID, err)
		return
	}

	writeJSON(w, http.StatusOK, score)
}

// MessageResponse is a stored message with every score computed for it.
type MessageResponse struct {
	*domain.StoredMessage
	Scores []*domain.Score `json:"scores"`
}

// GetMessage retrieves a stored message and its scores by ID.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	msgID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	msg, err := h.repo.GetMessage(ctx, tenantID, msgID)
	if err != nil {
		writeLookupError(w, "message", msgID, err)
		return
	}

	scores, err := h.repo.ListScoresByMessage(ctx, tenantID, msgID)
	if err != nil {
		slog.Error("failed to list scores", "message_id", msgID, "error", err)
		scores = nil
	}
	if scores == nil {
		scores = []*domain.Score{}
	}

	writeJSON(w, http.StatusOK, MessageResponse{StoredMessage: msg, Scores: scores})
}

// GetNormalizer returns the active normalization parameters.
func (h *Handler) GetNormalizer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scorer.Params())
}

// ReloadNormalizer swaps in normalization parameters from the configured
// artifact file, or the latest stored version when no file is configured.
// In-flight requests finish with the parameters they started with.
func (h *Handler) ReloadNormalizer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		params *domain.NormalizationParams
		source string
		err    error
	)
	switch {
	case h.normalizerPath != "":
		source = h.normalizerPath
		params, err = normalize.LoadFile(h.normalizerPath)
	case h.repo != nil:
		source = "repository"
		params, err = h.repo.LatestNormalizer(ctx)
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no normalizer source configured",
		})
		return
	}

	if err != nil {
		slog.Error("failed to load normalizer", "source", source, "error", err)
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrShapeMismatch):
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	previous := h.scorer.Params().Version
	if err := h.scorer.SetParams(params); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("normalizer reloaded",
		"source", source,
		"previous_version", previous,
		"version", params.Version,
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"message":         "normalizer reloaded",
		"version":         params.Version,
		"previousVersion": previous,
	})
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Worker  *worker.Stats `json:"worker,omitempty"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	var workerStats *worker.Stats

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.worker != nil {
		stats := h.worker.GetStats()
		workerStats = &stats
		// Queued messages would never be scored
		if stats.SubscriptionCount == 0 {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Version: h.version,
		Worker:  workerStats,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	params := h.scorer.Params()
	writeJSON(w, http.StatusOK, map[string]string{
		"ready":             "true",
		"model":             h.scorer.ModelType(),
		"normalizerVersion": params.Version,
	})
}

// readBody reads the request body up to the configured limit. On failure
// the response has already been written.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return nil, false
	}
	return raw, true
}

// writeError maps a scoring error to a response. Core pipeline errors are
// the caller's fault and are echoed back; anything else came from the model
// backend and only its log line carries the detail.
func writeError(w http.ResponseWriter, err error) {
	if domain.IsClientError(err) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]string{
		"error": "model unavailable",
	})
}

func writeLookupError(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": kind + " not found",
		})
		return
	}
	slog.Error("lookup failed", "kind", kind, "id", id, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "failed to load " + kind,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/inference"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/parser"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// stubModel returns a fixed probability and counts calls.
type stubModel struct {
	p     float64
	err   error
	calls atomic.Int32
}

func (m *stubModel) Predict(ctx context.Context, vec domain.FeatureVector) (float64, error) {
	m.calls.Add(1)
	return m.p, m.err
}

func (m *stubModel) Type() string { return "stub" }

var (
	fraudMessage = &domain.PaymentMessage{
		MessageID:        "MSG-FRAUD",
		Debtor:           domain.Party{Name: "Fraudster Inc", ID: "BlacklistedID1"},
		DebtorAccountID:  "NG001234567890123456",
		Creditor:         domain.Party{Name: "Mule Ltd", ID: "987654321"},
		InstructedAmount: "12000.00",
		Currency:         "USD",
		RegulatoryCode:   "AML",
	}
	badAmountMessage = &domain.PaymentMessage{
		MessageID:        "MSG-BAD",
		DebtorAccountID:  "DE001234567890123456",
		InstructedAmount: "12,000.00",
		Currency:         "EUR",
	}
)

func fitParams(t *testing.T, rows []domain.FeatureVector) *domain.NormalizationParams {
	t.Helper()
	params, _, err := normalize.Fit(domain.FeatureNames(), rows, domain.ZeroStdUnit)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	return params
}

func defaultParams(t *testing.T) *domain.NormalizationParams {
	return fitParams(t, []domain.FeatureVector{
		{12000, 1, 1, 1, 1},
		{250, 0, 0, 0, 0},
		{4200.5, 0, 0, 0, 0},
	})
}

func newScorer(t *testing.T, model *stubModel) *pipeline.Scorer {
	t.Helper()
	extractor, err := features.NewExtractor(domain.DefaultFeatureConfig())
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}
	scorer, err := pipeline.NewScorer(extractor, defaultParams(t), model)
	if err != nil {
		t.Fatalf("NewScorer failed: %v", err)
	}
	return scorer
}

func newTestRepository(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api-test.db"),
	})
	if err != nil {
		t.Fatalf("repository.New failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// createTestServer creates a server around deps with a small body limit.
func createTestServer(deps Dependencies) *Server {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
		MaxBodyBytes: 8192,
	}
	if deps.Version == "" {
		deps.Version = "test-v1"
	}
	return NewServer(cfg, deps)
}

func encodeJSON(t *testing.T, msg *domain.PaymentMessage) []byte {
	t.Helper()
	raw, err := parser.EncodeJSON(msg)
	if err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}
	return raw
}

func post(server *Server, path, contentType string, body []byte, tenantID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func get(server *Server, path, tenantID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error body %q: %v", rr.Body.String(), err)
	}
	if resp["error"] == "" {
		t.Errorf("expected error field, got %s", rr.Body.String())
	}
	return resp["error"]
}

func TestScoreEndpoint(t *testing.T) {
	t.Run("FraudulentJSON", func(t *testing.T) {
		server := createTestServer(Dependencies{Scorer: newScorer(t, &stubModel{p: 0.912})})

		rr := post(server, "/score", "application/json", encodeJSON(t, fraudMessage), "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !resp.FraudDetected {
			t.Error("expected fraud_detected true")
		}
		if resp.RiskScore != "91.2%" {
			t.Errorf("expected risk_score 91.2%%, got %s", resp.RiskScore)
		}
		if resp.Message != domain.MessageSuspicious {
			t.Errorf("expected message %q, got %q", domain.MessageSuspicious, resp.Message)
		}
		if resp.ScoreID == "" {
			t.Error("expected scoreId")
		}
	})

	t.Run("SafeXML", func(t *testing.T) {
		server := createTestServer(Dependencies{Scorer: newScorer(t, &stubModel{p: 0.03})})

		raw, err := parser.EncodeXML(fraudMessage)
		if err != nil {
			t.Fatalf("EncodeXML failed: %v", err)
		}
		rr := post(server, "/score", "application/xml", raw, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.FraudDetected {
			t.Error("expected fraud_detected false")
		}
		if resp.RiskScore != "3.0%" {
			t.Errorf("expected risk_score 3.0%%, got %s", resp.RiskScore)
		}
		if resp.Message != domain.MessageSafe {
			t.Errorf("expected message %q, got %q", domain.MessageSafe, resp.Message)
		}
	})

	t.Run("XMLSentAsJSON", func(t *testing.T) {
		server := createTestServer(Dependencies{Scorer: newScorer(t, &stubModel{p: 0.5})})

		raw, _ := parser.EncodeXML(fraudMessage)
		rr := post(server, "/score", "application/json", raw, "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		decodeError(t, rr)
	})

	t.Run("MalformedMessage", func(t *testing.T) {
		model := &stubModel{p: 0.5}
		server := createTestServer(Dependencies{Scorer: newScorer(t, model)})

		rr := post(server, "/score", "application/json", []byte(`{"PmtInf": {}}`), "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		decodeError(t, rr)
		if model.calls.Load() != 0 {
			t.Error("expected model not to be called for malformed input")
		}
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		server := createTestServer(Dependencies{Scorer: newScorer(t, &stubModel{p: 0.5})})

		rr := post(server, "/score", "application/json", encodeJSON(t, badAmountMessage), "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if msg := decodeError(t, rr); !strings.Contains(msg, "invalid amount") {
			t.Errorf("expected invalid amount error, got %q", msg)
		}
	})

	t.Run("OutOfRangeProbability", func(t *testing.T) {
		server := createTestServer(Dependencies{Scorer: newScorer(t, &stubModel{p: 1.5})})

		rr := post(server, "/score", "application/json", encodeJSON(t, fraudMessage), "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		decodeError(t, rr)
	})

	t.Run("ModelFailure", func(t *testing.T) {
		server := createTestServer(Dependencies{Scorer: newScorer(t, &stubModel{err: errors.New("connection refused")})})

		rr := post(server, "/score", "application/json", encodeJSON(t, fraudMessage), "")
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("expected status 502, got %d", rr.Code)
		}
		decodeError(t, rr)
	})

	t.Run("ModelFailureHidesBackend", func(t *testing.T) {
		backend := httptest.NewServer(http.NotFoundHandler())
		modelURL := backend.URL + "/v1/models/internal-fraud:predict"
		backend.Close()

		model, err := inference.NewHTTPModel(modelURL, time.Second)
		if err != nil {
			t.Fatalf("NewHTTPModel failed: %v", err)
		}
		extractor, err := features.NewExtractor(domain.DefaultFeatureConfig())
		if err != nil {
			t.Fatalf("NewExtractor failed: %v", err)
		}
		scorer, err := pipeline.NewScorer(extractor, defaultParams(t), model)
		if err != nil {
			t.Fatalf("NewScorer failed: %v", err)
		}
		server := createTestServer(Dependencies{Scorer: scorer})

		rr := post(server, "/score", "application/json", encodeJSON(t, fraudMessage), "")
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("expected status 502, got %d", rr.Code)
		}
		if msg := decodeError(t, rr); msg != "model unavailable" {
			t.Errorf("expected error %q, got %q", "model unavailable", msg)
		}
		if strings.Contains(rr.Body.String(), strings.TrimPrefix(backend.URL, "http://")) {
			t.Errorf("expected backend address to stay out of the response, got %s", rr.Body.String())
		}
	})

	t.Run("MisconfiguredModel", func(t *testing.T) {
		model, err := inference.NewLogisticModel([]float64{0.1, 0.2, 0.3}, 0)
		if err != nil {
			t.Fatalf("NewLogisticModel failed: %v", err)
		}
		extractor, err := features.NewExtractor(domain.DefaultFeatureConfig())
		if err != nil {
			t.Fatalf("NewExtractor failed: %v", err)
		}
		scorer, err := pipeline.NewScorer(extractor, defaultParams(t), model)
		if err != nil {
			t.Fatalf("NewScorer failed: %v", err)
		}
		server := createTestServer(Dependencies{Scorer: scorer})

		rr := post(server, "/score", "application/json", encodeJSON(t, fraudMessage), "")
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("expected status 502, got %d", rr.Code)
		}
	})

	t.Run("BodyTooLarge", func(t *testing.T) {
		server := createTestServer(Dependencies{Scorer: newScorer(t, &stubModel{p: 0.5})})

		rr := post(server, "/score", "application/json", bytes.Repeat([]byte("a"), 10000), "")
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected status 413, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		server := createTestServer(Dependencies{Scorer: newScorer(t, &stubModel{p: 0.5})})

		rr := post(server, "/score", "application/json", encodeJSON(t, fraudMessage), "tenant-001")
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestScoreCache(t *testing.T) {
	model := &stubModel{p: 0.8}
	server := createTestServer(Dependencies{
		Scorer: newScorer(t, model),
		Cache:  cache.NewLRUCache(100),
	})
	body := encodeJSON(t, fraudMessage)

	var first, second, other ScoreResponse
	json.Unmarshal(post(server, "/score", "application/json", body, "tenant-001").Body.Bytes(), &first)
	json.Unmarshal(post(server, "/score", "application/json", body, "tenant-001").Body.Bytes(), &second)

	if model.calls.Load() != 1 {
		t.Errorf("expected 1 model call, got %d", model.calls.Load())
	}
	if first.ScoreID == "" || first.ScoreID != second.ScoreID {
		t.Errorf("expected cached scoreId %q, got %q", first.ScoreID, second.ScoreID)
	}
	if second.RiskScore != "80.0%" {
		t.Errorf("expected cached risk_score 80.0%%, got %s", second.RiskScore)
	}

	// Tenants never share cached verdicts
	json.Unmarshal(post(server, "/score", "application/json", body, "tenant-002").Body.Bytes(), &other)
	if model.calls.Load() != 2 {
		t.Errorf("expected 2 model calls, got %d", model.calls.Load())
	}
	if other.ScoreID == first.ScoreID {
		t.Error("expected a fresh score for another tenant")
	}
}

// reloadingCache swaps the scorer parameters right after the first lookup,
// as a concurrent POST /normalizer/reload would.
type reloadingCache struct {
	*cache.LRUCache
	scorer *pipeline.Scorer
	next   *domain.NormalizationParams
	once   sync.Once
}

func (c *reloadingCache) GetScore(ctx context.Context, tenantID string, key string) (*domain.Score, error) {
	score, err := c.LRUCache.GetScore(ctx, tenantID, key)
	c.once.Do(func() { c.scorer.SetParams(c.next) })
	return score, err
}

func TestScoreCacheFollowsReload(t *testing.T) {
	scorer := newScorer(t, &stubModel{p: 0.8})
	before := scorer.Params()
	after := fitParams(t, []domain.FeatureVector{
		{9000, 1, 0, 1, 1},
		{100, 0, 0, 0, 0},
		{3000, 0, 1, 0, 0},
	})
	lru := cache.NewLRUCache(100)
	server := createTestServer(Dependencies{
		Scorer: scorer,
		Cache:  &reloadingCache{LRUCache: lru, scorer: scorer, next: after},
	})
	body := encodeJSON(t, fraudMessage)

	rr := post(server, "/score", "application/json", body, "tenant-001")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	ctx := context.Background()
	stale, _ := lru.GetScore(ctx, "tenant-001", cache.ScoreKey(body, before.Version))
	if stale != nil {
		t.Error("expected no verdict under the replaced normalizer version")
	}
	fresh, _ := lru.GetScore(ctx, "tenant-001", cache.ScoreKey(body, after.Version))
	if fresh == nil {
		t.Fatal("expected verdict cached under the normalizer version that produced it")
	}
	if fresh.NormalizerVersion != after.Version {
		t.Errorf("expected normalizer version %s, got %s", after.Version, fresh.NormalizerVersion)
	}
}

func TestRetrievalEndpoints(t *testing.T) {
	repo := newTestRepository(t)
	server := createTestServer(Dependencies{
		Scorer: newScorer(t, &stubModel{p: 0.7}),
		Repo:   repo,
	})

	rr := post(server, "/score", "application/json", encodeJSON(t, fraudMessage), "tenant-001")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var scored ScoreResponse
	json.Unmarshal(rr.Body.Bytes(), &scored)

	t.Run("GetScore", func(t *testing.T) {
		rr := get(server, "/scores/"+scored.ScoreID, "tenant-001")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var score domain.Score
		if err := json.Unmarshal(rr.Body.Bytes(), &score); err != nil {
			t.Fatalf("failed to parse score: %v", err)
		}
		if score.MessageID != scored.MessageID {
			t.Errorf("expected messageId %s, got %s", scored.MessageID, score.MessageID)
		}
		if score.Probability != 0.7 {
			t.Errorf("expected probability 0.7, got %v", score.Probability)
		}
		if score.Metadata.ModelType != "stub" {
			t.Errorf("expected model type stub, got %s", score.Metadata.ModelType)
		}
		if len(score.Features) != domain.NumFeatures {
			t.Errorf("expected %d features, got %d", domain.NumFeatures, len(score.Features))
		}
	})

	t.Run("GetMessage", func(t *testing.T) {
		rr := get(server, "/messages/"+scored.MessageID, "tenant-001")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			ID       string                `json:"id"`
			Encoding domain.Encoding       `json:"encoding"`
			Message  domain.PaymentMessage `json:"message"`
			Scores   []domain.Score        `json:"scores"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse message: %v", err)
		}
		if resp.ID != scored.MessageID {
			t.Errorf("expected id %s, got %s", scored.MessageID, resp.ID)
		}
		if resp.Encoding != domain.EncodingJSON {
			t.Errorf("expected json encoding, got %s", resp.Encoding)
		}
		if resp.Message.Debtor.ID != "BlacklistedID1" {
			t.Errorf("expected debtor BlacklistedID1, got %s", resp.Message.Debtor.ID)
		}
		if len(resp.Scores) != 1 || resp.Scores[0].ID != scored.ScoreID {
			t.Errorf("expected score %s attached, got %+v", scored.ScoreID, resp.Scores)
		}
	})

	t.Run("OtherTenant", func(t *testing.T) {
		rr := get(server, "/scores/"+scored.ScoreID, "tenant-002")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if rr := get(server, "/scores/missing", "tenant-001"); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
		if rr := get(server, "/messages/missing", "tenant-001"); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("NoRepository", func(t *testing.T) {
		bare := createTestServer(Dependencies{Scorer: newScorer(t, &stubModel{p: 0.7})})
		if rr := get(bare, "/scores/"+scored.ScoreID, ""); rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestScoreAsyncEndpoint(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	server := createTestServer(Dependencies{
		Scorer: newScorer(t, &stubModel{p: 0.5}),
		Bus:    eventBus,
	})

	queued := make(chan domain.IngestedMessage, 1)
	sub, err := eventBus.Subscribe(context.Background(), domain.DefaultTenant, domain.TopicMessageIngested,
		func(ctx context.Context, msg *domain.Message) error {
			var in domain.IngestedMessage
			if err := json.Unmarshal(msg.Payload, &in); err != nil {
				return err
			}
			queued <- in
			return nil
		})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	t.Run("Queued", func(t *testing.T) {
		raw, _ := parser.EncodeXML(fraudMessage)
		rr := post(server, "/score/async", "text/xml", raw, "")
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "queued" {
			t.Errorf("expected status queued, got %s", resp["status"])
		}

		select {
		case in := <-queued:
			if in.MessageID != resp["messageId"] {
				t.Errorf("expected messageId %s, got %s", resp["messageId"], in.MessageID)
			}
			if in.Encoding != domain.EncodingXML {
				t.Errorf("expected xml encoding, got %s", in.Encoding)
			}
			if !bytes.Equal(in.Raw, raw) {
				t.Error("expected raw bytes to be forwarded unchanged")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("expected message on ingested topic")
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		rr := post(server, "/score/async", "application/json", []byte(`not json`), "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NoBus", func(t *testing.T) {
		bare := createTestServer(Dependencies{Scorer: newScorer(t, &stubModel{p: 0.5})})
		rr := post(bare, "/score/async", "application/json", encodeJSON(t, fraudMessage), "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestNormalizerEndpoints(t *testing.T) {
	replacement := fitParams(t, []domain.FeatureVector{
		{100, 0, 0, 0, 0},
		{900000, 1, 1, 1, 1},
	})

	t.Run("Get", func(t *testing.T) {
		scorer := newScorer(t, &stubModel{p: 0.5})
		server := createTestServer(Dependencies{Scorer: scorer})

		rr := get(server, "/normalizer", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var params domain.NormalizationParams
		json.Unmarshal(rr.Body.Bytes(), &params)
		if params.Version != scorer.Params().Version {
			t.Errorf("expected version %s, got %s", scorer.Params().Version, params.Version)
		}
		if len(params.Mean) != domain.NumFeatures {
			t.Errorf("expected %d means, got %d", domain.NumFeatures, len(params.Mean))
		}
	})

	t.Run("ReloadFromFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "normalizer.json")
		if err := normalize.SaveFile(path, replacement); err != nil {
			t.Fatalf("SaveFile failed: %v", err)
		}

		scorer := newScorer(t, &stubModel{p: 0.5})
		server := createTestServer(Dependencies{Scorer: scorer, NormalizerPath: path})

		rr := post(server, "/normalizer/reload", "application/json", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if scorer.Params().Version != replacement.Version {
			t.Errorf("expected version %s, got %s", replacement.Version, scorer.Params().Version)
		}
	})

	t.Run("ReloadFromRepository", func(t *testing.T) {
		repo := newTestRepository(t)
		if err := repo.SaveNormalizer(context.Background(), replacement); err != nil {
			t.Fatalf("SaveNormalizer failed: %v", err)
		}

		scorer := newScorer(t, &stubModel{p: 0.5})
		server := createTestServer(Dependencies{Scorer: scorer, Repo: repo})

		rr := post(server, "/normalizer/reload", "application/json", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if scorer.Params().Version != replacement.Version {
			t.Errorf("expected version %s, got %s", replacement.Version, scorer.Params().Version)
		}
	})

	t.Run("ReloadEmptyRepository", func(t *testing.T) {
		server := createTestServer(Dependencies{
			Scorer: newScorer(t, &stubModel{p: 0.5}),
			Repo:   newTestRepository(t),
		})

		rr := post(server, "/normalizer/reload", "application/json", nil, "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ReloadRejectsForeignSchema", func(t *testing.T) {
		data, _ := normalize.Marshal(replacement)
		data = bytes.Replace(data, []byte(`"amount_risk"`), []byte(`"velocity"`), 1)
		path := filepath.Join(t.TempDir(), "foreign.json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}

		scorer := newScorer(t, &stubModel{p: 0.5})
		before := scorer.Params().Version
		server := createTestServer(Dependencies{Scorer: scorer, NormalizerPath: path})

		rr := post(server, "/normalizer/reload", "application/json", nil, "")
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rr.Code)
		}
		if scorer.Params().Version != before {
			t.Error("expected active parameters to be kept")
		}
	})

	t.Run("NoSource", func(t *testing.T) {
		server := createTestServer(Dependencies{Scorer: newScorer(t, &stubModel{p: 0.5})})

		rr := post(server, "/normalizer/reload", "application/json", nil, "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(Dependencies{
		Scorer: newScorer(t, &stubModel{p: 0.5}),
		Cache:  cache.NewLRUCache(10),
	})

	t.Run("HealthCheck", func(t *testing.T) {
		rr := get(server, "/health", "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp HealthResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Status != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp.Status)
		}
		if resp.Version != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp.Version)
		}
		if resp.Worker != nil {
			t.Errorf("expected no worker stats, got %+v", resp.Worker)
		}
	})

	t.Run("WorkerStats", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()
		scorer := newScorer(t, &stubModel{p: 0.5})
		w := worker.NewWorker(eventBus, nil, scorer)
		if err := w.Start(worker.Config{TenantIDs: []string{"acme", "globex"}}); err != nil {
			t.Fatalf("worker Start failed: %v", err)
		}
		server := createTestServer(Dependencies{Scorer: scorer, Bus: eventBus, Worker: w})

		var resp HealthResponse
		json.Unmarshal(get(server, "/health", "").Body.Bytes(), &resp)
		if resp.Status != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp.Status)
		}
		if resp.Worker == nil || resp.Worker.SubscriptionCount != 2 {
			t.Fatalf("expected 2 worker subscriptions, got %+v", resp.Worker)
		}

		w.Stop()
		json.Unmarshal(get(server, "/health", "").Body.Bytes(), &resp)
		if resp.Status != "degraded" {
			t.Errorf("expected status 'degraded' once the worker stopped, got '%s'", resp.Status)
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := get(server, "/ready", "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["model"] != "stub" {
			t.Errorf("expected model 'stub', got '%s'", resp["model"])
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		post(server, "/score", "application/json", encodeJSON(t, fraudMessage), "")

		rr := get(server, "/metrics", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "kestrel_scores_total") {
			t.Error("expected kestrel_scores_total in metrics output")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TenantMiddlewareDefaults", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		if capturedTenantID != domain.DefaultTenant {
			t.Errorf("expected tenant ID '%s', got '%s'", domain.DefaultTenant, capturedTenantID)
		}
	})

	t.Run("TenantMiddlewareRejectsMalformedID", func(t *testing.T) {
		called := false
		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TenantIDHeader, "acme.*")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		if called {
			t.Error("expected handler not to run")
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedTraceID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTraceID = GetTraceID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTraceID == "" {
			t.Error("expected trace ID to be set")
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID response header")
		}
		if rr.Header().Get(TraceIDHeader) != capturedTraceID {
			t.Errorf("expected X-Trace-ID %s, got %s", capturedTraceID, rr.Header().Get(TraceIDHeader))
		}
	})

	t.Run("TracingMiddlewareKeepsClientRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) != "req-42" {
			t.Errorf("expected request ID req-42, got %s", rr.Header().Get(RequestIDHeader))
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "internal server error") {
			t.Errorf("expected JSON error body, got %s", rr.Body.String())
		}
	})
}

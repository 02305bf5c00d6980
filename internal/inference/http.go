package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HTTPModel calls a model server speaking the TensorFlow Serving REST
// predict protocol.
type HTTPModel struct {
	url    string
	client *http.Client
}

type predictRequest struct {
	Instances [][]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error,omitempty"`
}

// NewHTTPModel creates a client for the predict endpoint at url.
func NewHTTPModel(url string, timeout time.Duration) (*HTTPModel, error) {
	if url == "" {
		return nil, fmt.Errorf("model url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPModel{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Predict posts one instance and reads the first prediction.
func (m *HTTPModel) Predict(ctx context.Context, vec domain.FeatureVector) (float64, error) {
	body, err := json.Marshal(predictRequest{Instances: [][]float64{vec}})
	if err != nil {
		return 0, fmt.Errorf("failed to encode predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("failed to read model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("model server returned status %d", resp.StatusCode)
	}

	var out predictResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidModelOutput, err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("model server error: %s", out.Error)
	}
	if len(out.Predictions) == 0 {
		return 0, fmt.Errorf("%w: no predictions", domain.ErrInvalidModelOutput)
	}

	p, err := firstNumber(out.Predictions[0])
	if err != nil {
		return 0, err
	}
	return checkOutput(p)
}

// Type returns "http".
func (m *HTTPModel) Type() string {
	return "http"
}

// firstNumber accepts a bare number or a one-element array, the two shapes
// a single-output model produces.
func firstNumber(raw json.RawMessage) (float64, error) {
	var p float64
	if err := json.Unmarshal(raw, &p); err == nil {
		return p, nil
	}

	var arr []float64
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) == 0 {
		return 0, fmt.Errorf("%w: prediction %s is not numeric", domain.ErrInvalidModelOutput, raw)
	}
	return arr[0], nil
}

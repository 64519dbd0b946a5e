// Package inference is an embedding client for hosted model endpoints that take
// {"key": text} and answer {"predictions": [[...]]}.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/metrics"
)

const maxErrorBody = 4 << 10

// Config holds endpoint settings.
type Config struct {
	URL        string
	APIKey     string
	Model      string
	Provider   string
	HTTPClient *http.Client
}

// Client calls an inference endpoint.
type Client struct {
	url      string
	apiKey   string
	model    string
	provider string
	client   *http.Client
}

// New creates an inference client. Without an explicit HTTP client, requests go through
// an otelhttp transport so the trace context reaches the endpoint.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "inference"
	}
	return &Client{url: cfg.URL, apiKey: cfg.APIKey, model: cfg.Model, provider: provider, client: hc}
}

type request struct {
	Key string `json:"key"`
}

type response struct {
	Predictions [][]float32 `json:"predictions"`
}

// Embed implements domain.Embedder.
func (c *Client) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	start := time.Now()
	vec, err := c.invoke(ctx, text)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(c.provider, c.model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(c.provider, c.model, "api_error").Inc()
		return domain.EmbeddingResult{}, err
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(c.provider, c.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(c.provider, c.model).Observe(time.Since(start).Seconds())
	return domain.EmbeddingResult{Embedding: vec}, nil
}

func (c *Client) invoke(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(request{Key: text})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("do request: %w: %w", err, domain.ErrEmbeddingServiceUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("inference endpoint: status %d: %s: %w",
			resp.StatusCode, bytes.TrimSpace(msg), domain.ErrEmbeddingServiceUnavailable)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w: %w", err, domain.ErrEmbeddingServiceUnavailable)
	}
	if len(out.Predictions) == 0 || len(out.Predictions[0]) == 0 {
		return nil, fmt.Errorf("inference endpoint: empty predictions: %w", domain.ErrEmbeddingServiceUnavailable)
	}
	return out.Predictions[0], nil
}

// HealthCheck embeds a probe string.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.invoke(ctx, "ping"); err != nil {
		return fmt.Errorf("inference health: %w", err)
	}
	return nil
}

// Package extraction holds the text extraction adapters: an HTTP client for the
// extraction service and a local decoder for plain text.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kailas-cloud/docsearch/internal/domain"
)

const maxErrorBody = 4 << 10

// Client calls a remote text extraction service.
// The raw document is POSTed as the request body; the service answers
// {"text": "...", "fields": {"name": "value"}}.
type Client struct {
	url    string
	apiKey string
	client *http.Client
}

// NewClient creates an extraction service client.
func NewClient(url, apiKey string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{url: strings.TrimRight(url, "/"), apiKey: apiKey, client: hc}
}

type response struct {
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields"`
}

// Extract implements domain.Extractor.
func (c *Client) Extract(ctx context.Context, doc domain.SourceDocument) (domain.Extraction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/extract", bytes.NewReader(doc.Body))
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("new request: %w", err)
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Object-Key", doc.Key)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return domain.Extraction{}, ctx.Err()
		}
		return domain.Extraction{}, fmt.Errorf("do request: %w: %w", err, domain.ErrExtractionUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.Extraction{}, statusError(resp.StatusCode, string(bytes.TrimSpace(msg)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Extraction{}, fmt.Errorf("decode: %w: %w", err, domain.ErrExtractionUnavailable)
	}
	return domain.Extraction{Text: out.Text, Fields: out.Fields}, nil
}

// statusError maps extraction service statuses onto pipeline error classes.
func statusError(status int, msg string) error {
	var class error
	switch {
	case status == http.StatusTooManyRequests:
		class = domain.ErrQuotaExceeded
	case status == http.StatusBadRequest,
		status == http.StatusUnsupportedMediaType,
		status == http.StatusUnprocessableEntity,
		status == http.StatusRequestEntityTooLarge:
		class = domain.ErrExtractionFailed
	default:
		class = domain.ErrExtractionUnavailable
	}
	return fmt.Errorf("extraction service: status %d: %s: %w", status, msg, class)
}

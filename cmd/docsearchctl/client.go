package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiClient talks to the docsearch HTTP API.
type apiClient struct {
	base       string
	apiKey     string
	department string
	hc         *http.Client
}

func newAPIClient(base, apiKey, department string, timeout time.Duration) *apiClient {
	return &apiClient{
		base:       strings.TrimRight(base, "/"),
		apiKey:     apiKey,
		department: department,
		hc:         &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

type hit struct {
	DocumentID    string  `json:"documentId"`
	Text          string  `json:"text"`
	DepartmentTag string  `json:"departmentTag"`
	Score         float64 `json:"score"`
}

type searchResult struct {
	Hits      []hit `json:"hits"`
	IndexSize int   `json:"index_size"`
}

type objectInfo struct {
	Bucket      string            `json:"bucket"`
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
	Tags        map[string]string `json:"tags"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (c *apiClient) Search(ctx context.Context, query string) (searchResult, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return searchResult{}, fmt.Errorf("marshal query: %w", err)
	}
	var res searchResult
	err = c.do(ctx, http.MethodPost, "/search", "application/json", bytes.NewReader(body), &res)
	return res, err
}

func (c *apiClient) Upload(ctx context.Context, key, contentType string, body io.Reader) (objectInfo, error) {
	var info objectInfo
	err := c.do(ctx, http.MethodPut, "/objects/"+escapeKey(key), contentType, body, &info)
	return info, err
}

func (c *apiClient) List(ctx context.Context, prefix string) ([]objectInfo, error) {
	var res struct {
		Items []objectInfo `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "/objects?prefix="+url.QueryEscape(prefix), "", nil, &res)
	return res.Items, err
}

func (c *apiClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.department != "" {
		req.Header.Set("X-Department", c.department)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// escapeKey escapes each path segment, keeping the slashes of the object key.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Package vision calls the hosted document-understanding service that turns
// invoice images and PDFs into a flat set of labelled fields. Every call is
// billable, so callers must consult quota before reaching for this tier.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrTransient covers timeouts, throttling and server-side failures.
	// The attempt may succeed if replayed later.
	ErrTransient = errors.New("vision_transient")
	// ErrPermanent covers rejections the service will repeat for the same
	// payload. Retrying burns quota for nothing.
	ErrPermanent = errors.New("vision_permanent")
)

// Config describes the extraction service endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "invoice-v2"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// Client is a thin HTTP client for the extraction endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Document is one binary payload submitted for extraction.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

type extractRequest struct {
	Model     string            `json:"model"`
	Documents []requestDocument `json:"documents"`
}

type requestDocument struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

type extractResponse struct {
	Fields map[string]string `json:"fields"`
	Error  string            `json:"error,omitempty"`
}

// Extract submits the documents and returns the service's labelled fields.
func (c *Client) Extract(ctx context.Context, docs []Document) (map[string]string, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents to submit", ErrPermanent)
	}

	payload := extractRequest{Model: c.cfg.Model}
	for _, doc := range docs {
		payload.Documents = append(payload.Documents, requestDocument{
			Filename:    doc.Filename,
			ContentType: doc.ContentType,
			Content:     base64.StdEncoding.EncodeToString(doc.Data),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return nil, err
	}

	var out extractResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrTransient, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrPermanent, out.Error)
	}
	return out.Fields, nil
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, status, truncate(body))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrPermanent, status, truncate(body))
	}
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		body = body[:max]
	}
	return string(bytes.TrimSpace(body))
}

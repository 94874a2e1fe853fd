package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// ErrNotConfigured is returned when the endpoint URL is empty.
var ErrNotConfigured = errors.New("endpoint not configured")

// StatusError is a non-2xx reply from an endpoint.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: server responded with %d", e.URL, e.Status)
	}
	return fmt.Sprintf("%s: server responded with %d: %s", e.URL, e.Status, e.Body)
}

// client posts JSON documents to one endpoint.
type client struct {
	url    string
	hc     *http.Client
	logger *zap.Logger
}

func newClient(url string, logger *zap.Logger) client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return client{
		url:    url,
		hc:     &http.Client{Timeout: defaultTimeout},
		logger: logger,
	}
}

func (c client) post(ctx context.Context, v any) error {
	if c.url == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: c.url, Status: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("posted", zap.String("url", c.url), zap.Int("bytes", len(body)), zap.Int("status", resp.StatusCode))
	return nil
}

// Package webhook publishes run completion events as JSON over HTTP
// POST, retrying 5xx responses and network errors with exponential
// backoff. 4xx responses fail immediately: the payload or endpoint is
// wrong and a retry cannot fix it.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quarrio/quarry/iox"
	"github.com/quarrio/quarry/notify"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the retry count used when none is configured.
const DefaultRetries = 3

// Config configures the webhook adapter.
type Config struct {
	// URL is the endpoint to POST to. Required.
	URL string
	// Headers are added to every request.
	Headers map[string]string
	// Timeout overrides DefaultTimeout.
	Timeout time.Duration
	// Retries is the retry count after the initial attempt.
	Retries int
}

// Adapter publishes run completion events via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
}

// New builds an adapter; the URL must be present.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// StatusError is returned for non-2xx responses; carrying the code
// lets the retry loop tell retriable 5xx from terminal 4xx.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func isClientError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500
}

// Publish POSTs the event as JSON, retrying with backoff.
func (a *Adapter) Publish(ctx context.Context, event *notify.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	err = notify.Retry(ctx, a.config.Retries, isClientError, func(ctx context.Context) error {
		return a.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// post performs one POST and returns nil on any 2xx.
func (a *Adapter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close drops idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ notify.Adapter = (*Adapter)(nil)

// Package redis publishes run completion events as JSON over Redis
// pub/sub, retrying transient failures with exponential backoff.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quarrio/quarry/notify"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "quarry:run_completed"

// DefaultTimeout bounds a single PUBLISH.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the retry count used when none is configured.
const DefaultRetries = 3

// Config configures the Redis adapter.
type Config struct {
	// URL is the connection URL, redis://[:password@]host:port[/db].
	// Required.
	URL string
	// Channel overrides DefaultChannel.
	Channel string
	// Timeout overrides DefaultTimeout.
	Timeout time.Duration
	// Retries is the retry count after the initial attempt.
	Retries int
}

// Adapter publishes run completion events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New builds an adapter; the URL must be present and parseable.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish PUBLISHes the event as JSON, retrying with backoff. Every
// Redis error is treated as transient.
func (a *Adapter) Publish(ctx context.Context, event *notify.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	err = notify.Retry(ctx, a.config.Retries, nil, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.client.Publish(publishCtx, a.config.Channel, body).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close releases the client's connections.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ notify.Adapter = (*Adapter)(nil)

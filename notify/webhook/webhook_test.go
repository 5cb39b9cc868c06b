package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quarrio/quarry/iox"
	"github.com/quarrio/quarry/notify"
)

func sampleEvent() *notify.RunCompletedEvent {
	return &notify.RunCompletedEvent{
		ContractVersion: "0.4.0",
		EventType:       "run_completed",
		RunID:           "run-001",
		Source:          "test-source",
		Category:        "default",
		Day:             "2026-02-07",
		Outcome:         "success",
		StoragePath:     "file:///data/source=test-source/category=default/day=2026-02-07/run_id=run-001",
		Timestamp:       "2026-02-07T12:00:00Z",
		Attempt:         1,
		EventCount:      42,
		DurationMs:      1500,
	}
}

func newAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(iox.CloseFunc(a))
	return a
}

func TestPublishPostsJSON(t *testing.T) {
	var got notify.RunCompletedEvent
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := newAdapter(t, Config{URL: ts.URL})
	if err := a.Publish(t.Context(), sampleEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got.RunID != "run-001" || got.EventType != "run_completed" || got.Outcome != "success" {
		t.Errorf("posted event = %+v", got)
	}
}

func TestPublishSendsConfiguredHeaders(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := newAdapter(t, Config{
		URL:     ts.URL,
		Headers: map[string]string{"Authorization": "Bearer test-token"},
	})
	if err := a.Publish(t.Context(), sampleEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if auth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want Bearer test-token", auth)
	}
}

func TestPublishRecoversAfterRetries(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := newAdapter(t, Config{URL: ts.URL, Retries: 3, Timeout: 5 * time.Second})
	if err := a.Publish(t.Context(), sampleEvent()); err != nil {
		t.Fatalf("Publish after transient 500s: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestPublishExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := newAdapter(t, Config{URL: ts.URL, Retries: 2, Timeout: 5 * time.Second})
	if err := a.Publish(t.Context(), sampleEvent()); err == nil {
		t.Fatal("Publish succeeded against a permanently failing server")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (1 initial + 2 retries)", got)
	}
}

func TestPublishHonorsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(5 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := newAdapter(t, Config{URL: ts.URL, Timeout: 10 * time.Second})

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	if err := a.Publish(ctx, sampleEvent()); err == nil {
		t.Fatal("Publish outlived its canceled context without error")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New accepted an empty URL")
	}
	if _, err := New(Config{URL: "http://example.com", Retries: -1}); err == nil {
		t.Error("New accepted negative retries")
	}

	a, err := New(Config{URL: "http://example.com", Retries: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.config.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want default %v", a.config.Timeout, DefaultTimeout)
	}
	if a.config.Retries != 5 {
		t.Errorf("Retries = %d, want 5", a.config.Retries)
	}
}

func TestPublishAccepts2xx(t *testing.T) {
	for _, code := range []int{200, 201, 202, 204} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(code)
			}))
			defer ts.Close()

			a := newAdapter(t, Config{URL: ts.URL})
			if err := a.Publish(t.Context(), sampleEvent()); err != nil {
				t.Fatalf("Publish with status %d: %v", code, err)
			}
		})
	}
}

func TestPublish4xxDoesNotRetry(t *testing.T) {
	for _, code := range []int{400, 401, 403, 404} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			var attempts atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				attempts.Add(1)
				w.WriteHeader(code)
			}))
			defer ts.Close()

			a := newAdapter(t, Config{URL: ts.URL, Retries: 3})
			if err := a.Publish(t.Context(), sampleEvent()); err == nil {
				t.Fatalf("Publish with status %d succeeded", code)
			}
			if got := attempts.Load(); got != 1 {
				t.Errorf("attempts = %d for %d, want 1 (no retry on 4xx)", got, code)
			}
		})
	}
}

func TestPublish5xxRetriesThenFails(t *testing.T) {
	for _, code := range []int{500, 502, 503} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			var attempts atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				attempts.Add(1)
				w.WriteHeader(code)
			}))
			defer ts.Close()

			a := newAdapter(t, Config{URL: ts.URL, Retries: 2, Timeout: 5 * time.Second})
			if err := a.Publish(t.Context(), sampleEvent()); err == nil {
				t.Fatalf("Publish with status %d succeeded", code)
			}
			if got := attempts.Load(); got != 3 {
				t.Errorf("attempts = %d for %d, want 3", got, code)
			}
		})
	}
}

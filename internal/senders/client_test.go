package senders

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tenderwatch/internal/types"
)

func noopSleep(time.Duration) {}

func newTestBaseClient(policy HTTPRetryPolicy) *BaseClient {
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-client",
		policy,
		WithSleepFunc(noopSleep),
	)
}

func noRetryPolicy() HTTPRetryPolicy {
	return HTTPRetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"ok":true}`)
	}))
	defer server.Close()

	client := newTestBaseClient(noRetryPolicy())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDo_InjectsTraceID(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Request-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(noRetryPolicy())
	ctx := types.WithRequestID(context.Background(), "req_trace_1")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if gotHeader != "req_trace_1" {
		t.Errorf("expected trace header req_trace_1, got %q", gotHeader)
	}
}

func TestDo_RetriesOn500ThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(HTTPRetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond})
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestDo_ExhaustedRetriesOn429MapsToRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestBaseClient(HTTPRetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond})
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	_, err := client.Do(req)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamRateLimit {
		t.Errorf("expected rate limit code, got %v", err)
	}
}

func TestDo_4xxNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestBaseClient(HTTPRetryPolicy{MaxRetries: 3, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond})
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	// 4xx (other than 429) is a success for the transport layer; the caller
	// interprets the status.
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 passed through, got %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestDo_PostBodyPreservedAcrossRetries(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestBaseClient(HTTPRetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond})
	req, _ := http.NewRequest(http.MethodPost, server.URL, bytes.NewReader([]byte(`{"job":"job_1"}`)))

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if len(bodies) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(bodies))
	}
	for i, body := range bodies {
		if body != `{"job":"job_1"}` {
			t.Errorf("attempt %d: body not replayed, got %q", i+1, body)
		}
	}
}

func TestDo_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestBaseClient(HTTPRetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond})

	// Breaker trips after more than five consecutive failures.
	for i := 0; i < 7; i++ {
		req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
		client.Do(req)
	}

	before := atomic.LoadInt32(&calls)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, err := client.Do(req)

	if err == nil {
		t.Fatal("expected open-breaker error")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamProvider {
		t.Errorf("expected upstream provider code, got %v", err)
	}
	if atomic.LoadInt32(&calls) != before {
		t.Error("open breaker must not let the request through")
	}
}

func TestBackoff_HonorsRetryAfter(t *testing.T) {
	client := newTestBaseClient(HTTPRetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: 10 * time.Second})

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"3"}}}
	if got := client.backoff(0, resp); got != 3*time.Second {
		t.Errorf("expected 3s from Retry-After, got %v", got)
	}
}

func TestBackoff_RetryAfterCappedByMaxWait(t *testing.T) {
	client := newTestBaseClient(HTTPRetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: 2 * time.Second})

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"60"}}}
	if got := client.backoff(0, resp); got != 2*time.Second {
		t.Errorf("expected MaxWait cap 2s, got %v", got)
	}
}

func TestBackoff_JitteredWithinBounds(t *testing.T) {
	client := newTestBaseClient(HTTPRetryPolicy{MaxRetries: 3, MinWait: 100 * time.Millisecond, MaxWait: time.Second})

	for attempt := 0; attempt < 4; attempt++ {
		got := client.backoff(attempt, nil)
		if got < 100*time.Millisecond || got > time.Second {
			t.Errorf("attempt %d: backoff %v out of [100ms, 1s]", attempt, got)
		}
	}
}

func TestDefaultHTTPRetryPolicy(t *testing.T) {
	policy := DefaultHTTPRetryPolicy()
	if policy.MaxRetries != 2 {
		t.Errorf("expected 2 retries, got %d", policy.MaxRetries)
	}
	if policy.MinWait != 500*time.Millisecond || policy.MaxWait != 5*time.Second {
		t.Errorf("unexpected wait bounds: %v / %v", policy.MinWait, policy.MaxWait)
	}
}

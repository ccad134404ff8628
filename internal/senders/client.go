// Package senders is the anti-corruption layer between the delivery queue
// and outbound providers. All provider HTTP calls go through BaseClient,
// which enforces circuit breaking, bounded retries with jitter, and error
// mapping, so the dispatcher only ever sees the queue's own error taxonomy.
package senders

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"tenderwatch/internal/types"
)

// HTTPRetryPolicy configures the retry behavior for provider calls.
type HTTPRetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultHTTPRetryPolicy returns sensible defaults for provider API calls.
func DefaultHTTPRetryPolicy() HTTPRetryPolicy {
	return HTTPRetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// BaseClient wraps an *http.Client and a circuit breaker so that every
// provider client inherits the same resilience behavior.
type BaseClient struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	policy  HTTPRetryPolicy
	sleepFn func(time.Duration) // injectable for tests
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the sleep function used between retries. Intended
// for tests to avoid real delays.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// NewBaseClient creates a BaseClient with its own circuit breaker. The
// breaker opens after five consecutive failures and probes again after 30s.
func NewBaseClient(httpClient *http.Client, breakerName string, policy HTTPRetryPolicy, opts ...BaseClientOption) *BaseClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	bc := &BaseClient{
		client:  httpClient,
		breaker: cb,
		policy:  policy,
		sleepFn: time.Sleep,
	}

	for _, opt := range opts {
		opt(bc)
	}

	return bc
}

// Do executes the request through the circuit breaker, retrying on 429 and
// 5xx with jittered exponential backoff (honoring Retry-After). Trace IDs
// from the request context are propagated upstream.
//
// On success (any status below 500 except 429) the response is returned
// as-is and the caller owns the body. Exhausted retries and an open breaker
// map to upstream AppError codes.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-Request-Id", traceID)
	}

	// Snapshot the body so retries can replay it.
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
	}

	var lastResp *http.Response
	var lastErr error

	attempts := 1 + c.policy.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			// 5xx and 429 count as failures for the breaker.
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if resp != nil {
			if attempt < attempts-1 {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		// An open breaker will not close within our retry window.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}

		if attempt < attempts-1 {
			c.sleepFn(c.backoff(attempt, resp))
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}

	return nil, c.mapError(lastResp, lastErr)
}

// backoff computes the wait before the next attempt: Retry-After when the
// provider sent one, otherwise exponential growth from MinWait with full
// jitter, clamped to MaxWait.
func (c *BaseClient) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
				return minDuration(time.Duration(seconds)*time.Second, c.policy.MaxWait)
			}
		}
	}

	ceil := float64(c.policy.MinWait) * math.Pow(2, float64(attempt))
	if max := float64(c.policy.MaxWait); ceil > max {
		ceil = max
	}

	floor := float64(c.policy.MinWait)
	if ceil <= floor {
		return c.policy.MinWait
	}
	return time.Duration(floor + rand.Float64()*(ceil-floor))
}

// mapError translates transport-level failures into the queue's taxonomy.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamProvider, "circuit breaker open; provider unavailable", err)
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(types.ErrCodeUpstreamRateLimit, "provider rate limit exceeded", err)
		case resp.StatusCode >= 500:
			return types.NewAppError(types.ErrCodeUpstreamProvider,
				fmt.Sprintf("provider returned %d after retries", resp.StatusCode), err)
		}
	}

	return types.NewAppError(types.ErrCodeUpstreamProvider, "provider request failed", err)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

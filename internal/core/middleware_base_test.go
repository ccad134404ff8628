package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tenderwatch/internal/types"
)

func TestRecoverer_CatchesPanic(t *testing.T) {
	srv := newTestServer(t, "")
	handler := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/queue/jobs", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req_panic"))
	handler.ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Result().StatusCode)
	}

	var errResp APIErrorResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&errResp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if errResp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("expected code %s, got %s", types.ErrCodeInternalUnexpected, errResp.Error.Code)
	}
	if errResp.Error.RequestID != "req_panic" {
		t.Errorf("expected request ID req_panic, got %q", errResp.Error.RequestID)
	}
}

func TestRequestLogger_RedactsSensitiveHeaders(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger, []string{"X-Api-Key"})(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil)
	r.Header.Set("X-Api-Key", "secret-admin-key")
	handler.ServeHTTP(w, r)

	out := buf.String()
	if strings.Contains(out, "secret-admin-key") {
		t.Errorf("admin key leaked into log: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in log: %s", out)
	}
}

func TestRequestLogger_LogsStatusAndPath(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/queue/jobs/job_missing", nil)
	handler.ServeHTTP(w, r)

	out := buf.String()
	if !strings.Contains(out, `"status":404`) {
		t.Errorf("expected status 404 in log: %s", out)
	}
	if !strings.Contains(out, "/v1/queue/jobs/job_missing") {
		t.Errorf("expected path in log: %s", out)
	}
	// 4xx logs at warn level.
	if !strings.Contains(out, `"level":"WARN"`) {
		t.Errorf("expected WARN level for 4xx: %s", out)
	}
}

type captureMetrics struct {
	method, endpoint, status string
	duration                 time.Duration
	calls                    int
}

func (c *captureMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	c.method, c.endpoint, c.status, c.duration = method, endpoint, status, duration
	c.calls++
}

func TestMetricsMiddleware_RecordsRequest(t *testing.T) {
	srv := newTestServer(t, "")
	metrics := &captureMetrics{}
	srv.Metrics = metrics

	handler := srv.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/queue/jobs", nil)
	handler.ServeHTTP(w, r)

	if metrics.calls != 1 {
		t.Fatalf("expected 1 recorded request, got %d", metrics.calls)
	}
	if metrics.method != http.MethodPost || metrics.status != "202" {
		t.Errorf("unexpected metrics: %+v", metrics)
	}
}

func TestMetricsMiddleware_NilCollectorPassesThrough(t *testing.T) {
	srv := newTestServer(t, "")
	handler := srv.MetricsMiddleware(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Result().StatusCode)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, "")
	handler := srv.SecurityHeadersMiddleware(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	headers := w.Result().Header
	if headers.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if headers.Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options")
	}
}

func TestCORS_PreflightAllowedOrigin(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.tenderwatch.io"})(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodOptions, "/v1/queue/jobs", nil)
	r.Header.Set("Origin", "https://app.tenderwatch.io")
	handler.ServeHTTP(w, r)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.tenderwatch.io" {
		t.Errorf("unexpected allow-origin: %q", got)
	}
	if resp.Header.Get("Vary") != "Origin" {
		t.Error("expected Vary: Origin for non-wildcard origin")
	}
}

func TestCORS_DisallowedOriginGetsNoHeaders(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.tenderwatch.io"})(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/queue/jobs", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	handler.ServeHTTP(w, r)

	if got := w.Result().Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS headers for disallowed origin, got %q", got)
	}
}

func TestCORS_Wildcard(t *testing.T) {
	handler := NewCORSMiddleware([]string{"*"})(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/queue/jobs", nil)
	r.Header.Set("Origin", "https://anything.example.com")
	handler.ServeHTTP(w, r)

	if got := w.Result().Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard allow-origin, got %q", got)
	}
}

func TestStatusWriter_DefaultsTo200OnWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}

	sw.Write([]byte("ok"))

	if sw.status != http.StatusOK {
		t.Errorf("expected implicit 200, got %d", sw.status)
	}
}

func TestStatusWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}

	sw.WriteHeader(http.StatusTeapot)
	sw.WriteHeader(http.StatusOK)

	if sw.status != http.StatusTeapot {
		t.Errorf("expected first status 418 to win, got %d", sw.status)
	}
}

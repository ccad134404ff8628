package core

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"tenderwatch/internal/config"
	"tenderwatch/internal/types"
)

func newTestServer(t *testing.T, adminKey string) *Server {
	t.Helper()

	cfg := &config.Config{
		Environment: "local",
		Service:     "tenderwatch-queue",
	}
	cfg.Security.AdminAPIKey = config.SecretString(adminKey)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdminKey_MissingHeader(t *testing.T) {
	srv := newTestServer(t, "secret-admin-key")
	handler := srv.AdminKeyMiddleware(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil)
	handler.ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Result().StatusCode)
	}

	var errResp APIErrorResponse
	json.NewDecoder(w.Result().Body).Decode(&errResp)
	if errResp.Error.Code != string(types.ErrCodeAuthKeyMissing) {
		t.Errorf("expected code %s, got %s", types.ErrCodeAuthKeyMissing, errResp.Error.Code)
	}
}

func TestAdminKey_InvalidKey(t *testing.T) {
	srv := newTestServer(t, "secret-admin-key")
	handler := srv.AdminKeyMiddleware(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil)
	r.Header.Set("X-Api-Key", "wrong-key")
	handler.ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Result().StatusCode)
	}

	var errResp APIErrorResponse
	json.NewDecoder(w.Result().Body).Decode(&errResp)
	if errResp.Error.Code != string(types.ErrCodeAuthKeyInvalid) {
		t.Errorf("expected code %s, got %s", types.ErrCodeAuthKeyInvalid, errResp.Error.Code)
	}
}

func TestAdminKey_ValidKey(t *testing.T) {
	srv := newTestServer(t, "secret-admin-key")
	handler := srv.AdminKeyMiddleware(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil)
	r.Header.Set("X-Api-Key", "secret-admin-key")
	handler.ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Result().StatusCode)
	}
}

func TestAdminKey_HealthExempt(t *testing.T) {
	srv := newTestServer(t, "secret-admin-key")
	handler := srv.AdminKeyMiddleware(okHandler())

	for _, path := range []string{"/health", "/version"} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, path, nil)
		handler.ServeHTTP(w, r)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200 without key, got %d", path, w.Result().StatusCode)
		}
	}
}

func TestAdminKey_NoKeyConfiguredPassesThrough(t *testing.T) {
	srv := newTestServer(t, "")
	handler := srv.AdminKeyMiddleware(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/queue/stats", nil)
	handler.ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("expected pass-through without configured key, got %d", w.Result().StatusCode)
	}
}

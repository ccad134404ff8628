package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"tenderwatch/internal/types"
)

// statusWriter records the status code a downstream handler writes so the
// logging and metrics middleware can report it after the chain returns.
// The first status written wins; net/http treats an implicit write as 200.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.status = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.status = http.StatusOK
		sw.written = true
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// Recoverer turns a panic anywhere in the handler chain into a logged stack
// trace and a structured 500 response. It must sit outermost in the chain.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}

			s.Logger.Error("panic recovered",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("panic", fmt.Sprintf("%v", rvr)),
				slog.String("stack", string(debug.Stack())),
			)

			body := APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeInternalUnexpected),
					Message:   "an unexpected error occurred",
					RequestID: types.GetRequestID(r.Context()),
				},
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = writePanicBody(w, body)
		}()

		next.ServeHTTP(w, r)
	})
}

// RequestLogger emits one structured log line per request with method, path,
// status, duration, and the request headers. Headers named in redactedHeaders
// (matched case-insensitively) have their values masked; the admin API key
// and Authorization headers go through here on every queue operation.
func RequestLogger(logger *slog.Logger, redactedHeaders []string) func(http.Handler) http.Handler {
	redact := make(map[string]struct{}, len(redactedHeaders))
	for _, h := range redactedHeaders {
		redact[strings.ToLower(h)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if reqID := types.GetRequestID(r.Context()); reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}
			if headers := headerAttrs(r.Header, redact); len(headers) > 0 {
				attrs = append(attrs, slog.Group("headers", attrsToArgs(headers)...))
			}

			args := attrsToArgs(attrs)
			switch {
			case sw.status >= 500:
				logger.Error("request completed", args...)
			case sw.status >= 400:
				logger.Warn("request completed", args...)
			default:
				logger.Info("request completed", args...)
			}
		})
	}
}

// headerAttrs flattens request headers into log attributes, masking the
// values of redacted names.
func headerAttrs(header http.Header, redact map[string]struct{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(header))
	for name, values := range header {
		if _, masked := redact[strings.ToLower(name)]; masked {
			attrs = append(attrs, slog.String(name, "[REDACTED]"))
			continue
		}
		attrs = append(attrs, slog.String(name, strings.Join(values, ", ")))
	}
	return attrs
}

func attrsToArgs(attrs []slog.Attr) []any {
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return args
}

// MetricsMiddleware feeds per-request method, path, status, and latency into
// the server's metrics collector. A nil collector makes it a pass-through,
// which is how the test servers run.
func (s *Server) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		s.Metrics.RecordRequest(r.Method, r.URL.Path, strconv.Itoa(sw.status), time.Since(start))
	})
}

// SecurityHeadersMiddleware stamps the standard browser hardening headers on
// every response, including error paths, so it runs early in the chain.
func (s *Server) SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		next.ServeHTTP(w, r)
	})
}

// NewCORSMiddleware answers preflight requests and sets Access-Control
// headers for the configured origins. The dashboard origin list comes from
// SecurityConfig; "*" anywhere in the list allows every origin. Requests
// from origins outside the list get no CORS headers at all.
func NewCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			break
		}
		origins[o] = struct{}{}
	}

	matchOrigin := func(r *http.Request) string {
		if allowAll {
			return "*"
		}
		origin := r.Header.Get("Origin")
		if _, ok := origins[origin]; ok && origin != "" {
			return origin
		}
		return ""
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowed := matchOrigin(r); allowed != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowed)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key, X-Request-ID")
				h.Set("Access-Control-Expose-Headers", "X-Request-ID")
				h.Set("Access-Control-Max-Age", "86400")
				h.Set("Access-Control-Allow-Credentials", "true")
				if allowed != "*" {
					// Caches must not serve one origin's response to another.
					h.Set("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writePanicBody serializes the recovery response by hand. Inside the panic
// handler another panic from json.Marshal would escape the Recoverer, so the
// known field set is formatted directly.
func writePanicBody(w http.ResponseWriter, resp APIErrorResponse) error {
	body := fmt.Sprintf(
		`{"error":{"code":"%s","message":"%s","request_id":"%s"}}`,
		escapeJSONString(resp.Error.Code),
		escapeJSONString(resp.Error.Message),
		escapeJSONString(resp.Error.RequestID),
	)
	_, err := w.Write([]byte(body))
	return err
}

// escapeJSONString escapes the characters that would break a JSON string
// literal. The inputs are error codes and request IDs the service generates
// itself, so full encoder coverage is not needed here.
func escapeJSONString(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return r.Replace(s)
}

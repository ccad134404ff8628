package core

import (
	"crypto/subtle"
	"net/http"

	"tenderwatch/internal/types"
)

// authPublicPaths lists URL paths that are exempt from admin key checks.
// Requests to these paths bypass the AdminKeyMiddleware entirely.
var authPublicPaths = map[string]bool{
	"/health":  true,
	"/version": true,
}

// AdminKeyMiddleware guards the queue API with a shared admin key. The queue
// service sits behind the platform's internal network; the key is a second
// fence, not a user identity system.
//
//  1. Extracts the key from the X-Api-Key header.
//  2. Compares it against the configured admin key in constant time.
//  3. Returns 401 Unauthorized on failure with distinct error codes:
//     - auth_api_key_missing: No X-Api-Key header.
//     - auth_api_key_invalid: Key does not match.
//
// If no admin key is configured (e.g., during tests), the middleware passes
// through without authentication.
func (s *Server) AdminKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		configured := s.Config.Security.AdminAPIKey.Unmask()
		if configured == "" {
			next.ServeHTTP(w, r)
			return
		}

		if authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		presented := r.Header.Get("X-Api-Key")
		if presented == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthKeyMissing, "X-Api-Key header is required")
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) != 1 {
			s.Logger.Warn("authentication failed: invalid admin key",
				"method", r.Method,
				"path", r.URL.Path,
			)
			s.writeAuthError(w, r, types.ErrCodeAuthKeyInvalid, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeAuthError writes a 401 Unauthorized JSON response with the given
// error code.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	requestID := types.GetRequestID(r.Context())
	resp := APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: requestID,
		},
	}
	JSON(w, r, http.StatusUnauthorized, resp)
}

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ValidationResult holds the outcome of a validation check. It provides
// both a boolean pass/fail signal and a human-readable message suitable
// for display in the bootstrap CLI.
type ValidationResult struct {
	// Valid is true if the input passed all validation checks.
	Valid bool

	// Message is a human-readable description of the result.
	// On success, it describes what was validated (e.g., "SendGrid API key verified").
	// On failure, it describes why validation failed.
	Message string
}

// HTTPClient is the interface used by validators that make outbound HTTP calls.
// It enables injecting mock HTTP transports for testing without making real
// network calls.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DatabaseConnector abstracts the database connection logic for testing.
// In production, the real implementation uses pgx.Connect. Tests inject
// a mock that simulates connection success/failure.
type DatabaseConnector interface {
	// Connect attempts to establish a connection to the database at the
	// given DSN. It returns an error if the connection fails.
	// The implementation MUST close the connection before returning.
	Connect(ctx context.Context, dsn string) error
}

// PgxConnector is the production implementation of DatabaseConnector.
// It uses pgx.Connect to make a real TCP connection to the database.
type PgxConnector struct{}

// Connect establishes a connection to the database using pgx and immediately
// closes it. The purpose is to verify that the DSN is reachable and the
// credentials are valid, not to maintain an open connection.
func (c *PgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

// Validator encapsulates the dependencies needed by input validation functions.
// It is constructed during bootstrap initialization and threaded through
// the validation phases.
type Validator struct {
	httpClient HTTPClient
	dbConn     DatabaseConnector
}

// NewValidator creates a Validator with production dependencies: a real
// HTTP client with a 10-second timeout and a real pgx connector.
func NewValidator() *Validator {
	return &Validator{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		dbConn: &PgxConnector{},
	}
}

// NewValidatorWithDeps creates a Validator with injected dependencies
// for testing.
func NewValidatorWithDeps(httpClient HTTPClient, dbConn DatabaseConnector) *Validator {
	return &Validator{
		httpClient: httpClient,
		dbConn:     dbConn,
	}
}

// validateTimeout is the per-probe timeout for active validation calls.
// This is separate from the HTTP client timeout to serve as an outer bound
// that also covers DNS resolution, TLS handshake, etc.
const validateTimeout = 15 * time.Second

// ---------------------------------------------------------------------------
// ValidateDatabaseURL
// ---------------------------------------------------------------------------

// ValidateDatabaseURL validates a Supabase PostgreSQL connection string.
//
// Validation steps:
//  1. Parse the URL to extract the host and port.
//  2. Verify the port is 6543 (Supabase Transaction Mode via PgBouncer).
//     Lambda workers need transaction pooling, so direct connections on
//     5432 are rejected here.
//  3. Attempt an actual connection using pgx to verify the credentials
//     and network reachability.
//
// The connection is immediately closed after verification. This function
// does not maintain a persistent connection.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ValidationResult{Valid: false, Message: "database URL must not be empty"}
	}

	// Parse the URL to extract the port.
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("invalid URL format: %v", err),
		}
	}

	// Verify the scheme is postgres or postgresql.
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme),
		}
	}

	// Extract port. url.Parse puts it in parsed.Host as "host:port".
	_, port, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		// If no port is specified, that's also wrong, 6543 is required.
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("could not extract port from host %q: %v (port 6543 is required for Supabase Transaction Mode)", parsed.Host, err),
		}
	}

	if port != "6543" {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("port must be 6543 (Supabase Transaction Mode), got %q", port),
		}
	}

	// Attempt a real connection to verify credentials and reachability.
	connCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	if err := v.dbConn.Connect(connCtx, rawURL); err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("connection failed: %v", err),
		}
	}

	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("database connection verified (host=%s, port=%s)", parsed.Hostname(), port),
	}
}

// ---------------------------------------------------------------------------
// ValidateSendGridKey
// ---------------------------------------------------------------------------

// ValidateSendGridKey validates a SendGrid API key by making a GET request
// to https://api.sendgrid.com/v3/user/credits.
//
// The credits endpoint is the lightest-weight call that verifies the key
// without side effects; a valid response contains the remaining credit count.
func (v *Validator) ValidateSendGridKey(ctx context.Context, key string) ValidationResult {
	key = strings.TrimSpace(key)
	if key == "" {
		return ValidationResult{Valid: false, Message: "SendGrid API key must not be empty"}
	}

	// Basic prefix check as an early guard before the API probe.
	if !strings.HasPrefix(key, "SG.") {
		return ValidationResult{
			Valid:   false,
			Message: "SendGrid API key should start with 'SG.'",
		}
	}

	// Active probe: GET /v3/user/credits
	probeCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, "https://api.sendgrid.com/v3/user/credits", nil)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}

	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("User-Agent", "TenderWatch-Bootstrap/1.0")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("SendGrid API probe failed: %v", err),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("SendGrid API returned HTTP %d: key is invalid or lacks permissions", resp.StatusCode),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("SendGrid API returned HTTP %d: %s", resp.StatusCode, truncateBody(body, 200)),
		}
	}

	// A meaningful credits response contains the "remain" field.
	if !strings.Contains(string(body), "remain") {
		return ValidationResult{
			Valid:   false,
			Message: "SendGrid API response did not contain expected credit information",
		}
	}

	return ValidationResult{
		Valid:   true,
		Message: "SendGrid API key verified (credits endpoint accessible)",
	}
}

// ---------------------------------------------------------------------------
// ValidateRegex
// ---------------------------------------------------------------------------

// ValidateRegex is a generic validator that checks whether the input matches
// the given regular expression pattern. It is used as a fallback for inputs
// that cannot be actively probed, such as email addresses.
func (v *Validator) ValidateRegex(_ context.Context, input, pattern, fieldName string) ValidationResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s must not be empty", fieldName),
		}
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("invalid regex pattern %q: %v", pattern, err),
		}
	}

	if !re.MatchString(input) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s does not match expected format (pattern: %s)", fieldName, pattern),
		}
	}

	return ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("%s format validated", fieldName),
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// truncateBody returns the first n bytes of body as a string, appending
// "..." if truncation occurred. This is used for including partial API
// response bodies in error messages without overwhelming the user.
func truncateBody(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}

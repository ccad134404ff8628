package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ssmToEnvMapping maps each bootstrap inventory SSM category/key to the
// environment variable name the config loader reads. Kept in sync with the
// envconfig tags in internal/config/config.go.
var ssmToEnvMapping = map[string]string{
	"database/url":           "DATABASE_URL",
	"email/sendgrid_api_key": "SENDGRID_API_KEY",
	"email/from_address":     "EMAIL_FROM_ADDRESS",
	"security/admin_api_key": "ADMIN_API_KEY",
	"app/dashboard_url":      "DASHBOARD_URL",
}

// localDevDefaults holds the environment variables required by the config
// loader that are not sourced from SSM. These point at LocalStack so a
// freshly exported .env file boots the local stack without edits.
var localDevDefaults = map[string]string{
	"APP_ENV":          "local",
	"AWS_REGION":       "us-east-1",
	"AWS_ENDPOINT_URL": "http://localhost:4566",
	"SQS_DISPATCH":     "http://localhost:4566/000000000000/notification-dispatch",
	"SQS_DLQ":          "http://localhost:4566/000000000000/notification-dispatch-dlq",
	"LOG_LEVEL":        "debug",
}

// ExportEnvConfig holds the inputs for ExportEnvFile.
type ExportEnvConfig struct {
	// OutputPath is where the .env file is written. Parent directories are
	// created as needed.
	OutputPath string

	// Environment is the SSM environment segment the values were read from.
	Environment string

	// SSM reads parameters back from Parameter Store.
	SSM *SSMManager

	// Stderr receives progress and summary output.
	Stderr io.Writer

	// IncludeLocalDefaults appends the non-SSM variables needed for local
	// development (LocalStack endpoints, APP_ENV=local, etc.).
	IncludeLocalDefaults bool
}

// envQuoteNeeded matches characters that require the value to be quoted in
// a dotenv file.
func envQuoteNeeded(value string) bool {
	if value == "" {
		return true
	}
	return strings.ContainsAny(value, " \t\"#'{}$\\\n")
}

// formatEnvLine renders a single KEY=value dotenv line. Values containing
// whitespace, quotes, or other shell-significant characters are wrapped in
// double quotes with backslash, quote, and newline characters escaped.
func formatEnvLine(key, value string) string {
	if !envQuoteNeeded(value) {
		return fmt.Sprintf("%s=%s", key, value)
	}

	escaped := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
	).Replace(value)

	return key + `="` + escaped + `"`
}

// ExportEnvFile reads the bootstrap inventory back from SSM and writes a
// .env file for local development. Parameters missing from SSM (skipped
// during bootstrap) are omitted with a warning rather than failing the
// export; the export fails only when nothing could be read at all.
//
// The file is written with 0600 permissions since it contains decrypted
// secrets.
func ExportEnvFile(ctx context.Context, cfg ExportEnvConfig) error {
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	// The inventory drives ordering and the set of paths to read. The
	// validator is never invoked during export, so nil deps are fine.
	inventory := BuildInventory(NewValidatorWithDeps(nil, nil))

	var lines []string
	written := 0
	skipped := 0

	for _, step := range inventory {
		envVar, ok := ssmToEnvMapping[step.SSMCategoryKey]
		if !ok {
			fmt.Fprintf(stderr, "  Warning: no env var mapping for %s, skipping\n", step.SSMCategoryKey)
			skipped++
			continue
		}

		path := cfg.SSM.SSMPath(step.SSMCategoryKey)

		// Decrypt everything: String parameters pass WithDecryption through
		// unchanged, and SecureString parameters need it.
		value, err := cfg.SSM.GetParameterValue(ctx, path, true)
		if err != nil {
			fmt.Fprintf(stderr, "  Warning: could not read %s (%v), omitting %s\n", path, err, envVar)
			skipped++
			continue
		}

		lines = append(lines, formatEnvLine(envVar, value))
		written++
	}

	if written == 0 {
		return fmt.Errorf("no parameters could be read from SSM under /%s/tenderwatch/ (ran bootstrap first?)", cfg.Environment)
	}

	var b strings.Builder
	b.WriteString("# Auto-generated by bootstrap --export-env\n")
	fmt.Fprintf(&b, "# Environment: %s\n", cfg.Environment)
	fmt.Fprintf(&b, "# Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	b.WriteString("#\n")
	b.WriteString("# SECURITY WARNING: this file contains decrypted secrets.\n")
	b.WriteString("# Do not commit it to version control.\n")
	b.WriteString("\n")

	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	if cfg.IncludeLocalDefaults {
		b.WriteString("\n# Local Development Defaults (not from SSM)\n")

		keys := make([]string, 0, len(localDevDefaults))
		for k := range localDevDefaults {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			b.WriteString(formatEnvLine(k, localDevDefaults[k]))
			b.WriteString("\n")
		}
	}

	if dir := filepath.Dir(cfg.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory %q: %w", dir, err)
		}
	}

	// 0600: the file holds decrypted secrets.
	if err := os.WriteFile(cfg.OutputPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing env file %q: %w", cfg.OutputPath, err)
	}

	fmt.Fprintf(stderr, "\nEnvironment file exported: %s\n", cfg.OutputPath)
	fmt.Fprintf(stderr, "  Parameters written: %d\n", written)
	if skipped > 0 {
		fmt.Fprintf(stderr, "  Parameters skipped: %d\n", skipped)
	}
	fmt.Fprintf(stderr, "  Permissions: 0600 (owner read/write only)\n")

	return nil
}

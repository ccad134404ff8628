// loader.go implements the configuration loading lifecycle for the
// TenderWatch notification queue.
//
// Loading runs in a fixed order: pin the process to UTC, overlay a .env file
// if one exists, resolve *_SSM_PARAM secret pointers (outside local mode),
// populate the Config struct through envconfig, attach build metadata, and
// validate the result. The effective priority for any value is
// OS environment > .env file > SSM.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError tags a loading failure with the phase that produced it, so a
// crashed startup log says whether parsing, validation, or SSM was at fault.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks an environment variable as a secret pointer:
// DATABASE_URL_SSM_PARAM holds the SSM path whose value becomes DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

// loaderDeps carries the environment primitives the loader mutates, so tests
// can run resolution against a map instead of the process environment.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads, resolves, and validates the service configuration.
//
// provider supplies SSM secret resolution. It may be nil in local mode, or
// in any mode where no *_SSM_PARAM variables are present; otherwise
// resolution fails with an ErrSSMResolution ConfigError.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	// Every timestamp in the system is UTC; scheduled_at comparisons break
	// if the process drifts to a local zone.
	time.Local = time.UTC

	// Overlay a .env file if present. godotenv never overrides variables
	// that are already set, which is what gives the OS environment priority.
	_ = godotenv.Load()

	if appEnv, _ := deps.lookupEnv("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	// The empty prefix makes envconfig read tag names verbatim, so
	// envconfig:"APP_ENV" maps to APP_ENV.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// ssmBinding pairs a target environment variable with the SSM path that
// feeds it.
type ssmBinding struct {
	targetEnvVar string // DATABASE_URL
	ssmPath      string // /prod/tenderwatch/database/url
}

// resolveSSMParams finds every *_SSM_PARAM pointer whose target variable is
// not already set, fetches the secrets in one batch, and injects the values
// into the environment for envconfig to pick up. Secrets that fail to
// resolve are an error; the loader never lets a half-configured service
// start.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	bindings := collectBindings(deps)
	if len(bindings) == 0 {
		return nil
	}

	if provider == nil {
		targets := make([]string, 0, len(bindings))
		for _, b := range bindings {
			targets = append(targets, b.targetEnvVar)
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targets, ", ")),
		}
	}

	paths := make([]string, 0, len(bindings))
	targetByPath := make(map[string]string, len(bindings))
	for _, b := range bindings {
		paths = append(paths, b.ssmPath)
		targetByPath[b.ssmPath] = b.targetEnvVar
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	for path, value := range resolved {
		target, ok := targetByPath[path]
		if !ok {
			// The provider returned a path we never asked for.
			continue
		}
		if err := deps.setEnv(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", target),
				Err:     err,
			}
		}
	}

	var missing []string
	for _, b := range bindings {
		if _, ok := resolved[b.ssmPath]; !ok {
			missing = append(missing, b.targetEnvVar)
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}

// collectBindings scans the environment for *_SSM_PARAM variables that still
// need resolving. A pointer whose target variable is already set is skipped,
// which is how the OS environment and .env file outrank SSM. Pointers with
// empty paths are ignored.
func collectBindings(deps loaderDeps) []ssmBinding {
	var bindings []ssmBinding

	for _, entry := range deps.environ() {
		eq := strings.IndexByte(entry, '=')
		if eq < 0 {
			continue
		}
		key := entry[:eq]
		if !strings.HasSuffix(key, ssmParamSuffix) {
			continue
		}

		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}

		path := entry[eq+1:]
		if path == "" {
			continue
		}

		bindings = append(bindings, ssmBinding{targetEnvVar: target, ssmPath: path})
	}

	return bindings
}

package config

import "context"

// SecretProvider resolves secret values referenced by *_SSM_PARAM environment
// variables. The production implementation reads AWS SSM Parameter Store;
// tests substitute an in-memory map. Local development (APP_ENV=local) skips
// resolution entirely, so a nil provider is valid there.
type SecretProvider interface {
	// GetParametersBatch resolves the given SSM parameter paths and returns
	// a map of path to plaintext value. A path that resolves to no parameter
	// is an error, never a silent omission: the loader treats every
	// referenced secret as required.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

package types

// redactedPlaceholder is the string used to replace secret values in logs and
// serialization.
const redactedPlaceholder = "***REDACTED***"

// redactedJSON is the pre-computed JSON encoding of the redacted placeholder.
var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString is a string type that prevents accidental logging or
// serialization of sensitive values (database URLs, provider API keys). It
// overrides String() and MarshalJSON() to return a redacted placeholder.
//
// Use Unmask() to retrieve the raw plaintext value when it is genuinely
// needed (passing to an HTTP client or database driver).
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw underlying value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsEmpty reports whether the secret holds no value.
func (s SecretString) IsEmpty() bool {
	return len(s) == 0
}

package config

import "testing"

// TestNewBuildInfoUnsetLdflags verifies the placeholder values reported when
// the binary is built without ldflags, as test binaries are.
func TestNewBuildInfoUnsetLdflags(t *testing.T) {
	info := NewBuildInfo()

	want := BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"}
	if info != want {
		t.Errorf("NewBuildInfo() = %+v, want %+v", info, want)
	}
}

// TestBuildInfoEmbedsInConfig verifies BuildInfo is a plain value type that
// slots into Config.Build without indirection.
func TestBuildInfoEmbedsInConfig(t *testing.T) {
	cfg := Config{Build: NewBuildInfo()}

	if cfg.Build.Version != "dev" {
		t.Errorf("Config.Build.Version = %q, want %q", cfg.Build.Version, "dev")
	}
	if cfg.Build.Commit != "none" {
		t.Errorf("Config.Build.Commit = %q, want %q", cfg.Build.Commit, "none")
	}
}

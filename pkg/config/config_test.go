package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetDuration(t *testing.T) {
	cases := map[string]struct {
		value string
		want  time.Duration
	}{
		"go syntax":    {"1m30s", 90 * time.Second},
		"bare seconds": {"45", 45 * time.Second},
		"invalid":      {"soon", 5 * time.Second},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tc.value)
			if got := GetDuration("TEST_DURATION", 5*time.Second); got != tc.want {
				t.Fatalf("GetDuration(%q) = %s, want %s", tc.value, got, tc.want)
			}
		})
	}
	if got := GetDuration("TEST_DURATION_UNSET", time.Hour); got != time.Hour {
		t.Fatalf("expected fallback for unset key, got %s", got)
	}
}

func TestGetIntAndBoolFallbacks(t *testing.T) {
	t.Setenv("TEST_INT", "x")
	t.Setenv("TEST_BOOL", "maybe")
	if got := GetInt("TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	if got := GetBool("TEST_BOOL", true); !got {
		t.Fatal("expected fallback true")
	}
}

func TestLoadEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("TEST_FROM_FILE=file\nTEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("TEST_PRESET", "process")
	t.Setenv("TEST_FROM_FILE", "")
	os.Unsetenv("TEST_FROM_FILE")

	if err := LoadEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("TEST_FROM_FILE"); got != "file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("TEST_PRESET"); got != "process" {
		t.Fatalf("expected process value to win, got %q", got)
	}
}

func TestLoadAPIConfigDefaults(t *testing.T) {
	t.Setenv("API_TOKEN", "secret")
	t.Setenv("API_MAX_BODY_MB", "2")
	cfg := LoadAPIConfig()
	if cfg.APIToken != "secret" {
		t.Fatalf("unexpected token %q", cfg.APIToken)
	}
	if cfg.MaxBodyBytes != 2<<20 {
		t.Fatalf("unexpected body limit %d", cfg.MaxBodyBytes)
	}
	if cfg.MigrationsDir != "" {
		t.Fatalf("expected embedded migrations by default, got %q", cfg.MigrationsDir)
	}
}

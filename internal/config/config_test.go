package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "five percent")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="five percent" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Workers != 2 {
		t.Fatalf("expected default 2 workers, got %d", cfg.Workers)
	}
	if cfg.UpsertPolicy != PolicyReplace {
		t.Fatalf("expected default policy %q, got %q", PolicyReplace, cfg.UpsertPolicy)
	}
	if cfg.SourcePaths["results"] != "sb_ca{year}_all_csv_v1.zip" {
		t.Fatalf("unexpected results path template: %q", cfg.SourcePaths["results"])
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("EDUSTATS_WORKERS", "abc")
	t.Setenv("EDUSTATS_FETCH_TIMEOUT", "soon")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "EDUSTATS_WORKERS") {
		t.Fatalf("error should mention EDUSTATS_WORKERS, got: %s", got)
	}
	if !strings.Contains(got, "EDUSTATS_FETCH_TIMEOUT") {
		t.Fatalf("error should mention EDUSTATS_FETCH_TIMEOUT, got: %s", got)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown policy", func(c *Config) { c.UpsertPolicy = "merge" }, "EDUSTATS_UPSERT_POLICY"},
		{"reject rate above one", func(c *Config) { c.MaxRejectRate = 1.5 }, "EDUSTATS_MAX_REJECT_RATE"},
		{"s3 without bucket", func(c *Config) { c.CacheDriver = CacheS3 }, "EDUSTATS_CACHE_S3_BUCKET"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "EDUSTATS_WORKERS"},
		{"zero fetch attempts", func(c *Config) { c.FetchMaxAttempts = 0 }, "EDUSTATS_FETCH_MAX_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error should mention %s, got: %s", tt.want, err)
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Addr != ":8080" {
		t.Fatalf("addr: %q", cfg.Addr)
	}
	if cfg.Solver.Algorithm != "greedy" || cfg.Solver.TargetFraction != 0.5 {
		t.Fatalf("solver defaults: %+v", cfg.Solver)
	}
	if cfg.RateLimit.RPS != 2 || cfg.RateLimit.Burst != 5 {
		t.Fatalf("rate limit defaults: %+v", cfg.RateLimit)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
addr: ":9090"
rateLimit:
  rps: 10
  burst: 20
solver:
  algorithm: savings
  alpha: 0.7
  targetFraction: 0.25
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr: %q", cfg.Addr)
	}
	if cfg.RateLimit.RPS != 10 || cfg.RateLimit.Burst != 20 {
		t.Fatalf("rate limit: %+v", cfg.RateLimit)
	}
	if cfg.Solver.Algorithm != "savings" || cfg.Solver.Alpha != 0.7 || cfg.Solver.TargetFraction != 0.25 {
		t.Fatalf("solver: %+v", cfg.Solver)
	}
	// untouched fields keep defaults
	if cfg.Solver.RadiusCoeff != 1.0 {
		t.Fatalf("radius default lost: %+v", cfg.Solver)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr: %q", cfg.Addr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://example/db")
	t.Setenv("REDIS_URL", "redis://example:6379")
	t.Setenv("SOLVE_RATE_RPS", "4.5")
	t.Setenv("SOLVE_RATE_BURST", "9")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.DatabaseURL != "postgres://example/db" || cfg.RedisURL != "redis://example:6379" {
		t.Fatalf("env overrides: %+v", cfg)
	}
	if cfg.RateLimit.RPS != 4.5 || cfg.RateLimit.Burst != 9 {
		t.Fatalf("rate env overrides: %+v", cfg.RateLimit)
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	want := Defaults()
	if cfg.Server.Port != want.Server.Port {
		t.Errorf("port = %q, want %q", cfg.Server.Port, want.Server.Port)
	}
	if cfg.Refine.Iterations != want.Refine.Iterations {
		t.Errorf("iterations = %d, want %d", cfg.Refine.Iterations, want.Refine.Iterations)
	}
	if cfg.Gateway.DefaultTimeout != want.Gateway.DefaultTimeout {
		t.Errorf("default timeout = %s, want %s", cfg.Gateway.DefaultTimeout, want.Gateway.DefaultTimeout)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quantforge.yaml")
	doc := `
server:
  port: "9999"
refine:
  iterations: 5
  early_stop: true
orchestrator:
  worker_timeout: 90s
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "9999" {
		t.Errorf("port = %q, want 9999", cfg.Server.Port)
	}
	if cfg.Refine.Iterations != 5 || !cfg.Refine.EarlyStop {
		t.Errorf("refine = %+v", cfg.Refine)
	}
	if cfg.Orchestrator.WorkerTimeout != 90*time.Second {
		t.Errorf("worker_timeout = %s, want 90s", cfg.Orchestrator.WorkerTimeout)
	}
	// Untouched sections keep their defaults.
	if cfg.Breaker.MaxFailures != Defaults().Breaker.MaxFailures {
		t.Errorf("breaker.max_failures = %d", cfg.Breaker.MaxFailures)
	}
}

func TestLoadFromEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quantforge.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9999\"\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("QUANTFORGE_PORT", "7777")
	t.Setenv("QUANTFORGE_REFINE_ITERATIONS", "4")
	t.Setenv("QUANTFORGE_REFINE_EARLY_STOP", "true")
	t.Setenv("QUANTFORGE_SANDBOX_LEASE_WAIT", "2s")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "7777" {
		t.Errorf("port = %q, want 7777 (env over yaml)", cfg.Server.Port)
	}
	if cfg.Refine.Iterations != 4 || !cfg.Refine.EarlyStop {
		t.Errorf("refine = %+v", cfg.Refine)
	}
	if cfg.Sandbox.LeaseWait != 2*time.Second {
		t.Errorf("lease_wait = %s, want 2s", cfg.Sandbox.LeaseWait)
	}
}

func TestLoadFromRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"zero iterations", "refine:\n  iterations: 0\n", "refine.iterations"},
		{"accept score out of range", "refine:\n  accept_score: 11\n", "accept_score"},
		{"zero breaker failures", "breaker:\n  max_failures: 0\n", "max_failures"},
		{"backoff multiple below one", "gateway:\n  backoff_multiple: 0.5\n", "backoff_multiple"},
		{"malformed yaml", "server: [\n", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "quantforge.yaml")
			if err := os.WriteFile(path, []byte(tt.doc), 0o644); err != nil {
				t.Fatalf("write yaml: %v", err)
			}
			_, err := LoadFrom(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("LoadFrom = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "quantforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "QUANTFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "QUANTFORGE_CORS_ORIGIN")
	setString(&cfg.Logging.Level, "QUANTFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "QUANTFORGE_LOG_SERVICE")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "QUANTFORGE_OTEL_INSECURE")
	setString(&cfg.Workspace.Root, "QUANTFORGE_WORKSPACE_ROOT")
	setInt64(&cfg.Workspace.CacheSizeMB, "QUANTFORGE_WORKSPACE_CACHE_MB")
	setDuration(&cfg.Gateway.DefaultTimeout, "QUANTFORGE_GATEWAY_TIMEOUT")
	setInt(&cfg.Gateway.MaxRetries, "QUANTFORGE_GATEWAY_MAX_RETRIES")
	setDuration(&cfg.Gateway.InitialBackoff, "QUANTFORGE_GATEWAY_INITIAL_BACKOFF")
	setFloat64(&cfg.Gateway.BackoffMultiple, "QUANTFORGE_GATEWAY_BACKOFF_MULTIPLE")
	setDuration(&cfg.Gateway.MaxBackoff, "QUANTFORGE_GATEWAY_MAX_BACKOFF")
	setInt(&cfg.Breaker.MaxFailures, "QUANTFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Window, "QUANTFORGE_BREAKER_WINDOW")
	setDuration(&cfg.Breaker.Cooldown, "QUANTFORGE_BREAKER_COOLDOWN")
	setInt(&cfg.Refine.Iterations, "QUANTFORGE_REFINE_ITERATIONS")
	setBool(&cfg.Refine.EarlyStop, "QUANTFORGE_REFINE_EARLY_STOP")
	setInt(&cfg.Refine.AcceptScore, "QUANTFORGE_REFINE_ACCEPT_SCORE")
	setInt(&cfg.Orchestrator.MaxDecisions, "QUANTFORGE_ORCH_MAX_DECISIONS")
	setInt(&cfg.Orchestrator.StepRetryBudget, "QUANTFORGE_ORCH_STEP_RETRIES")
	setInt(&cfg.Orchestrator.ReplanBudget, "QUANTFORGE_ORCH_REPLAN_BUDGET")
	setInt(&cfg.Orchestrator.EscalateAfter, "QUANTFORGE_ORCH_ESCALATE_AFTER")
	setDuration(&cfg.Orchestrator.WorkerTimeout, "QUANTFORGE_ORCH_WORKER_TIMEOUT")
	setInt(&cfg.Sandbox.Slots, "QUANTFORGE_SANDBOX_SLOTS")
	setDuration(&cfg.Sandbox.LeaseWait, "QUANTFORGE_SANDBOX_LEASE_WAIT")
	setString(&cfg.Providers.MarketDataURL, "QUANTFORGE_MARKET_DATA_URL")
	setString(&cfg.Providers.SandboxURL, "QUANTFORGE_SANDBOX_URL")
	setString(&cfg.Providers.RendererURL, "QUANTFORGE_RENDERER_URL")
	setInt(&cfg.Providers.SearchMaxResults, "QUANTFORGE_SEARCH_MAX_RESULTS")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Workspace.Root == "" {
		return errors.New("workspace.root is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Refine.Iterations < 1 {
		return errors.New("refine.iterations must be >= 1")
	}
	if cfg.Refine.AcceptScore < 1 || cfg.Refine.AcceptScore > 10 {
		return errors.New("refine.accept_score must be in [1,10]")
	}
	if cfg.Orchestrator.MaxDecisions < 1 {
		return errors.New("orchestrator.max_decisions must be >= 1")
	}
	if cfg.Sandbox.Slots < 1 {
		return errors.New("sandbox.slots must be >= 1")
	}
	if cfg.Gateway.BackoffMultiple < 1 {
		return errors.New("gateway.backoff_multiple must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

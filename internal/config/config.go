// Package config provides hierarchical configuration loading for QuantForge.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the QuantForge core service.
type Config struct {
	Server       Server       `yaml:"server"`
	Logging      Logging      `yaml:"logging"`
	NATS         NATS         `yaml:"nats"`
	Telemetry    Telemetry    `yaml:"telemetry"`
	Workspace    Workspace    `yaml:"workspace"`
	Gateway      Gateway      `yaml:"gateway"`
	Breaker      Breaker      `yaml:"breaker"`
	Refine       Refine       `yaml:"refine"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Sandbox      Sandbox      `yaml:"sandbox"`
	Providers    Providers    `yaml:"providers"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// NATS holds the optional JetStream transition-event publisher
// configuration. An empty URL disables publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// Telemetry holds OpenTelemetry exporter configuration. An empty endpoint
// disables export.
type Telemetry struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Workspace holds the file store configuration.
type Workspace struct {
	Root        string `yaml:"root"`
	CacheSizeMB int64  `yaml:"cache_size_mb"`
}

// Gateway holds tool dispatch configuration: the default per-call timeout
// and the retry policy applied to idempotent tools.
type Gateway struct {
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	BackoffMultiple float64       `yaml:"backoff_multiple"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
}

// Breaker holds per-dependency circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Window      time.Duration `yaml:"window"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// Refine holds refinement loop configuration.
type Refine struct {
	Iterations  int  `yaml:"iterations"`
	EarlyStop   bool `yaml:"early_stop"`
	AcceptScore int  `yaml:"accept_score"`
}

// Orchestrator holds session state machine budgets.
type Orchestrator struct {
	MaxDecisions    int           `yaml:"max_decisions"`     // hard cap on decision rounds per session
	StepRetryBudget int           `yaml:"step_retry_budget"` // task retries per plan step
	ReplanBudget    int           `yaml:"replan_budget"`     // replans before escalation
	EscalateAfter   int           `yaml:"escalate_after"`    // consecutive step failures before escalation
	WorkerTimeout   time.Duration `yaml:"worker_timeout"`    // per worker turn
}

// Sandbox holds the execution-slot lease pool configuration.
type Sandbox struct {
	Slots     int           `yaml:"slots"`
	LeaseWait time.Duration `yaml:"lease_wait"` // 0 = fail fast when the pool is exhausted
}

// Providers holds the endpoints of the external tool collaborators.
type Providers struct {
	MarketDataURL    string `yaml:"market_data_url"`
	SandboxURL       string `yaml:"sandbox_url"`
	RendererURL      string `yaml:"renderer_url"`
	SearchMaxResults int    `yaml:"search_max_results"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Logging: Logging{
			Level:   "info",
			Service: "quantforge-core",
		},
		Workspace: Workspace{
			Root:        "workspaces",
			CacheSizeMB: 64,
		},
		Gateway: Gateway{
			DefaultTimeout:  30 * time.Second,
			MaxRetries:      3,
			InitialBackoff:  500 * time.Millisecond,
			BackoffMultiple: 2.0,
			MaxBackoff:      10 * time.Second,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Window:      time.Minute,
			Cooldown:    30 * time.Second,
		},
		Refine: Refine{
			Iterations:  3,
			EarlyStop:   false,
			AcceptScore: 8,
		},
		Orchestrator: Orchestrator{
			MaxDecisions:    40,
			StepRetryBudget: 2,
			ReplanBudget:    1,
			// Must exceed StepRetryBudget+1 or the replan never gets a
			// chance to run.
			EscalateAfter: 4,
			WorkerTimeout: 5 * time.Minute,
		},
		Sandbox: Sandbox{
			Slots:     4,
			LeaseWait: 30 * time.Second,
		},
		Providers: Providers{
			MarketDataURL:    "https://stooq.com/q/d/l/",
			SandboxURL:       "http://localhost:8090",
			RendererURL:      "http://localhost:8091",
			SearchMaxResults: 10,
		},
	}
}

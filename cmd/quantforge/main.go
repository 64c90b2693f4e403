package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	qfhttp "github.com/Strob0t/QuantForge/internal/adapter/http"
	"github.com/Strob0t/QuantForge/internal/adapter/marketdata"
	qfnats "github.com/Strob0t/QuantForge/internal/adapter/nats"
	qfotel "github.com/Strob0t/QuantForge/internal/adapter/otel"
	"github.com/Strob0t/QuantForge/internal/adapter/renderer"
	"github.com/Strob0t/QuantForge/internal/adapter/sandbox"
	"github.com/Strob0t/QuantForge/internal/adapter/scripted"
	"github.com/Strob0t/QuantForge/internal/adapter/search"
	"github.com/Strob0t/QuantForge/internal/adapter/ws"
	"github.com/Strob0t/QuantForge/internal/config"
	"github.com/Strob0t/QuantForge/internal/gateway"
	"github.com/Strob0t/QuantForge/internal/logger"
	"github.com/Strob0t/QuantForge/internal/middleware"
	"github.com/Strob0t/QuantForge/internal/port/broadcast"
	"github.com/Strob0t/QuantForge/internal/port/workerbackend"
	"github.com/Strob0t/QuantForge/internal/resilience"
	"github.com/Strob0t/QuantForge/internal/service"
	"github.com/Strob0t/QuantForge/internal/workspace"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"workspace_root", cfg.Workspace.Root,
	)

	ctx := context.Background()

	// Telemetry
	shutdownTelemetry, err := qfotel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}()

	// Workspace store
	store, err := workspace.New(cfg.Workspace.Root, cfg.Workspace.CacheSizeMB<<20)
	if err != nil {
		return fmt.Errorf("workspace store: %w", err)
	}
	defer store.Close()

	// Event fan-out: WebSocket hub always, NATS when configured.
	hub := ws.NewHub()
	sinks := broadcast.Multi{hub}
	if cfg.NATS.URL != "" {
		pub, err := qfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = pub.Close() }()
		sinks = append(sinks, pub)
	}

	// Tool gateway
	tools := gateway.NewRegistry()
	tools.Register(marketdata.New(cfg.Providers.MarketDataURL, store))
	tools.Register(sandbox.New(cfg.Providers.SandboxURL, cfg.Sandbox.Slots, cfg.Sandbox.LeaseWait))
	tools.Register(renderer.New(cfg.Providers.RendererURL, store))
	if searchTool, err := search.New(cfg.Providers.SearchMaxResults); err != nil {
		slog.Warn("web search unavailable", "error", err)
	} else {
		tools.Register(searchTool)
	}

	breakers := resilience.NewRegistry(cfg.Breaker.MaxFailures, cfg.Breaker.Window, cfg.Breaker.Cooldown)
	gw := gateway.New(tools, breakers, resilience.RetryPolicy{
		MaxTries:        uint(cfg.Gateway.MaxRetries),
		InitialInterval: cfg.Gateway.InitialBackoff,
		Multiplier:      cfg.Gateway.BackoffMultiple,
		MaxInterval:     cfg.Gateway.MaxBackoff,
	})

	// Worker backends. The scripted backend covers every role until a
	// model-backed one is wired in; with the gateway attached its executor
	// and evaluator turns drive the registered tools.
	backend := scripted.New()
	backend.Tools = gw
	workers := workerbackend.NewRegistry()
	workers.Register(backend)

	// Services
	refiner := service.NewRefineController(store, workers, cfg.Refine, cfg.Orchestrator.WorkerTimeout, log)
	orch := service.NewOrchestrator(store, gw, workers, sinks, cfg.Orchestrator, refiner, log)
	sessions := service.NewSessionService(store, orch, cfg.Orchestrator, log)
	defer sessions.Close()

	// Pick up sessions interrupted by the previous process.
	if err := sessions.Resume(ctx); err != nil {
		return fmt.Errorf("resume sessions: %w", err)
	}

	// HTTP
	handlers := &qfhttp.Handlers{
		Sessions: sessions,
		Gateway:  gw,
	}

	r := chi.NewRouter()
	r.Use(qfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(qfhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(qfotel.HTTPMiddleware(cfg.Logging.Service))

	r.Get("/ws", hub.HandleWS)
	qfhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

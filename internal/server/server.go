// Package server provides the shared service lifecycle runner.
// Binaries delegate to server.Run for signal handling, config loading,
// observability init, health checks, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Harshith2412/zta-finance/internal/config"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/observability"
)

// HealthPath is the liveness endpoint the runner registers on every service.
// Middleware that throttles or authenticates requests must leave it alone;
// orchestrators probe it unauthenticated.
const HealthPath = "/health"

// SetupDeps is handed to a service's Setup callback once the shared
// infrastructure (config, logging, telemetry) is ready.
type SetupDeps struct {
	Config *config.Config
	Logger *slog.Logger

	// Mux already carries the health endpoint. Setup registers the
	// service's routes on it.
	Mux *http.ServeMux
}

// Params configures a service's lifecycle runner.
type Params struct {
	// Name identifies the service (e.g. "gateway").
	Name string

	// PortFromConfig extracts the HTTP port for this service from config.
	PortFromConfig func(cfg *config.Config) int

	// Setup wires the service: it mounts routes on deps.Mux and may return
	// an outer handler wrapping the mux (middleware chain; nil serves the
	// mux directly) plus a cleanup function invoked during graceful
	// shutdown, after the HTTP server has drained and before telemetry is
	// flushed. Setup may be nil for a bare health-check server.
	Setup func(ctx context.Context, deps SetupDeps) (http.Handler, func(context.Context) error, error)
}

// Run executes the full service lifecycle: signal handling, config loading,
// observability initialization, HTTP server with health checks, and graceful
// shutdown. If ln is non-nil, it is used instead of creating a new listener
// from config (enables port-0 testing).
func Run(ctx context.Context, p Params, ln net.Listener) error {
	// Signal-based cancellation: ctx.Done() closes on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Load configuration
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Initialize structured logging with secret redaction
	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: telemetry -> application -> HTTP server ---

	providers, err := observability.Init(ctx, observability.Config{
		ServiceName:    p.Name,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	// Health check shutdown coordination via atomic flag.
	var shuttingDown atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"shutting_down","service":%q}`, p.Name)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":%q}`, p.Name)
	})

	// Wire the application. The returned handler wraps the mux with the
	// service's middleware chain; the cleanup runs during shutdown.
	var handler http.Handler = mux
	cleanup := func(context.Context) error { return nil }
	if p.Setup != nil {
		outer, appCleanup, setupErr := p.Setup(ctx, SetupDeps{Config: cfg, Logger: logger, Mux: mux})
		if setupErr != nil {
			// Telemetry is already up; flush it before reporting.
			otelCtx, otelCancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
			defer otelCancel()
			if shutdownErr := providers.Shutdown(otelCtx); shutdownErr != nil {
				logger.Error("failed to shutdown telemetry", slog.String("error", shutdownErr.Error()))
			}
			return fmt.Errorf("setup %s: %w", p.Name, setupErr)
		}
		if outer != nil {
			handler = outer
		}
		if appCleanup != nil {
			cleanup = appCleanup
		}
	}

	// Bind listener (use injected listener or create from config).
	if ln == nil {
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", p.PortFromConfig(cfg)))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Structured concurrency via errgroup ---
	g, ctx := errgroup.WithContext(ctx)

	// Goroutine 1: Serve HTTP
	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", ln.Addr().String()),
			slog.String("environment", cfg.Environment),
		)
		if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})

	// Goroutine 2: Shutdown trigger. Waits for context cancellation, then
	// drains in explicit reverse of startup: HTTP server -> application ->
	// telemetry.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		// 1. Mark shutting down; health checks return 503
		shuttingDown.Store(true)

		// 2. Drain delay lets load balancers propagate endpoint removal
		time.Sleep(domain.ShutdownDrainDelay)

		// 3. Drain HTTP server
		httpCtx, httpCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
		defer httpCancel()
		if shutdownErr := server.Shutdown(httpCtx); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", shutdownErr.Error()))
		}

		// 4. Release application resources (store connections, workers)
		if cleanupErr := cleanup(httpCtx); cleanupErr != nil {
			logger.Error("application cleanup error", slog.String("error", cleanupErr.Error()))
		}

		// 5. Flush telemetry last so shutdown spans ride out
		otelCtx, otelCancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
		defer otelCancel()
		if shutdownErr := providers.Shutdown(otelCtx); shutdownErr != nil {
			logger.Error("failed to shutdown telemetry", slog.String("error", shutdownErr.Error()))
		}

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

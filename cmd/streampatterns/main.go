// streampatterns gallery server. Runs the pattern engines over a shared
// log store and serves the HTTP control plane plus WebSocket telemetry.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/streampatterns/streampatterns/pkg/api"
	"github.com/streampatterns/streampatterns/pkg/config"
	"github.com/streampatterns/streampatterns/pkg/events"
	"github.com/streampatterns/streampatterns/pkg/patterns"
	"github.com/streampatterns/streampatterns/pkg/store"
	"github.com/streampatterns/streampatterns/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("CONFIG_FILE", "./config/streampatterns.yaml"),
		"Path to configuration file")
	flag.Parse()

	// Load .env sitting next to the configuration file
	envPath := filepath.Join(filepath.Dir(*configPath), ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting streampatterns",
		"version", version.Full(),
		"config", *configPath)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect to the log store (retries transient failures)
	connectCtx, connectCancel := context.WithTimeout(ctx, time.Minute)
	st, err := store.Connect(connectCtx, store.Config{
		Addr:         cfg.Store.Addr,
		Password:     cfg.Store.Password,
		DB:           cfg.Store.DB,
		PoolSize:     cfg.Store.PoolSize,
		MinIdleConns: cfg.Store.MinIdleConns,
		PoolTimeout:  cfg.Store.PoolTimeout,
		DialTimeout:  cfg.Store.DialTimeout,
		ReadTimeout:  cfg.Store.ReadTimeout,
		WriteTimeout: cfg.Store.WriteTimeout,
	})
	connectCancel()
	if err != nil {
		slog.Error("Failed to connect to the store", "addr", cfg.Store.Addr, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store client", "error", err)
		}
	}()
	slog.Info("Connected to log store", "addr", cfg.Store.Addr)

	// 3. Register server-side scripts
	scripts := store.NewScripts(st)
	if err := scripts.Load(ctx); err != nil {
		slog.Error("Failed to load store scripts", "error", err)
		os.Exit(1)
	}
	slog.Info("Store scripts loaded")

	// 4. Key-expiry notifications drive request/reply timeouts
	if err := st.EnableKeyEventNotifications(ctx); err != nil {
		slog.Error("Failed to enable key-event notifications", "error", err)
		os.Exit(1)
	}

	// 5. Event bus, claim-settings registry and pattern engines
	bus := events.NewBus(cfg.Events.SinkBuffer)
	registry := patterns.NewConfigRegistry(cfg.DLQ)
	engines := api.Engines{
		Registry:       registry,
		DLQ:            patterns.NewDLQEngine(st, scripts, bus, registry, cfg.DLQ),
		WorkQueue:      patterns.NewWorkQueueEngine(st, scripts, bus, cfg.WorkQueue, nil),
		FanOut:         patterns.NewFanOutEngine(st, scripts, bus, cfg.FanOut, nil),
		TopicRouting:   patterns.NewTopicRoutingEngine(st, scripts, bus, cfg.TopicRouting),
		ContentRouting: patterns.NewContentRouter(st, bus, cfg.ContentRouting),
		RequestReply:   patterns.NewRequestReplyEngine(st, scripts, bus, cfg.RequestReply),
		Scheduler:      patterns.NewSchedulerEngine(st, scripts, bus, cfg.Scheduler),
		PubSub:         patterns.NewPubSubEngine(st, bus, cfg.PubSub),
		Monitor:        patterns.NewMonitor(st, bus, cfg.Monitor, cfg.MonitorStreams()),
	}

	// 6. Start the background engines, monitor first
	type startable struct {
		name  string
		start func(context.Context) error
	}
	for _, eng := range []startable{
		{"monitor", engines.Monitor.Start},
		{"work-queue", engines.WorkQueue.Start},
		{"fan-out", engines.FanOut.Start},
		{"request-reply", engines.RequestReply.Start},
		{"scheduler", engines.Scheduler.Start},
		{"pubsub", engines.PubSub.Start},
	} {
		if err := eng.start(ctx); err != nil {
			slog.Error("Failed to start engine", "engine", eng.name, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Pattern engines started")

	// 7. Start HTTP server (non-blocking), then open the readiness gate
	httpServer := api.NewServer(cfg, st, bus, engines)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()
	httpServer.SetReady(true)

	slog.Info("streampatterns started successfully")

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: close the gate, drain the engines, then stop
	// the listener
	httpServer.SetReady(false)

	engineShutdownCtx, engineCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer engineCancel()

	done := make(chan struct{})
	go func() {
		engines.PubSub.Stop()
		engines.Scheduler.Stop()
		engines.RequestReply.Stop()
		engines.FanOut.Stop()
		engines.WorkQueue.Stop()
		engines.Monitor.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Pattern engines stopped gracefully")
	case <-engineShutdownCtx.Done():
		slog.Warn("Engine shutdown timeout exceeded, pending entries will be reclaimed after restart")
	}

	// Stop HTTP server with its own timeout
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

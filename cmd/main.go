package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ghost-chat/infrastructure/api"
	"ghost-chat/infrastructure/ws"
	"ghost-chat/internal"
	"ghost-chat/repositories"
	"ghost-chat/runtime"
	"ghost-chat/runtime/workers"
	"ghost-chat/services"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 5 * time.Second

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
// Returning instead of exiting lets the deferred closes flush badger and bluge.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage (BadgerDB + Bluge)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeCfg := bluge.DefaultConfig(config.BlugeFilepath)
	if config.BadgerInMemory {
		blugeCfg = bluge.InMemoryOnlyConfig()
	}
	blugeWriter, err := bluge.OpenWriter(blugeCfg)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	store, err := repositories.NewBadgerStore(db, logger,
		repositories.WithSearchIndex(repositories.NewMessageIndex(blugeWriter, logger)))
	if err != nil {
		return exitRuntime, fmt.Errorf("store initialization failed: %w", err)
	}

	// 3. Supervision & Orchestration
	clock := clockwork.NewRealClock()
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	orchestrator, err := runtime.NewOrchestrator(logger, store, sup, clock, runtime.Config{
		BufferSize:        config.BufferSize,
		SinkTimeout:       config.SinkTimeout,
		RedactionDelay:    config.RedactionDelay,
		PruneInterval:     config.PruneInterval,
		HeartbeatInterval: config.HeartbeatInterval,
		CapacityInterval:  config.MetricInterval,
		CapacityThreshold: config.LowCapacityThreshold,
		EnableModeration:  config.EnableModeration,
		CharReplacement:   charReplacement,
	})
	if err != nil {
		return exitRuntime, fmt.Errorf("orchestrator initialization failed: %w", err)
	}

	errChan := make(chan error, 3)
	go func() {
		logger.Info("Starting orchestrator...")
		if err := orchestrator.Start(ctx); err != nil {
			errChan <- fmt.Errorf("orchestrator error: %w", err)
		}
	}()

	// 4. HTTP collaborators and the websocket endpoint
	uploads, err := services.NewUploadService(logger, store, clock, config.UploadDir, int64(config.MaxUploadSize))
	if err != nil {
		return exitConfig, err
	}
	chatService := services.NewChatService(logger, store, orchestrator.Scheduler(), orchestrator.Registry(), orchestrator.Publisher())
	router := api.NewRouter(api.NewHandler(logger, chatService, uploads, clock, api.Config{
		UploadDir:      config.UploadDir,
		MaxUploadSize:  int64(config.MaxUploadSize),
		AllowedOrigins: config.Origins(),
	}))
	router.Handle("/ws", ws.NewHandler(ctx, orchestrator.Dispatcher(), ws.Config{
		MaxFrameSize:   int64(config.MaxFrameSize),
		SendBuffer:     config.ConnectionBufferSize,
		AllowedOrigins: config.Origins(),
	}, logger))

	servers := []*http.Server{{
		Addr:              config.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if config.DebugPort > 0 {
		stats := func() map[string]any {
			return map[string]any{"sessions": orchestrator.Registry().Len()}
		}
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf("localhost:%d", config.DebugPort),
			Handler:           internal.NewDebugHandler(db, "/inspect", stats, logger),
			ReadHeaderTimeout: 10 * time.Second,
		})
		logger.Info("Debug store inspector available", "url", fmt.Sprintf("http://localhost:%d/inspect", config.DebugPort))
	}

	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("Starting HTTP server", "address", srv.Addr, "at", time.Now().UTC())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("http server error on %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	// 5. Wait for Stop or Error
	code := exitOK
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		code = exitRuntime
	}

	// 6. Graceful Shutdown
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown failed", "address", srv.Addr, "error", err)
		}
	}
	stop()
	orchestrator.Stop()
	logger.Info("Program stopped cleanly")

	return code, runErr
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if config.BadgerInMemory {
		options = badger.DefaultOptions("").WithInMemory(true)
	}

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}
	return options
}

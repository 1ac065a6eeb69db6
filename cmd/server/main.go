package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting chat relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"addr", cfg.Addr,
		"allowed_origins", cfg.AllowedOrigins,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("chat relay stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("chat relay stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	relay := server.New(cfg, logger)
	httpServer := server.CreateServer(cfg, relay.SetupRoutes())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", httpServer.Addr, "ws_path", "/ws")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		// Stop accepting upgrades first; hijacked WebSocket connections are
		// not tracked by http.Server and are closed by the relay.
		httpErr := httpServer.Shutdown(shutdownCtx)
		relayErr := relay.Shutdown(shutdownCtx)
		return errors.Join(httpErr, relayErr)
	})

	return g.Wait()
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

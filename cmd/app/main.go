package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"liquidbot/internal/app"
	"liquidbot/internal/domain"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Connect feed, authenticate, reset the book
	if err := bootstrap.Start(ctx); err != nil {
		slog.Error("❌ Startup failed", slog.Any("error", err))
		if bootstrap.Session != nil {
			bootstrap.Session.Close()
		}
		os.Exit(1)
	}

	if bootstrap.Config.Trading.DryRun {
		slog.Info("✨ Dry run complete, exiting")
		bootstrap.Session.Close()
		return
	}

	slog.InfoContext(ctx, "✨ liquidbot fully operational. Press Ctrl+C to exit.",
		slog.String("symbol", bootstrap.Config.Trading.Symbol))

	// 4. Quoting loop
	err := bootstrap.Manager.Run(ctx)

	switch {
	case errors.Is(err, context.Canceled):
		slog.Info("👋 Shutting down gracefully...")
		bootstrap.Manager.Shutdown()
	case errors.Is(err, domain.ErrAuthentication):
		// Credentials are dead; an unwind request would fail the same way.
		slog.Error("authentication rejected, exiting", slog.Any("error", err))
		bootstrap.Session.Close()
		os.Exit(1)
	default:
		slog.Error("fatal error, unwinding", slog.Any("error", err))
		bootstrap.Manager.Shutdown()
		os.Exit(1)
	}
}

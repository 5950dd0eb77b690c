// Command sondealert runs the radiosonde landing alert service: it
// watches the SondeHub prediction feed, alerts Telegram subscribers to
// landings near their home coordinates, and relays APRS messages to
// registered callsigns.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashleyhuxley/sonde-alert/config"
	"github.com/ashleyhuxley/sonde-alert/errors"
	"github.com/ashleyhuxley/sonde-alert/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "sondealert.json", "path to the JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("configuration invalid", "path", *configPath, "error", err)
		os.Exit(exitCode(err))
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(cfg, logger)
	if err != nil {
		logger.Error("service assembly failed", "error", err)
		os.Exit(1)
	}

	if err := svc.Start(ctx); err != nil {
		logger.Error("startup failed", "error", err)
		_ = svc.Stop(shutdownTimeout)
		os.Exit(exitCode(err))
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := svc.Stop(shutdownTimeout); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		os.Exit(1)
	}
}

// exitCode distinguishes misconfiguration (2, fix the config and rerun)
// from runtime failures (1, a supervisor restart may succeed).
func exitCode(err error) int {
	if errors.IsFatal(err) {
		return 2
	}
	return 1
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"clusterwatch/internal/config"
	"clusterwatch/internal/dashboard"
	"clusterwatch/internal/gateway"
	"clusterwatch/internal/metrics"
	"clusterwatch/internal/poll"
	"clusterwatch/internal/state"
	"clusterwatch/internal/tracking"
	"clusterwatch/internal/web"
)

// version is set at build time via -ldflags "-X main.version=v1.0.0"
var version = "dev"

func main() {
	// Load config first to get log level
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		// Can't log yet as slog isn't configured
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	model := tracking.NewModel()
	appState := state.New(cfg.MaxLogs, cfg.UpstreamURL, version, model)

	// Configure slog with JSON handler and configured log level; Info and
	// above is mirrored into the UI activity log.
	logLevel := parseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(state.NewLogHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}), appState)))

	slog.Info("Starting clusterwatch", "version", version, "component", "Main")
	slog.Info("Upstream configured", "url", cfg.UpstreamURL, "timeout", cfg.UpstreamTimeout, "component", "Main")
	slog.Info("Poll intervals", "queues", cfg.QueueInterval, "tracking", cfg.TrackingInterval, "autoPoll", cfg.AutoPoll, "component", "Main")

	metrics.Register()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := gateway.NewClient(gateway.Config{
		BaseURL:  cfg.UpstreamURL,
		Username: cfg.UpstreamUsername,
		Password: cfg.UpstreamPassword,
		Timeout:  cfg.UpstreamTimeout,
		Insecure: cfg.UpstreamInsecure,
	})

	// Start the web UI server
	webServer := web.New(appState, cfg.WebPort, version)
	dash := dashboard.New(ctx, dashboard.Config{
		QueueInterval:    cfg.QueueInterval,
		TrackingInterval: cfg.TrackingInterval,
		TrackingRefresh:  cfg.TrackingRefresh,
	}, client, appState, model, webServer, webServer, webServer)
	webServer.Bind(dash)
	webServer.Start()

	// Show something right away; later refreshes are driven by the loops or
	// the UI controls.
	go func() {
		for _, view := range []poll.View{poll.ViewQueues, poll.ViewTracking} {
			if err := dash.Refresh(ctx, view); err != nil {
				slog.Warn("Initial refresh failed", "view", view, "error", err, "component", "Main")
			}
		}
	}()

	if cfg.AutoPoll {
		startPolling(dash, cfg)
	}

	<-ctx.Done()
	slog.Info("Shutting down gracefully", "component", "Main")

	dash.StopAll()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Web server shutdown failed", "error", err, "component", "Main")
	}
}

type poller interface {
	StartPolling(view poll.View, interval time.Duration) error
}

// startPolling starts both view loops, logging the ones that fail to start.
// It returns how many loops are running.
func startPolling(p poller, cfg *config.Config) int {
	started := 0
	for view, interval := range map[poll.View]time.Duration{
		poll.ViewQueues:   cfg.QueueInterval,
		poll.ViewTracking: cfg.TrackingInterval,
	} {
		if err := p.StartPolling(view, interval); err != nil {
			slog.Error("Failed to start polling", "view", view, "error", err, "component", "Main")
			continue
		}
		started++
	}
	return started
}

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

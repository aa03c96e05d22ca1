// Command aggproxyd is a demonstration entry point that boots the MCP
// Aggregation Proxy core: it loads a configuration snapshot, starts the
// Service Manager against every configured downstream service, and opens
// an Endpoint Session to every upstream agent endpoint. The CLI surface,
// daemonization, and PID-file management a production service would need
// are explicitly out of scope — this binary exists to exercise the
// wiring end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaymcp/aggproxy/internal/config"
	"github.com/relaymcp/aggproxy/internal/core"
	"github.com/relaymcp/aggproxy/internal/endpoint"
	"github.com/relaymcp/aggproxy/internal/eventbus"
	"github.com/relaymcp/aggproxy/internal/observe"
	"github.com/relaymcp/aggproxy/internal/servicemanager"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	// ── Load configuration ──────────────────────────────────────────────
	cfg, err := config.LoadYAMLFile(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "aggproxyd: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aggproxyd: %v\n", err)
		}
		return 1
	}

	logger.Info("aggproxyd starting",
		"config", *configPath,
		"mcp_servers", len(cfg.MCPServers),
		"mcp_endpoints", len(cfg.MCPEndpoints),
		"custom_tools", len(cfg.CustomMCPTools),
	)

	// ── Observability ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "aggproxy"})
	if err != nil {
		logger.Error("failed to initialise observability", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Boot Context ─────────────────────────────────────────────────────
	boot := core.New(ctx, logger, eventbus.New(), metrics)

	// ── Service Manager ──────────────────────────────────────────────────
	svcMgr := servicemanager.New(
		servicemanager.WithBus(boot.Bus),
		servicemanager.WithLogger(boot.Logger),
		servicemanager.WithMetrics(boot.Metrics),
	)
	if err := svcMgr.Start(ctx, cfg); err != nil {
		logger.Error("failed to start service manager", "err", err)
		return 1
	}

	// ── Endpoint Manager ─────────────────────────────────────────────────
	endpointMgr := endpoint.NewManager(boot.Bus, svcMgr, cfg.Connection, boot.Logger)
	endpointMgr.Start(ctx, cfg.MCPEndpoints)

	printStartupSummary(cfg, endpointMgr)
	logger.Info("aggproxyd ready — press Ctrl+C to shut down")

	<-ctx.Done()

	// ── Graceful shutdown ────────────────────────────────────────────────
	logger.Info("shutdown signal received, stopping…")
	endpointMgr.Stop()
	svcMgr.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := shutdownObserve(shutdownCtx); err != nil {
		logger.Error("observability shutdown error", "err", err)
	}

	logger.Info("goodbye")
	return 0
}

// ── Startup summary ─────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, endpointMgr *endpoint.Manager) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        aggproxy — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  downstream services : %-15d ║\n", len(cfg.MCPServers))
	fmt.Printf("║  custom MCP tools    : %-15d ║\n", len(cfg.CustomMCPTools))
	fmt.Printf("║  endpoint sessions   : %-15d ║\n", endpointMgr.SessionCount())
	fmt.Println("╚═══════════════════════════════════════╝")
}

// ── Logger ───────────────────────────────────────────────────────────────────

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

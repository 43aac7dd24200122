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

	"github.com/use-agent/unwrap/api"
	"github.com/use-agent/unwrap/api/handler"
	"github.com/use-agent/unwrap/config"
	"github.com/use-agent/unwrap/engine"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("unwrap starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"aggregators", cfg.Resolver.AggregatorHosts,
		"browser", cfg.Browser.Enabled,
	)

	// ── 3. Static strategy ──────────────────────────────────────────
	cls := engine.NewClassifier(cfg.Resolver.AggregatorHosts...)
	strategies := []engine.Strategy{
		engine.NewStaticFetcher(cls, engine.StaticOptions{
			Timeout:        cfg.Resolver.StaticTimeout,
			PreferRedirect: cfg.Resolver.PreferRedirect,
			Proxy:          cfg.Browser.DefaultProxy,
		}),
	}

	// ── 4. Browser strategy (launches Chromium) ─────────────────────
	var stats handler.StatsProvider
	if cfg.Browser.Enabled {
		browser, err := engine.NewRodBrowser(cfg.Browser)
		if err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer browser.Close()

		stats = browser
		strategies = append(strategies, engine.NewBrowserNavigator(browser, cls, engine.BrowserOptions{
			NavTimeout:   cfg.Resolver.NavTimeout,
			PollInterval: cfg.Resolver.PollInterval,
			PollAttempts: cfg.Resolver.PollAttempts,
			SettleDelay:  cfg.Resolver.SettleDelay,
		}, engine.RealClock{}))
	}

	dispatcher := engine.NewDispatcher(cls, strategies...)

	// ── 5. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(dispatcher, stats, cfg, startTime)

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Browser resolutions can run for close to a minute.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// browser.Close() runs via defer and kills Chrome.
	slog.Info("unwrap stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(h))
}

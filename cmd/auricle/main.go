// Command auricle is the wake-word gated speech recognition daemon.
//
// It stays cheap while idle, scoring microphone audio against one or more
// trigger phrases, and opens the full transcription pipeline when a phrase
// is heard. Recognised speech is logged, optionally persisted to a local
// event log, and optionally published to NATS for downstream agents.
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

	"github.com/auricle-dev/auricle/internal/app"
	"github.com/auricle-dev/auricle/internal/config"
	"github.com/auricle-dev/auricle/internal/observe"
	"github.com/auricle-dev/auricle/pkg/provider/wake/openwake"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	ortLib := flag.String("onnxruntime", "", "path to the ONNX Runtime shared library (empty uses the binding default)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("auricle", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "auricle: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "auricle: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Logging.Level.Slog())
	logger := newLogger(cfg.Logging.Format, level)
	slog.SetDefault(logger)

	slog.Info("auricle starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Logging.Level,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "auricle",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── ONNX Runtime (openwake backend only) ──────────────────────────────────
	if cfg.Wake.Backend == config.WakeOpenWake {
		if err := openwake.InitRuntime(*ortLib); err != nil {
			slog.Error("failed to initialise onnxruntime", "err", err)
			return 1
		}
		defer func() {
			if err := openwake.ShutdownRuntime(); err != nil {
				slog.Warn("onnxruntime shutdown error", "err", err)
			}
		}()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg,
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetrics(observe.DefaultMetrics()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("daemon ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         auricle  startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Wake backend", string(cfg.Wake.Backend))
	printRow("Trigger models", fmt.Sprintf("%d", len(cfg.Wake.Models)))
	printRow("STT model", cfg.STT.ModelPath)
	printRow("VAD model", cfg.VAD.ModelPath)
	printRow("Capture", string(cfg.Capture.Source))
	printRow("Silence timeout", cfg.Gate.SilenceTimeout.String())
	if cfg.Telemetry.MetricsAddr != "" {
		printRow("Metrics", cfg.Telemetry.MetricsAddr)
	} else {
		printRow("Metrics", "(disabled)")
	}
	if cfg.Messaging.Enabled {
		printRow("Messaging", cfg.Messaging.URL)
	} else {
		printRow("Messaging", "(disabled)")
	}
	if cfg.EventLog.Enabled {
		printRow("Event log", cfg.EventLog.Path)
	} else {
		printRow("Event log", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	videoplayer "github.com/e7canasta/orion-videoplayer"
	"github.com/e7canasta/orion-videoplayer/internal/av"
	"github.com/e7canasta/orion-videoplayer/internal/config"
	"github.com/e7canasta/orion-videoplayer/internal/engine"
	"github.com/e7canasta/orion-videoplayer/internal/gpu"
	"github.com/e7canasta/orion-videoplayer/internal/media"
	"github.com/e7canasta/orion-videoplayer/internal/ui"
)

// Version information
const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	uri := flag.String("url", "", "Single stream URL (used when no config is given)")
	transport := flag.String("transport", "", "RTSP transport for --url: tcp, udp or empty for auto")
	lowLatency := flag.Bool("low-latency", false, "Low latency mode for --url")
	hwaccel := flag.Bool("hwaccel", false, "Enable GPU decoding and snapshots")
	headless := flag.Bool("headless", false, "Run without the terminal UI until interrupted")
	logFile := flag.String("log", "videoplayer.log", "Log file used while the terminal UI runs")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("videoplayer %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath, *uri, *transport, *lowLatency, *hwaccel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  videoplayer --config streams.yaml\n")
		fmt.Fprintf(os.Stderr, "  videoplayer --url rtsp://192.168.1.100/stream --transport tcp --low-latency\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	var out io.Writer = os.Stderr
	if !*headless {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	level := parseLevel(cfg.Engine.LogLevel)
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger, *headless); err != nil {
		slog.Error("videoplayer failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, headless bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := engine.Options{
		Backend: av.NewBackend(logger),
		Logger:  logger,
	}

	if cfg.GPU.Enabled {
		provider, err := gpu.New(gpu.Config{
			DeviceType:      cfg.GPU.DeviceType,
			Device:          cfg.GPU.Device,
			Encoder:         cfg.GPU.Encoder,
			SnapshotTimeout: cfg.GPU.SnapshotTimeout,
		}, logger)
		if err != nil {
			slog.Warn("gpu acceleration disabled", "error", err)
		} else {
			defer provider.Close()
			opts.Attach = func() media.Accelerator { return provider.Attach() }
		}
	}

	mgr, err := engine.NewManager(cfg, opts)
	if err != nil {
		return err
	}
	mgr.Start(ctx)

	slog.Info("videoplayer starting", "version", version, "streams", len(cfg.Streams), "gpu", cfg.GPU.Enabled)

	go func() {
		if err := mgr.OpenAll(ctx); err != nil {
			slog.Warn("some streams failed to open", "error", err)
		}
	}()

	if headless {
		<-ctx.Done()
		slog.Info("received signal, shutting down")
	} else {
		p := ui.Run(mgr)
		go func() {
			<-ctx.Done()
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			slog.Error("terminal ui failed", "error", err)
		}
	}

	timeout := cfg.Engine.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// loadConfig reads path, or builds a single-stream configuration from the
// command line when path is empty.
func loadConfig(path, uri, transport string, lowLatency, hwaccel bool) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		if hwaccel {
			cfg.GPU.Enabled = true
		}
		return cfg, nil
	}

	if uri == "" {
		return nil, fmt.Errorf("--config or --url is required")
	}

	cfg := config.Default()
	cfg.GPU.Enabled = hwaccel
	cfg.Streams = []config.StreamConfig{{
		Name:      "main",
		URI:       uri,
		AutoStart: true,
		Options: videoplayer.StreamOptions{
			LowLatencyMode:       lowLatency,
			Transport:            transport,
			HardwareAcceleration: hwaccel,
		},
	}}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

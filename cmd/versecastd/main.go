package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/versecast/internal/config"
	"github.com/loqalabs/versecast/internal/runtime"
	"github.com/loqalabs/versecast/internal/tts"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout))
}

// run is the daemon without process globals; it returns the exit code.
func run(ctx context.Context, args []string, stdout io.Writer) int {
	flags := flag.NewFlagSet("versecastd", flag.ContinueOnError)
	flags.SetOutput(stdout)
	configPath := flags.String("config", "versecast.yaml", "Path to configuration file")
	showVersion := flags.Bool("version", false, "Print version and exit")
	check := flags.Bool("check", false, "Validate configuration and synthesis backends, then exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		return 1
	}
	if err := level.UnmarshalText([]byte(cfg.Telemetry.LogLevel)); err != nil {
		logger.Warn("unknown log level, using info", slog.String("level", cfg.Telemetry.LogLevel))
	}
	logger = logger.With(slog.String("service", cfg.ServiceName))

	if *check {
		return checkConfig(cfg, stdout, logger)
	}

	runtime.Version = version
	logger.Info("starting",
		slog.String("version", version),
		slog.String("backend", cfg.Synthesis.Backend),
		slog.String("storage", cfg.Storage.Root),
		slog.Bool("bus", cfg.Bus.Enabled))
	if err := runtime.New(cfg, logger).Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// checkConfig builds the synthesis backends without contacting them, which
// catches an unparsable fallback command before deployment.
func checkConfig(cfg config.Config, stdout io.Writer, logger *slog.Logger) int {
	if _, _, err := tts.Backends(cfg, logger); err != nil {
		logger.Error("synthesis backends invalid", slog.String("error", err.Error()))
		return 1
	}
	fallback := "disabled"
	if cfg.Fallback.Enabled {
		fallback = cfg.Fallback.Mode
	}
	fmt.Fprintf(stdout, "config ok: backend=%s voice=%s fallback=%s storage=%s\n",
		cfg.Synthesis.Backend, cfg.Synthesis.Voice, fallback, cfg.Storage.Root)
	return 0
}

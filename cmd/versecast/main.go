package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loqalabs/versecast/internal/config"
	"github.com/loqalabs/versecast/internal/eventstore"
	"github.com/loqalabs/versecast/internal/hls"
	"github.com/loqalabs/versecast/internal/segment"
)

var version = "0.1.0-dev"

// app carries what every subcommand shares once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
	logger     *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "versecast",
		Short:        "Generate and manage verse-by-verse chapter audio",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "versecast.yaml", "configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newVoicesCmd(a),
		newSynthCmd(a),
		newGenerateCmd(a),
		newValidateCmd(a),
		newDeleteCmd(a),
		newRunsCmd(a),
		newRequestCmd(a),
	)
	return root
}

// load reads the config file. A missing default file falls back to built-in
// defaults; a missing file named with --config is an error.
func (a *app) load(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	path := a.configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) storage() (*segment.Store, *hls.Builder, error) {
	files, err := segment.NewFileStore(a.cfg.Storage.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	store := segment.New(files, files.Root(), a.cfg.Storage.BaseURL)
	return store, hls.NewBuilder(store, a.logger), nil
}

func (a *app) ledger(ctx context.Context) (*eventstore.Store, error) {
	return eventstore.Open(ctx, a.cfg.Ledger, a.logger)
}

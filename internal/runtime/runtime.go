package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/versecast/internal/bus"
	"github.com/loqalabs/versecast/internal/config"
	"github.com/loqalabs/versecast/internal/eventstore"
	"github.com/loqalabs/versecast/internal/generator"
	"github.com/loqalabs/versecast/internal/hls"
	"github.com/loqalabs/versecast/internal/natsserver"
	"github.com/loqalabs/versecast/internal/protocol"
	"github.com/loqalabs/versecast/internal/segment"
	"github.com/loqalabs/versecast/internal/tts"
)

// Version is stamped by the daemon at startup.
var Version = "0.1.0-dev"

const (
	eventStream    = "CHAPTER_EVENTS"
	eventRetention = 24 * time.Hour
)

type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	metricsServer  *http.Server
	metricsHandler http.Handler
	tracerClose    func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup

	ledger      *eventstore.Store
	store       *segment.Store
	builder     *hls.Builder
	interactive *generator.Generator
	precache    *generator.Generator
	nats        *natsserver.EmbeddedServer
	bus         *bus.Client
	service     *generator.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metricsHandler = metricsHandler

	if err := r.setup(ctx); err != nil {
		r.teardown()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if r.metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != addr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", r.metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	r.teardown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

// setup opens storage and the ledger, builds both generators and, when the
// bus is enabled, starts the generation service.
func (r *Runtime) setup(ctx context.Context) error {
	ledger, err := eventstore.Open(ctx, r.cfg.Ledger, r.logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	r.ledger = ledger
	if err := ledger.Ensure(); err != nil {
		return err
	}

	files, err := segment.NewFileStore(r.cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	r.store = segment.New(files, files.Root(), r.cfg.Storage.BaseURL)
	r.builder = hls.NewBuilder(r.store, r.logger)

	remote, local, err := tts.Backends(r.cfg, r.logger)
	if err != nil {
		return err
	}
	opts := generator.OptionsFromConfig(r.cfg.Generator, r.cfg.Synthesis)
	r.interactive = generator.New(opts, remote, local, r.store, r.builder, ledger, r.logger)
	precacheOpts := opts
	precacheOpts.Yield = true
	r.precache = generator.New(precacheOpts, remote, local, r.store, r.builder, ledger, r.logger)

	if !r.cfg.Bus.Enabled {
		return nil
	}

	r.nats, err = natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	busCfg := r.cfg.Bus
	if r.nats != nil {
		busCfg.Servers = []string{r.nats.ClientURL()}
	}
	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	if err := r.bus.EnsureStream(eventStream, []string{protocol.SubjectEvents}, eventRetention); err != nil {
		r.logger.Warn("failed to ensure event stream", slog.String("error", err.Error()))
	}

	r.service = generator.NewService(ctx, r.bus, r.interactive, r.precache, r.logger)
	return r.service.Start()
}

func (r *Runtime) teardown() {
	if r.service != nil {
		r.service.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()
	if r.ledger != nil {
		if err := r.ledger.Close(); err != nil {
			r.logger.Warn("ledger close failed", slog.String("error", err.Error()))
		}
	}
}

package generator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/loqalabs/versecast/internal/tts"
)

const instrumentationName = "github.com/loqalabs/versecast/generator"

type instruments struct {
	segments  metric.Int64Counter
	fallbacks metric.Int64Counter
	failures  metric.Int64Counter
	latency   metric.Float64Histogram
	active    metric.Int64ObservableGauge
	running   atomic.Int64
}

func newInstruments(log *slog.Logger) *instruments {
	m := &instruments{}
	if err := m.init(otel.Meter(instrumentationName)); err != nil {
		log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		_ = m.init(noop.NewMeterProvider().Meter(instrumentationName))
	}
	return m
}

func (m *instruments) init(meter metric.Meter) error {
	var err error
	if m.segments, err = meter.Int64Counter("versecast.segments",
		metric.WithDescription("Verse segments written, by backend")); err != nil {
		return err
	}
	if m.fallbacks, err = meter.Int64Counter("versecast.fallbacks",
		metric.WithDescription("Verses synthesized locally after a remote failure")); err != nil {
		return err
	}
	if m.failures, err = meter.Int64Counter("versecast.runs.failed",
		metric.WithDescription("Generation runs that ended in error, by kind")); err != nil {
		return err
	}
	if m.latency, err = meter.Float64Histogram("versecast.synthesis.latency",
		metric.WithDescription("Per-verse synthesis latency"), metric.WithUnit("s")); err != nil {
		return err
	}
	m.active, err = meter.Int64ObservableGauge("versecast.runs.active",
		metric.WithDescription("Generation runs in progress"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.running.Load())
			return nil
		}))
	return err
}

func (m *instruments) segment(ctx context.Context, backend tts.Backend, took time.Duration) {
	attrs := metric.WithAttributes(attribute.String("backend", string(backend)))
	m.segments.Add(ctx, 1, attrs)
	m.latency.Record(ctx, took.Seconds(), attrs)
}

func (m *instruments) fallback(ctx context.Context) {
	m.fallbacks.Add(ctx, 1)
}

func (m *instruments) failed(ctx context.Context, kind string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/loqalabs/versecast/internal/config"
)

// Per-verse synthesis takes from a few hundred milliseconds to the request
// timeout; the default histogram buckets are too coarse below one second.
var synthesisLatencyBuckets = []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 8, 13, 20, 30}

func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()
	res, err := generationResource(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	exporter, kind, err := spanExporter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)
	logger.Info("tracing initialized", slog.String("exporter", kind))

	meterProvider, handler := meterProvider(res, logger)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), tracerProvider.Shutdown(ctx))
	}
	return shutdown, handler, nil
}

// generationResource describes this process and how it produces audio, so
// spans and series from an offline or fallback-only deployment are told
// apart from the edge-backed ones.
func generationResource(ctx context.Context, cfg config.Config) (*resource.Resource, error) {
	fallback := "disabled"
	if cfg.Fallback.Enabled {
		fallback = cfg.Fallback.Mode
	}
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(Version),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("versecast.synthesis.backend", cfg.Synthesis.Backend),
			attribute.String("versecast.synthesis.voice", cfg.Synthesis.Voice),
			attribute.String("versecast.fallback", fallback),
			attribute.Int("versecast.quick_start_verses", cfg.Generator.QuickStartVerses),
		),
	)
}

// spanExporter picks where spans go: an OTLP collector when one is
// configured, stdout in development, nowhere otherwise. A nil exporter still
// yields spans for context propagation.
func spanExporter(ctx context.Context, cfg config.Config) (sdktrace.SpanExporter, string, error) {
	endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint)
	switch {
	case endpoint != "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, "", err
		}
		return exp, "otlp", nil
	case cfg.Environment == "development":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, "", err
		}
		return exp, "stdout", nil
	default:
		return nil, "none", nil
	}
}

// meterProvider exports through prometheus when it can. Without the exporter
// instruments still record, and /metrics is not served.
func meterProvider(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	latency := sdkmetric.NewView(
		sdkmetric.Instrument{Name: "versecast.synthesis.latency"},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: synthesisLatencyBuckets}},
	)
	opts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithView(latency)}

	exporter, err := prometheus.New()
	if err != nil {
		logger.Warn("prometheus exporter unavailable", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(opts...), nil
	}
	return sdkmetric.NewMeterProvider(append(opts, sdkmetric.WithReader(exporter))...), promhttp.Handler()
}

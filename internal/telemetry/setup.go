package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
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
)

// Trace exporters understood by Setup.
const (
	TracesNone   = "none"
	TracesStdout = "stdout"
	TracesOTLP   = "otlp"
)

// Options configures the global telemetry providers.
type Options struct {
	ServiceName  string
	Version      string
	Environment  string
	Traces       string
	OTLPEndpoint string
	OTLPInsecure bool
	// TraceWriter receives stdout traces; defaults to os.Stdout in the exporter.
	TraceWriter io.Writer
}

// Setup installs global meter and tracer providers. It returns a shutdown
// function and an http.Handler serving Prometheus metrics (nil when the
// exporter could not be created).
func Setup(ctx context.Context, opts Options, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telemetry")

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.Version),
			attribute.String("deployment.environment", opts.Environment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	tp, err := initTracer(ctx, opts, res, logger)
	if err != nil {
		return nil, nil, err
	}
	if tp != nil {
		otel.SetTracerProvider(tp)
	}

	mp, handler := initMetrics(res, logger)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		var errs []error
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if tp != nil {
			if err := tp.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return shutdown, handler, nil
}

func initTracer(ctx context.Context, opts Options, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	switch strings.ToLower(strings.TrimSpace(opts.Traces)) {
	case "", TracesNone:
		return nil, nil
	case TracesOTLP:
		endpoint := strings.TrimSpace(opts.OTLPEndpoint)
		if endpoint == "" {
			return nil, fmt.Errorf("telemetry: otlp traces require an endpoint")
		}
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if opts.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		exporter = exp
		logger.Info("telemetry initialized", "exporter", "otlp", "endpoint", endpoint)
	case TracesStdout:
		stdoutOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if opts.TraceWriter != nil {
			stdoutOpts = append(stdoutOpts, stdouttrace.WithWriter(opts.TraceWriter))
		}
		exp, err := stdouttrace.New(stdoutOpts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		exporter = exp
		logger.Info("telemetry initialized", "exporter", "stdout")
	default:
		return nil, fmt.Errorf("telemetry: unknown trace exporter %q", opts.Traces)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func initMetrics(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	promExporter, err := prometheus.New()
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", "error", err)
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	return mp, promhttp.Handler()
}

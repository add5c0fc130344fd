package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nupi-ai/plugin-tts-batch"

// Recorder centralises telemetry (logs, metrics, traces) for batch runs and
// the adapter server. Instruments come from the global otel providers unless
// explicit ones are supplied.
type Recorder struct {
	logger *slog.Logger
	tracer trace.Tracer

	rows      metric.Int64Counter
	attempts  metric.Int64Counter
	latency   metric.Float64Histogram
	batches   metric.Int64Counter
	synthesis metric.Int64Counter
}

// NewRecorder constructs a telemetry recorder bound to the global meter and
// tracer providers.
func NewRecorder(logger *slog.Logger) *Recorder {
	return NewRecorderWithProviders(logger, otel.GetMeterProvider(), otel.GetTracerProvider())
}

// NewRecorderWithProviders constructs a recorder using the given providers.
func NewRecorderWithProviders(logger *slog.Logger, mp metric.MeterProvider, tp trace.TracerProvider) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		logger: logger.With("component", "telemetry"),
		tracer: tp.Tracer(instrumentationName),
	}
	meter := mp.Meter(instrumentationName)

	var err error
	if r.rows, err = meter.Int64Counter("ttsbatch.rows",
		metric.WithDescription("Rows processed, by outcome status")); err != nil {
		r.logger.Warn("failed to create rows counter", "error", err)
	}
	if r.attempts, err = meter.Int64Counter("ttsbatch.synthesis.attempts",
		metric.WithDescription("Provider calls made, including retries")); err != nil {
		r.logger.Warn("failed to create attempts counter", "error", err)
	}
	if r.latency, err = meter.Float64Histogram("ttsbatch.row.duration",
		metric.WithDescription("Wall time spent on one row"),
		metric.WithUnit("s")); err != nil {
		r.logger.Warn("failed to create latency histogram", "error", err)
	}
	if r.batches, err = meter.Int64Counter("ttsbatch.batches",
		metric.WithDescription("Completed batch runs")); err != nil {
		r.logger.Warn("failed to create batches counter", "error", err)
	}
	if r.synthesis, err = meter.Int64Counter("ttsbatch.adapter.requests",
		metric.WithDescription("Synthesis requests served by the adapter, by status")); err != nil {
		r.logger.Warn("failed to create adapter counter", "error", err)
	}
	return r
}

// Logger returns the underlying slog.Logger for direct use.
func (r *Recorder) Logger() *slog.Logger {
	return r.logger
}

// StartRow opens a span covering one row of a batch.
func (r *Recorder) StartRow(ctx context.Context, runID string, index int, filename string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "ttsbatch.row",
		trace.WithAttributes(
			attribute.String("ttsbatch.run_id", runID),
			attribute.Int("ttsbatch.row.index", index),
			attribute.String("ttsbatch.row.filename", filename),
		),
	)
}

// Attempt counts one provider call.
func (r *Recorder) Attempt(ctx context.Context) {
	if r.attempts != nil {
		r.attempts.Add(ctx, 1)
	}
}

// RowFinished records the outcome of a row and ends its span.
func (r *Recorder) RowFinished(ctx context.Context, span trace.Span, status, reason string, attempts int, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	if r.rows != nil {
		r.rows.Add(ctx, 1, attrs)
	}
	if r.latency != nil {
		r.latency.Record(ctx, elapsed.Seconds(), attrs)
	}
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("ttsbatch.row.status", status),
		attribute.Int("ttsbatch.row.attempts", attempts),
	)
	if reason != "" {
		span.SetStatus(codes.Error, reason)
	}
	span.End()
}

// BatchFinished records a completed batch.
func (r *Recorder) BatchFinished(ctx context.Context, runID string, succeeded, failed int, elapsed time.Duration) {
	if r.batches != nil {
		r.batches.Add(ctx, 1)
	}
	r.logger.Info("batch finished",
		"run_id", runID,
		"succeeded", succeeded,
		"failed", failed,
		"duration_sec", elapsed.Seconds(),
	)
}

// SynthesisServed counts a request handled by the adapter server.
func (r *Recorder) SynthesisServed(ctx context.Context, status string) {
	if r.synthesis != nil {
		r.synthesis.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

// Package metrics is the ambient observability surface named but not
// mechanized by spec.md §4.B ("dropped_events ... surfaced via metrics").
// It wraps OpenTelemetry's metric API, grounded on the teacher's existing
// otel/trace dependency and zkoranges-go-claw's full OTel stack — the
// only pack repo that wires a complete metrics pipeline.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds every counter/gauge the engine's components publish to.
// It is constructed once by pkg/engine and passed by reference to
// collaborators, never reached via a package-level global.
type Metrics struct {
	meter metric.Meter

	DroppedEvents       metric.Int64Counter
	RateBudgetTokens    metric.Int64Gauge
	MediaQueueDepth     metric.Int64UpDownCounter
	MediaDownloaded     metric.Int64Counter
	BackfillPages       metric.Int64Counter
	Detections          metric.Int64Counter
	AutoJoinsToday      metric.Int64UpDownCounter
	PersistenceRetries  metric.Int64Counter
}

// New builds a Metrics instance backed by an in-process OTel
// MeterProvider. The stdout trace exporter import keeps the tracing half
// of the teacher's otel dependency exercised even though this engine's
// primary signal is metrics, not traces: a future diagnostic trace
// exporter can be swapped in without touching callers.
func New() (*Metrics, error) {
	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter("telecorpus/ingest")

	m := &Metrics{meter: meter}
	var err error
	if m.DroppedEvents, err = meter.Int64Counter("session_dropped_events"); err != nil {
		return nil, fmt.Errorf("dropped_events counter: %w", err)
	}
	if m.RateBudgetTokens, err = meter.Int64Gauge("session_rate_budget_tokens"); err != nil {
		return nil, fmt.Errorf("rate_budget_tokens gauge: %w", err)
	}
	if m.MediaQueueDepth, err = meter.Int64UpDownCounter("media_queue_depth"); err != nil {
		return nil, fmt.Errorf("media_queue_depth counter: %w", err)
	}
	if m.MediaDownloaded, err = meter.Int64Counter("media_downloaded_total"); err != nil {
		return nil, fmt.Errorf("media_downloaded_total counter: %w", err)
	}
	if m.BackfillPages, err = meter.Int64Counter("backfill_pages_total"); err != nil {
		return nil, fmt.Errorf("backfill_pages_total counter: %w", err)
	}
	if m.Detections, err = meter.Int64Counter("detections_total"); err != nil {
		return nil, fmt.Errorf("detections_total counter: %w", err)
	}
	if m.AutoJoinsToday, err = meter.Int64UpDownCounter("autojoins_today"); err != nil {
		return nil, fmt.Errorf("autojoins_today counter: %w", err)
	}
	if m.PersistenceRetries, err = meter.Int64Counter("persistence_retries_total"); err != nil {
		return nil, fmt.Errorf("persistence_retries_total counter: %w", err)
	}
	return m, nil
}

// NewNoop returns New's Metrics and panics if New fails. The
// MeterProvider it builds has no reader, so nothing it records is
// exported.
func NewNoop() *Metrics {
	m, err := New()
	if err != nil {
		panic(err)
	}
	return m
}

// NewDebugTraceExporter builds a stdout trace exporter for ad-hoc local
// debugging of RPC call spans; not wired into the default engine startup.
func NewDebugTraceExporter(ctx context.Context) (*stdouttrace.Exporter, error) {
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}

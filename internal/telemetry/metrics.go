package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/wolfeidau/appbundle"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Build metrics
	BuildsTotal      metric.Int64Counter
	BuildErrorsTotal metric.Int64Counter
	BuildDuration    metric.Float64Histogram
	RebuildsTotal    metric.Int64Counter

	// Asset metrics
	AssetBytes         metric.Int64Histogram
	AssetsWrittenTotal metric.Int64Counter
	AssetsSkippedTotal metric.Int64Counter

	// Dev server metrics
	RequestsTotal    metric.Int64Counter
	ReloadClients    metric.Int64UpDownCounter
	ReloadsSentTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for build spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	m.BuildsTotal, _ = meter.Int64Counter(
		"appbundle.builds.total",
		metric.WithDescription("Total number of bundle builds"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"appbundle.builds.errors.total",
		metric.WithDescription("Total number of failed bundle builds"),
		metric.WithUnit("{build}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"appbundle.builds.duration",
		metric.WithDescription("Duration of bundle builds"),
		metric.WithUnit("ms"),
	)

	m.RebuildsTotal, _ = meter.Int64Counter(
		"appbundle.rebuilds.total",
		metric.WithDescription("Total number of rebuilds triggered by file changes"),
		metric.WithUnit("{build}"),
	)

	m.AssetBytes, _ = meter.Int64Histogram(
		"appbundle.assets.size",
		metric.WithDescription("Size of emitted assets"),
		metric.WithUnit("By"),
	)

	m.AssetsWrittenTotal, _ = meter.Int64Counter(
		"appbundle.assets.written.total",
		metric.WithDescription("Total number of assets written to disk"),
		metric.WithUnit("{asset}"),
	)

	m.AssetsSkippedTotal, _ = meter.Int64Counter(
		"appbundle.assets.skipped.total",
		metric.WithDescription("Total number of unchanged assets not rewritten"),
		metric.WithUnit("{asset}"),
	)

	m.RequestsTotal, _ = meter.Int64Counter(
		"appbundle.devserver.requests.total",
		metric.WithDescription("Total number of dev server requests"),
		metric.WithUnit("{request}"),
	)

	m.ReloadClients, _ = meter.Int64UpDownCounter(
		"appbundle.devserver.reload_clients",
		metric.WithDescription("Number of connected live reload clients"),
		metric.WithUnit("{client}"),
	)

	m.ReloadsSentTotal, _ = meter.Int64Counter(
		"appbundle.devserver.reloads.total",
		metric.WithDescription("Total number of reload notifications broadcast"),
		metric.WithUnit("{reload}"),
	)

	return m
}

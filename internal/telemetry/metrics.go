package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/staffconsole"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Request metrics
	RequestsTotal       metric.Int64Counter
	RequestErrorsTotal  metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	RequestRetriesTotal metric.Int64Counter

	// Refresh metrics
	RefreshTotal         metric.Int64Counter
	RefreshFailuresTotal metric.Int64Counter
	RefreshWaitersTotal  metric.Int64Counter
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

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.RequestsTotal, _ = meter.Int64Counter(
		"staffconsole.requests.total",
		metric.WithDescription("Total number of API requests sent, including retries"),
		metric.WithUnit("{request}"),
	)

	m.RequestErrorsTotal, _ = meter.Int64Counter(
		"staffconsole.requests.errors.total",
		metric.WithDescription("Total number of API requests that received no response"),
		metric.WithUnit("{error}"),
	)

	m.RequestDuration, _ = meter.Float64Histogram(
		"staffconsole.requests.duration",
		metric.WithDescription("Duration of API requests"),
		metric.WithUnit("ms"),
	)

	m.RequestRetriesTotal, _ = meter.Int64Counter(
		"staffconsole.requests.retries.total",
		metric.WithDescription("Total number of requests resent after a token refresh"),
		metric.WithUnit("{request}"),
	)

	m.RefreshTotal, _ = meter.Int64Counter(
		"staffconsole.refresh.total",
		metric.WithDescription("Total number of access token refresh calls started"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshFailuresTotal, _ = meter.Int64Counter(
		"staffconsole.refresh.failures.total",
		metric.WithDescription("Total number of failed access token refresh calls"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshWaitersTotal, _ = meter.Int64Counter(
		"staffconsole.refresh.waiters.total",
		metric.WithDescription("Total number of requests that waited on a shared refresh"),
		metric.WithUnit("{request}"),
	)

	return m
}

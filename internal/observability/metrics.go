package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the service's instruments:
// - HTTP: latency, traffic and errors of the API
// - Jobs: creations, start attempts and status reconciliations
// - Compose: latency and outcome of every compose invocation
// - Follow-up: AfterRunner spawns
type Metrics struct {
	meter metric.Meter

	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	JobsCreated        metric.Int64Counter
	JobStarts          metric.Int64Counter
	JobStatusRefreshes metric.Int64Counter

	ComposeDuration metric.Float64Histogram

	FollowUpSpawned metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("switchbox")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsCreated, err = meter.Int64Counter(
		"jobs_created_total",
		metric.WithDescription("Total number of job directories created"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobStarts, err = meter.Int64Counter(
		"job_starts_total",
		metric.WithDescription("Total number of job start attempts"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobStatusRefreshes, err = meter.Int64Counter(
		"job_status_refresh_total",
		metric.WithDescription("Total number of job status reads, by resulting state"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ComposeDuration, err = meter.Float64Histogram(
		"compose_command_duration_seconds",
		metric.WithDescription("Compose command latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, nil, err
	}

	m.FollowUpSpawned, err = meter.Int64Counter(
		"followup_spawned_total",
		metric.WithDescription("Total number of follow-up supervisors spawned"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobCreated records a new job directory.
func (m *Metrics) RecordJobCreated(ctx context.Context) {
	m.JobsCreated.Add(ctx, 1)
}

// RecordJobStart records a start attempt.
func (m *Metrics) RecordJobStart(ctx context.Context, success bool) {
	m.JobStarts.Add(ctx, 1, WithSuccess(success))
}

// RecordStatusRefresh records a status read and the state it produced.
func (m *Metrics) RecordStatusRefresh(ctx context.Context, state string) {
	m.JobStatusRefreshes.Add(ctx, 1, metric.WithAttributes(stateAttr(state)))
}

// RecordComposeCommand records one compose invocation.
func (m *Metrics) RecordComposeCommand(ctx context.Context, subcommand string, duration time.Duration, success bool) {
	m.ComposeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		subcommandAttr(subcommand),
		successAttr(success),
	))
}

// RecordFollowUpSpawned records an AfterRunner spawn attempt.
func (m *Metrics) RecordFollowUpSpawned(ctx context.Context, success bool) {
	m.FollowUpSpawned.Add(ctx, 1, WithSuccess(success))
}

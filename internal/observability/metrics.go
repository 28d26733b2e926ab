package observability

import (
	"context"
	"net/http"

	"github.com/livinlefevreloca/originator/internal/jobstate"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the originator's instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	FilesStarted  metric.Int64Counter
	FilesFinished metric.Int64Counter
	FilesPending  metric.Int64UpDownCounter
	Crashes       metric.Int64Counter
	DecodeErrors  metric.Int64Counter
	InvalidEvents metric.Int64Counter
	Runs          metric.Int64Counter
	RunDuration   metric.Float64Histogram
	SyncDuration  metric.Float64Histogram
}

// NewMetrics creates the instruments on a private registry and returns the
// handler that serves it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("originator")
	m := &Metrics{meter: meter, provider: provider}

	m.FilesStarted, err = meter.Int64Counter(
		"originator_files_started_total",
		metric.WithDescription("Files picked up by workers"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.FilesFinished, err = meter.Int64Counter(
		"originator_files_finished_total",
		metric.WithDescription("Files finished by workers"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.FilesPending, err = meter.Int64UpDownCounter(
		"originator_files_remaining",
		metric.WithDescription("Files not yet finished or crashed"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Crashes, err = meter.Int64Counter(
		"originator_worker_crashes_total",
		metric.WithDescription("Job-level crash reports received"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DecodeErrors, err = meter.Int64Counter(
		"originator_decode_errors_total",
		metric.WithDescription("Inbound messages that could not be decoded"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.InvalidEvents, err = meter.Int64Counter(
		"originator_invalid_events_total",
		metric.WithDescription("Decoded events rejected by the job state"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Runs, err = meter.Int64Counter(
		"originator_runs_total",
		metric.WithDescription("Job runs by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunDuration, err = meter.Float64Histogram(
		"originator_run_duration_seconds",
		metric.WithDescription("Wall time of a job run"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SyncDuration, err = meter.Float64Histogram(
		"originator_sync_duration_seconds",
		metric.WithDescription("Duration of the source push"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordRunStarted records the size of a newly published job.
func (m *Metrics) RecordRunStarted(ctx context.Context, files int) {
	if m == nil {
		return
	}
	m.FilesPending.Add(ctx, int64(files))
}

// RecordRunCompleted records the outcome and duration of a run.
func (m *Metrics) RecordRunCompleted(ctx context.Context, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := WithOutcome(outcome)
	m.Runs.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, durationSeconds, attrs)
}

// RecordSync records the duration of a source push.
func (m *Metrics) RecordSync(ctx context.Context, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SyncDuration.Record(ctx, durationSeconds, metric.WithAttributes(failedAttr(!success)))
}

// RecordDecodeError records an inbound message that failed to decode.
func (m *Metrics) RecordDecodeError(ctx context.Context) {
	if m == nil {
		return
	}
	m.DecodeErrors.Add(ctx, 1)
}

// RecordInvalidEvent records a decoded event the job state rejected.
func (m *Metrics) RecordInvalidEvent(ctx context.Context) {
	if m == nil {
		return
	}
	m.InvalidEvents.Add(ctx, 1)
}

// Notify records job state updates, making Metrics a jobstate.Observer.
func (m *Metrics) Notify(u jobstate.Update) {
	if m == nil {
		return
	}
	ctx := context.Background()
	switch u.Kind {
	case jobstate.UpdateFileStarted:
		m.FilesStarted.Add(ctx, 1)
	case jobstate.UpdateFileFinished:
		m.FilesFinished.Add(ctx, 1, metric.WithAttributes(failedAttr(u.Task.Failed)))
		m.FilesPending.Add(ctx, -1)
	case jobstate.UpdateJobCrashed:
		host := ""
		if u.Crash != nil {
			host = u.Crash.Hostname
		}
		m.Crashes.Add(ctx, 1, metric.WithAttributes(hostnameAttr(host)))
	}
}

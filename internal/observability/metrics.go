package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/polls/deliveries take
// - Traffic: Request/prediction throughput
// - Errors: Rate of failures
// - Saturation: Resource utilization (in-flight remote calls, queue depth)
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Prediction lifecycle metrics (Traffic, Errors, Saturation)
	SubmissionsTotal  metric.Int64Counter
	SubmitErrorsTotal metric.Int64Counter
	SubmitsInFlight   metric.Int64UpDownCounter
	PredictionsActive metric.Int64UpDownCounter
	TerminalsTotal    metric.Int64Counter

	// Poller metrics (Latency, Traffic, Errors, Saturation)
	PollBatchDuration metric.Float64Histogram
	PollsTotal        metric.Int64Counter
	PollErrorsTotal   metric.Int64Counter
	PollsInFlight     metric.Int64UpDownCounter
	TimeoutsTotal     metric.Int64Counter

	// Artifact pipeline metrics (Latency, Traffic, Errors)
	DownloadDuration    metric.Float64Histogram
	DownloadsTotal      metric.Int64Counter
	DownloadErrorsTotal metric.Int64Counter

	// Persistence metrics (Traffic, Errors)
	PersistsTotal      metric.Int64Counter
	PersistErrorsTotal metric.Int64Counter

	// Notifier metrics (Latency, Traffic, Errors, Saturation)
	NotifierDuration   metric.Float64Histogram
	NotifierDelivered  metric.Int64Counter
	NotifierFailed     metric.Int64Counter
	NotifierDropped    metric.Int64Counter
	NotifierRequeued   metric.Int64Counter
	NotifierQueueSize  metric.Int64Gauge
	NotifierBufferSize int64 // config value for saturation calculation
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("boltzflow")
	m := &Metrics{meter: meter}

	// HTTP metrics
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

	// Prediction lifecycle metrics
	m.SubmissionsTotal, err = meter.Int64Counter(
		"submissions_total",
		metric.WithDescription("Total number of predictions submitted"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SubmitErrorsTotal, err = meter.Int64Counter(
		"submit_errors_total",
		metric.WithDescription("Total number of failed submissions"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SubmitsInFlight, err = meter.Int64UpDownCounter(
		"submits_in_flight",
		metric.WithDescription("Number of submission calls currently outstanding (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PredictionsActive, err = meter.Int64UpDownCounter(
		"predictions_active",
		metric.WithDescription("Number of predictions awaiting a terminal status (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TerminalsTotal, err = meter.Int64Counter(
		"predictions_terminal_total",
		metric.WithDescription("Total number of predictions that reached a terminal status, by status"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Poller metrics
	m.PollBatchDuration, err = meter.Float64Histogram(
		"poll_batch_duration_seconds",
		metric.WithDescription("Duration of one full poll batch in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PollsTotal, err = meter.Int64Counter(
		"polls_total",
		metric.WithDescription("Total number of per-prediction status polls"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PollErrorsTotal, err = meter.Int64Counter(
		"poll_errors_total",
		metric.WithDescription("Total number of failed status polls"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PollsInFlight, err = meter.Int64UpDownCounter(
		"polls_in_flight",
		metric.WithDescription("Number of status polls currently outstanding (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TimeoutsTotal, err = meter.Int64Counter(
		"timeouts_total",
		metric.WithDescription("Total number of predictions timed out by the poller"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Artifact pipeline metrics
	m.DownloadDuration, err = meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Artifact download and extraction duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DownloadsTotal, err = meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of artifact pipeline runs"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DownloadErrorsTotal, err = meter.Int64Counter(
		"download_errors_total",
		metric.WithDescription("Total number of failed artifact pipeline runs"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Persistence metrics
	m.PersistsTotal, err = meter.Int64Counter(
		"persists_total",
		metric.WithDescription("Total number of state snapshots written"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PersistErrorsTotal, err = meter.Int64Counter(
		"persist_errors_total",
		metric.WithDescription("Total number of failed snapshot writes"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Notifier metrics
	m.NotifierDuration, err = meter.Float64Histogram(
		"notifier_duration_seconds",
		metric.WithDescription("Callback delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierDelivered, err = meter.Int64Counter(
		"notifier_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierFailed, err = meter.Int64Counter(
		"notifier_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierDropped, err = meter.Int64Counter(
		"notifier_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierRequeued, err = meter.Int64Counter(
		"notifier_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierQueueSize, err = meter.Int64Gauge(
		"notifier_queue_size",
		metric.WithDescription("Current number of events in notifier queue (saturation)"),
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

// RecordSubmission records a prediction submission attempt.
func (m *Metrics) RecordSubmission(ctx context.Context, success bool) {
	m.SubmissionsTotal.Add(ctx, 1, metric.WithAttributes(successAttr(success)))
	if !success {
		m.SubmitErrorsTotal.Add(ctx, 1)
	}
}

// RecordActivated records a submitted prediction entering the active set.
// Every call is later matched by exactly one RecordTerminal.
func (m *Metrics) RecordActivated(ctx context.Context) {
	m.PredictionsActive.Add(ctx, 1)
}

// RecordTerminal records a submitted prediction reaching a terminal status.
// The active gauge pairs with RecordSubmission: callers must only invoke
// this for predictions whose submission previously succeeded.
func (m *Metrics) RecordTerminal(ctx context.Context, status string) {
	m.TerminalsTotal.Add(ctx, 1, metric.WithAttributes(statusNameAttr(status)))
	m.PredictionsActive.Add(ctx, -1)
}

// RecordPoll records one per-prediction status poll.
func (m *Metrics) RecordPoll(ctx context.Context, success bool) {
	m.PollsTotal.Add(ctx, 1, metric.WithAttributes(successAttr(success)))
	if !success {
		m.PollErrorsTotal.Add(ctx, 1)
	}
}

// RecordPollBatch records a completed poll batch with its duration.
func (m *Metrics) RecordPollBatch(ctx context.Context, durationSeconds float64) {
	m.PollBatchDuration.Record(ctx, durationSeconds)
}

// RecordTimeout records a prediction timed out by the poller.
func (m *Metrics) RecordTimeout(ctx context.Context) {
	m.TimeoutsTotal.Add(ctx, 1)
}

// RecordDownload records one artifact pipeline run.
func (m *Metrics) RecordDownload(ctx context.Context, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(successAttr(success))
	m.DownloadsTotal.Add(ctx, 1, attrs)
	m.DownloadDuration.Record(ctx, durationSeconds, attrs)
	if !success {
		m.DownloadErrorsTotal.Add(ctx, 1)
	}
}

// RecordPersist records a state snapshot write.
func (m *Metrics) RecordPersist(ctx context.Context, success bool) {
	m.PersistsTotal.Add(ctx, 1, metric.WithAttributes(successAttr(success)))
	if !success {
		m.PersistErrorsTotal.Add(ctx, 1)
	}
}

// RecordNotifierDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordNotifierDelivered(ctx context.Context, durationSeconds float64) {
	m.NotifierDelivered.Add(ctx, 1)
	m.NotifierDuration.Record(ctx, durationSeconds)
}

// RecordNotifierFailed records a failed event delivery.
func (m *Metrics) RecordNotifierFailed(ctx context.Context) {
	m.NotifierFailed.Add(ctx, 1)
}

// RecordNotifierDropped records a dropped event.
func (m *Metrics) RecordNotifierDropped(ctx context.Context) {
	m.NotifierDropped.Add(ctx, 1)
}

// RecordNotifierRequeued records a requeued event.
func (m *Metrics) RecordNotifierRequeued(ctx context.Context) {
	m.NotifierRequeued.Add(ctx, 1)
}

// RecordNotifierQueueSize records the current queue size.
func (m *Metrics) RecordNotifierQueueSize(ctx context.Context, size int64) {
	m.NotifierQueueSize.Record(ctx, size)
}

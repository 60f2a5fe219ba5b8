// Package telemetry provides OpenTelemetry metrics and request tagging for
// the togglemark daemon.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/wolfeidau/togglemark"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal      metric.Int64Counter
	requestDuration    metric.Float64Histogram
	responseBytesTotal metric.Int64Counter

	backendRequestsTotal   metric.Int64Counter
	backendRequestDuration metric.Float64Histogram
	backendBytesTotal      metric.Int64Counter

	sweepRunsTotal     metric.Int64Counter
	sweepDuration      metric.Float64Histogram
	sweepEntriesTotal  metric.Int64Counter
	sweepPendingGauge  metric.Int64Gauge
	sweepLastRunGauge  metric.Float64Gauge
	togglesTotal       metric.Int64Counter
	remindersSetTotal  metric.Int64Counter
	remindersFired     metric.Int64Counter
	alarmsFiredTotal   metric.Int64Counter
	alarmLateness      metric.Float64Histogram
	sinkDeliveryTotal  metric.Int64Counter
	webhookDuration    metric.Float64Histogram
	inboundMessages    metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "togglemark"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m

	return nil
}

// newMetrics creates every instrument on the given meter.
func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.requestsTotal, err = meter.Int64Counter(
		"togglemark_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram(
		"togglemark_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	); err != nil {
		return nil, err
	}
	if m.responseBytesTotal, err = meter.Int64Counter(
		"togglemark_http_response_bytes_total",
		metric.WithDescription("Total bytes sent in HTTP responses"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.backendRequestsTotal, err = meter.Int64Counter(
		"togglemark_backend_requests_total",
		metric.WithDescription("Total number of state backend operations"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.backendRequestDuration, err = meter.Float64Histogram(
		"togglemark_backend_request_duration_seconds",
		metric.WithDescription("Duration of state backend operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	); err != nil {
		return nil, err
	}
	if m.backendBytesTotal, err = meter.Int64Counter(
		"togglemark_backend_bytes_total",
		metric.WithDescription("Total bytes written to the state backend"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.sweepRunsTotal, err = meter.Int64Counter(
		"togglemark_sweep_runs_total",
		metric.WithDescription("Total number of expiry sweeps"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}
	if m.sweepDuration, err = meter.Float64Histogram(
		"togglemark_sweep_duration_seconds",
		metric.WithDescription("Expiry sweep duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10),
	); err != nil {
		return nil, err
	}
	if m.sweepEntriesTotal, err = meter.Int64Counter(
		"togglemark_sweep_entries_total",
		metric.WithDescription("Expiring entries retired by sweeps, by outcome"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}
	if m.sweepPendingGauge, err = meter.Int64Gauge(
		"togglemark_sweep_pending_entries",
		metric.WithDescription("Expiring entries still pending after the last sweep"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}
	if m.sweepLastRunGauge, err = meter.Float64Gauge(
		"togglemark_sweep_last_run_timestamp_seconds",
		metric.WithDescription("Unix timestamp of the last expiry sweep"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.togglesTotal, err = meter.Int64Counter(
		"togglemark_toggles_total",
		metric.WithDescription("Bookmark toggles by resulting action"),
		metric.WithUnit("{toggle}"),
	); err != nil {
		return nil, err
	}
	if m.remindersSetTotal, err = meter.Int64Counter(
		"togglemark_reminders_set_total",
		metric.WithDescription("Reminders set, including replacements"),
		metric.WithUnit("{reminder}"),
	); err != nil {
		return nil, err
	}
	if m.remindersFired, err = meter.Int64Counter(
		"togglemark_reminders_triggered_total",
		metric.WithDescription("Reminder alarms handled, by outcome"),
		metric.WithUnit("{reminder}"),
	); err != nil {
		return nil, err
	}
	if m.alarmsFiredTotal, err = meter.Int64Counter(
		"togglemark_alarms_fired_total",
		metric.WithDescription("Alarms delivered by the scheduler, by kind"),
		metric.WithUnit("{alarm}"),
	); err != nil {
		return nil, err
	}
	if m.alarmLateness, err = meter.Float64Histogram(
		"togglemark_alarm_lateness_seconds",
		metric.WithDescription("Delay between an alarm's scheduled time and delivery"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 1, 10, 60, 300, 3600, 86400),
	); err != nil {
		return nil, err
	}
	if m.sinkDeliveryTotal, err = meter.Int64Counter(
		"togglemark_sink_deliveries_total",
		metric.WithDescription("Notification, tone and navigation deliveries, by sink and outcome"),
		metric.WithUnit("{delivery}"),
	); err != nil {
		return nil, err
	}
	if m.webhookDuration, err = meter.Float64Histogram(
		"togglemark_webhook_duration_seconds",
		metric.WithDescription("Duration of outbound webhook requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}
	if m.inboundMessages, err = meter.Int64Counter(
		"togglemark_inbound_messages_total",
		metric.WithDescription("Inbound extension messages, by transport, action and outcome"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP records HTTP request metrics.
// Call this from the logging middleware after the request completes.
func RecordHTTP(ctx context.Context, r *http.Request, status int, bytesSent int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	endpoint := "unknown"
	if tags := GetTags(r); tags != nil && tags.Endpoint != "" {
		endpoint = tags.Endpoint
	}

	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status_class", StatusClass(status)),
	)
	globalMetrics.requestsTotal.Add(ctx, 1, attrs)
	globalMetrics.responseBytesTotal.Add(ctx, bytesSent, attrs)
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordBackendOp records backend operation metrics.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	globalMetrics.backendRequestsTotal.Add(ctx, 1, attrs)
	globalMetrics.backendRequestDuration.Record(ctx, duration.Seconds(), attrs)
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, attrs)
	}
}

// SweepOutcome summarises one expiry sweep for metrics.
type SweepOutcome struct {
	Expired     int
	AlreadyGone int
	Failed      int
	Remaining   int
	StartedAt   time.Time
	Duration    time.Duration
}

// RecordSweep records one expiry sweep.
func RecordSweep(ctx context.Context, o SweepOutcome) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.sweepRunsTotal.Add(ctx, 1)
	globalMetrics.sweepDuration.Record(ctx, o.Duration.Seconds())
	globalMetrics.sweepEntriesTotal.Add(ctx, int64(o.Expired), metric.WithAttributes(attribute.String("outcome", "removed")))
	globalMetrics.sweepEntriesTotal.Add(ctx, int64(o.AlreadyGone), metric.WithAttributes(attribute.String("outcome", "already_gone")))
	globalMetrics.sweepEntriesTotal.Add(ctx, int64(o.Failed), metric.WithAttributes(attribute.String("outcome", "failed")))
	globalMetrics.sweepPendingGauge.Record(ctx, int64(o.Remaining))
	globalMetrics.sweepLastRunGauge.Record(ctx, float64(o.StartedAt.Unix()))
}

// RecordToggle records a bookmark toggle. action is "created" or "removed".
func RecordToggle(ctx context.Context, action string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.togglesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordReminderSet records a reminder being set. replaced reports whether a
// previous reminder for the same bookmark was overwritten.
func RecordReminderSet(ctx context.Context, replaced bool) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.remindersSetTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("replaced", replaced)))
}

// RecordReminderTriggered records a reminder alarm. outcome is "fired" or "absent".
func RecordReminderTriggered(ctx context.Context, outcome string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.remindersFired.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAlarmFired records an alarm delivery and how late it was.
func RecordAlarmFired(ctx context.Context, kind string, lateness time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	globalMetrics.alarmsFiredTotal.Add(ctx, 1, attrs)
	if lateness < 0 {
		lateness = 0
	}
	globalMetrics.alarmLateness.Record(ctx, lateness.Seconds(), attrs)
}

// RecordSinkDelivery records one side-effect delivery.
// sink is "notification", "tone" or "navigation".
func RecordSinkDelivery(ctx context.Context, sink, outcome string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.sinkDeliveryTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sink", sink),
		attribute.String("outcome", outcome),
	))
}

// RecordWebhook records an outbound webhook round trip.
func RecordWebhook(ctx context.Context, duration time.Duration, outcome string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.webhookDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordInboundMessage records a message received from the extension.
func RecordInboundMessage(ctx context.Context, transport, action string, success bool) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.inboundMessages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("action", action),
		attribute.Bool("success", success),
	))
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}

package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes dose tracking instruments.
type Metrics struct {
	eventsGenerated   metric.Int64Counter
	eventsDeleted     metric.Int64Counter
	eventsMarked      metric.Int64Counter
	versionsCreated   metric.Int64Counter
	dayStatusComputed metric.Int64Counter
	dayStatusFailed   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New creates the dose tracking instruments on the service meter.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "medtrack"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		dst         *metric.Int64Counter
		name, descr string
	}{
		{&m.eventsGenerated, "medtrack_dose_events_generated_total", "Dose events inserted by template expansion."},
		{&m.eventsDeleted, "medtrack_dose_events_deleted_total", "Future dose events removed by versioning or deletion."},
		{&m.eventsMarked, "medtrack_dose_events_marked_total", "Dose event status transitions."},
		{&m.versionsCreated, "medtrack_medication_versions_total", "Medication versions created."},
		{&m.dayStatusComputed, "medtrack_day_status_recompute_total", "Day status rows recomputed."},
		{&m.dayStatusFailed, "medtrack_day_status_recompute_failed_total", "Day status recomputes that failed."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.descr))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

// RecordEventsGenerated counts dose events inserted by an expansion source
// ("template", "version", "horizon").
func (m *Metrics) RecordEventsGenerated(ctx context.Context, source string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.eventsGenerated.Add(ctx, count, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEventsDeleted(ctx context.Context, source string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.eventsDeleted.Add(ctx, count, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEventMarked(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.eventsMarked.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordVersionCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.versionsCreated.Add(ctx, 1)
}

// RecordDayStatusRecompute counts cache recomputes by trigger and outcome.
func (m *Metrics) RecordDayStatusRecompute(ctx context.Context, trigger string, err error) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("trigger", strings.TrimSpace(trigger)))
	if err != nil {
		m.dayStatusFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}
	m.dayStatusComputed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch p := strings.ToLower(strings.TrimSpace(protocol)); p {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", p)
	}
}

// owner ids are deliberately absent: they are unbounded.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"source":      {},
	"status":      {},
	"trigger":     {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

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

// Metrics exposes rating pipeline throughput instruments over OTLP.
type Metrics struct {
	collectorRequests metric.Int64Counter
	ratedPoints       metric.Int64Counter
	storagePushes     metric.Int64Counter
	storageDeletes    metric.Int64Counter
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
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "cloudkitty-processor"
	}
	meter := provider.Meter(name)

	collectorRequests, err := meter.Int64Counter("cloudkitty_collector_requests_total")
	if err != nil {
		return nil, err
	}
	ratedPoints, err := meter.Int64Counter("cloudkitty_rated_points_total")
	if err != nil {
		return nil, err
	}
	storagePushes, err := meter.Int64Counter("cloudkitty_storage_pushes_total")
	if err != nil {
		return nil, err
	}
	storageDeletes, err := meter.Int64Counter("cloudkitty_storage_deletes_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		collectorRequests: collectorRequests,
		ratedPoints:       ratedPoints,
		storagePushes:     storagePushes,
		storageDeletes:    storageDeletes,
	}, nil
}

// RecordCollectorRequest counts one retrieve call for a metric type.
func (m *Metrics) RecordCollectorRequest(ctx context.Context, metricType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("metric_type", strings.TrimSpace(metricType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.collectorRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRatedPoints counts data points that went through the rating chain.
func (m *Metrics) RecordRatedPoints(ctx context.Context, metricType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("metric_type", strings.TrimSpace(metricType)))
	m.ratedPoints.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordStoragePush(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.storagePushes.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("role", role))...))
}

func (m *Metrics) RecordStorageDelete(ctx context.Context) {
	if m == nil {
		return
	}
	m.storageDeletes.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Scope and tenant ids are deliberately not allowed: they are unbounded.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"metric_type": {},
	"outcome":     {},
	"role":        {},
	"module":      {},
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

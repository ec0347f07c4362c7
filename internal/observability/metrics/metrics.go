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

// Metrics exposes application-level instruments.
type Metrics struct {
	paymentsCreated  metric.Int64Counter
	paymentOutcomes  metric.Int64Counter
	paymentRetries   metric.Int64Counter
	webhookEvents    metric.Int64Counter
	providerRefunds  metric.Int64Counter
	breakerStateOpen metric.Int64Counter
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "payloop"
	}
	meter := provider.Meter(name)

	paymentsCreated, err := meter.Int64Counter("payloop_payments_created_total")
	if err != nil {
		return nil, err
	}
	paymentOutcomes, err := meter.Int64Counter("payloop_payment_outcomes_total")
	if err != nil {
		return nil, err
	}
	paymentRetries, err := meter.Int64Counter("payloop_payment_retries_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("payloop_webhook_events_total")
	if err != nil {
		return nil, err
	}
	providerRefunds, err := meter.Int64Counter("payloop_refunds_total")
	if err != nil {
		return nil, err
	}
	breakerStateOpen, err := meter.Int64Counter("payloop_breaker_open_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentsCreated:  paymentsCreated,
		paymentOutcomes:  paymentOutcomes,
		paymentRetries:   paymentRetries,
		webhookEvents:    webhookEvents,
		providerRefunds:  providerRefunds,
		breakerStateOpen: breakerStateOpen,
	}, nil
}

// RecordPaymentCreated increments payment creation counts.
func (m *Metrics) RecordPaymentCreated(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.paymentsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentOutcome increments terminal payment outcome counts.
func (m *Metrics) RecordPaymentOutcome(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.paymentOutcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentRetry increments alternate-gateway retry counts.
func (m *Metrics) RecordPaymentRetry(ctx context.Context, fromProvider, toProvider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(toProvider)),
		attribute.String("previous_provider", strings.TrimSpace(fromProvider)),
	)
	m.paymentRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookEvent increments webhook ingest counts.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRefund increments refund counts.
func (m *Metrics) RecordRefund(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.providerRefunds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBreakerOpen increments circuit breaker open transitions.
func (m *Metrics) RecordBreakerOpen(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.breakerStateOpen.Add(ctx, 1, metric.WithAttributes(attrs...))
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":          {},
	"previous_provider": {},
	"status":            {},
	"outcome":           {},
	"endpoint":          {},
	"status_code":       {},
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

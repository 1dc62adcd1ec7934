package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Upload outcomes recorded by the relay.
const (
	UploadOutcomeHosted   = "hosted"
	UploadOutcomeFallback = "fallback"
)

// MetricsCollector manages all metrics for the relay. A nil collector, or one
// built with metrics disabled, records nothing.
type MetricsCollector struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry
	http     *HTTPMetrics

	// Store metrics
	storeEntries metric.Int64UpDownCounter
	storeExpired metric.Int64Counter

	// Relay metrics
	uploads        metric.Int64Counter
	uploadDuration metric.Float64Histogram

	// Gateway metrics
	updates       metric.Int64Counter
	replyFailures metric.Int64Counter

	// HTTP surface metrics
	imageRequests metric.Int64Counter
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewMetricsCollector creates a new metrics collector backed by a dedicated
// prometheus registry.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("imgrelay")

	storeEntries, err := meter.Int64UpDownCounter(
		"imgrelay.store.entries",
		metric.WithDescription("Image references currently held in memory"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_entries gauge: %w", err)
	}

	storeExpired, err := meter.Int64Counter(
		"imgrelay.store.expired.total",
		metric.WithDescription("Image references removed by the expiry sweeper"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_expired counter: %w", err)
	}

	uploads, err := meter.Int64Counter(
		"imgrelay.uploads.total",
		metric.WithDescription("Relay uploads by outcome"),
		metric.WithUnit("{upload}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create uploads counter: %w", err)
	}

	uploadDuration, err := meter.Float64Histogram(
		"imgrelay.upload.duration",
		metric.WithDescription("Relay upload duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload_duration histogram: %w", err)
	}

	updates, err := meter.Int64Counter(
		"imgrelay.updates.total",
		metric.WithDescription("Inbound bot updates by kind"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create updates counter: %w", err)
	}

	replyFailures, err := meter.Int64Counter(
		"imgrelay.replies.failed.total",
		metric.WithDescription("Replies that could not be delivered to the chat"),
		metric.WithUnit("{reply}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reply_failures counter: %w", err)
	}

	imageRequests, err := meter.Int64Counter(
		"imgrelay.image.requests.total",
		metric.WithDescription("Image retrieval requests by response status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create image_requests counter: %w", err)
	}

	return &MetricsCollector{
		meter:          meter,
		provider:       provider,
		registry:       registry,
		http:           NewHTTPMetrics(registry),
		storeEntries:   storeEntries,
		storeExpired:   storeExpired,
		uploads:        uploads,
		uploadDuration: uploadDuration,
		updates:        updates,
		replyFailures:  replyFailures,
		imageRequests:  imageRequests,
	}, nil
}

// Handler returns the prometheus scrape handler, or nil when metrics are disabled.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTP returns the per-route request metrics, nil when metrics are disabled.
func (m *MetricsCollector) HTTP() *HTTPMetrics {
	if m == nil {
		return nil
	}
	return m.http
}

// Shutdown flushes and stops the meter provider
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordStoreInsert records a new image reference.
func (m *MetricsCollector) RecordStoreInsert(ctx context.Context) {
	if m == nil || m.storeEntries == nil {
		return
	}
	m.storeEntries.Add(ctx, 1)
}

// RecordStoreRemoval records references leaving the store. expired marks
// removals made by the sweeper.
func (m *MetricsCollector) RecordStoreRemoval(ctx context.Context, count int, expired bool) {
	if m == nil || m.storeEntries == nil || count <= 0 {
		return
	}
	m.storeEntries.Add(ctx, int64(-count))
	if expired {
		m.storeExpired.Add(ctx, int64(count))
	}
}

// RecordUpload records a relay upload
func (m *MetricsCollector) RecordUpload(ctx context.Context, outcome string, duration time.Duration) {
	if m == nil || m.uploads == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.uploads.Add(ctx, 1, attrs)
	m.uploadDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordUpdate records an inbound update by kind
func (m *MetricsCollector) RecordUpdate(ctx context.Context, kind string) {
	if m == nil || m.updates == nil {
		return
	}
	m.updates.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordReplyFailure records a reply that was not delivered
func (m *MetricsCollector) RecordReplyFailure(ctx context.Context) {
	if m == nil || m.replyFailures == nil {
		return
	}
	m.replyFailures.Add(ctx, 1)
}

// RecordImageRequest records an image retrieval by HTTP status
func (m *MetricsCollector) RecordImageRequest(ctx context.Context, status int) {
	if m == nil || m.imageRequests == nil {
		return
	}
	m.imageRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", strconv.Itoa(status))))
}

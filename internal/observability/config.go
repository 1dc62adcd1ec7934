package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// Config represents the complete observability configuration
type Config struct {
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// DefaultConfig returns the default observability configuration
func DefaultConfig() Config {
	return Config{
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    "imgrelay",
			ServiceVersion: "dev",
		},
	}
}

// Observability bundles the logger, metrics and tracing built from Config.
type Observability struct {
	Logger  *Logger
	Metrics *MetricsCollector
	Tracing *TracerProvider
}

// New builds every observability component. The logger is always usable;
// metrics or tracing failures are returned so the caller can decide whether
// to continue without them.
func New(config Config) (*Observability, error) {
	obs := &Observability{
		Logger:  NewLogger(config.Logging),
		Tracing: &TracerProvider{tracer: NoopTracer()},
	}

	metrics, err := NewMetricsCollector(config.Metrics)
	if err != nil {
		obs.Metrics = &MetricsCollector{}
		return obs, fmt.Errorf("metrics: %w", err)
	}
	obs.Metrics = metrics

	tracing, err := NewTracerProvider(config.Tracing)
	if err != nil {
		return obs, fmt.Errorf("tracing: %w", err)
	}
	obs.Tracing = tracing

	return obs, nil
}

// Tracer returns the configured tracer, or a noop tracer.
func (o *Observability) Tracer() trace.Tracer {
	if o == nil || o.Tracing == nil {
		return NoopTracer()
	}
	return o.Tracing.Tracer()
}

// Shutdown flushes metrics and traces.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	var errs []error
	if err := o.Metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
	}
	if o.Tracing != nil {
		if err := o.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

package http

import (
	"context"
	"io"
	"time"

	"imgrelay/internal/imagestore"
	tginfra "imgrelay/internal/infra/telegram"
	"imgrelay/internal/observability"

	"go.opentelemetry.io/otel/trace"
)

// FileSource resolves stored file references to download URLs.
type FileSource interface {
	FileURL(ctx context.Context, fileRef string) (string, error)
}

// Fetcher downloads image bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*tginfra.File, error)
}

// WebhookHandler accepts one platform webhook delivery.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, secret string, body io.Reader) error
}

// RouterDeps holds the service dependencies needed to construct the router.
// Files, Fetcher and Webhook are nil when no bot credential is configured.
type RouterDeps struct {
	Store   *imagestore.Store
	Files   FileSource
	Fetcher Fetcher
	Webhook WebhookHandler
	Logger  *observability.Logger
	Metrics *observability.MetricsCollector
	Tracer  trace.Tracer
}

// RouterConfig holds configuration values for the HTTP router.
type RouterConfig struct {
	BotConfigured  bool
	RateLimit      RateLimitConfig
	ImageTimeout   time.Duration
	TrustedProxies []string
}

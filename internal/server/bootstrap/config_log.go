package bootstrap

import (
	"imgrelay/internal/config"
	"imgrelay/internal/observability"
)

// LogConfiguration prints a safe, redacted snapshot of the runtime
// configuration. Credentials are never logged.
func LogConfiguration(logger *observability.Logger, cfg config.Config) {
	logger = observability.OrNop(logger)
	redacted := cfg.Redacted()

	logger.Info("configuration loaded",
		"mode", cfg.Mode(),
		"port", cfg.Server.Port,
		"bot_token", redacted.Telegram.Token,
		"webhook_url", cfg.WebhookEndpoint(),
		"link_base_url", cfg.Relay.LinkBaseURL,
		"upload_url", cfg.Relay.UploadURL,
		"max_concurrent_uploads", cfg.Relay.MaxConcurrent,
		"retention", cfg.Store.Retention.String(),
		"sweep_interval", cfg.Store.SweepInterval.String(),
		"trusted_proxies", cfg.Server.TrustedProxies,
	)

	switch {
	case cfg.Telegram.SecretGenerated:
		logger.Warn("SECRET_TOKEN not set, generated a per-process webhook secret; it changes on every restart")
	case cfg.Telegram.SecretToken != "":
		logger.Info("webhook secret: (set)")
	}
	if cfg.Observability.Tracing.Enabled {
		logger.Info("tracing enabled", "exporter", cfg.Observability.Tracing.Exporter)
	}
}

package config

import (
	"time"

	"imgrelay/internal/observability"
)

// Run modes derived from the credential and public URL.
const (
	ModeServerOnly = "server-only"
	ModeWebhook    = "webhook"
	ModePolling    = "polling"
)

// Config is the full process configuration. Settings renders it with the
// keys Load reads.
type Config struct {
	Telegram      TelegramConfig
	Server        ServerConfig
	Relay         RelayConfig
	Store         StoreConfig
	Observability observability.Config
}

// TelegramConfig holds the bot credential and update delivery settings.
type TelegramConfig struct {
	Token           string
	WebhookURL      string
	SecretToken     string
	SecretGenerated bool
	APIEndpoint     string
	FileEndpoint    string
}

// ServerConfig holds the HTTP listener and image route limits.
type ServerConfig struct {
	Host           string
	Port           int
	RateLimitRPM   int
	RateLimitBurst int
	// TrustedProxies may set X-Forwarded-For. Empty trusts none, so client
	// addresses come from the connection.
	TrustedProxies []string
}

// RelayConfig holds the image host endpoints and outbound limits.
type RelayConfig struct {
	UploadURL     string
	HostBaseURL   string
	LinkBaseURL   string
	HTTPTimeout   time.Duration
	MaxConcurrent int
}

// StoreConfig holds image reference retention.
type StoreConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
}

// Mode reports how updates reach the process.
func (c Config) Mode() string {
	switch {
	case c.Telegram.Token == "":
		return ModeServerOnly
	case c.Telegram.WebhookURL != "":
		return ModeWebhook
	default:
		return ModePolling
	}
}

// WebhookEndpoint is the URL registered with the platform.
func (c Config) WebhookEndpoint() string {
	if c.Telegram.WebhookURL == "" {
		return ""
	}
	return c.Telegram.WebhookURL + "/webhook"
}

// Redacted returns a copy safe to print or log.
func (c Config) Redacted() Config {
	c.Telegram.Token = observability.SanitizeToken(c.Telegram.Token)
	if c.Telegram.SecretToken != "" {
		c.Telegram.SecretToken = "***"
	}
	return c
}

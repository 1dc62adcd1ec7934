package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"imgrelay/internal/observability"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Environment keys. Config files use the same names in lower case.
const (
	KeyBotToken        = "BOT_TOKEN"
	KeyWebhookURL      = "WEBHOOK_URL"
	KeySecretToken     = "SECRET_TOKEN"
	KeyAPIEndpoint     = "TELEGRAM_API_ENDPOINT"
	KeyFileEndpoint    = "TELEGRAM_FILE_ENDPOINT"
	KeyHost            = "HOST"
	KeyPort            = "PORT"
	KeyRateLimitRPM    = "IMAGE_RATE_LIMIT_RPM"
	KeyRateLimitBurst  = "IMAGE_RATE_LIMIT_BURST"
	KeyTrustedProxies  = "TRUSTED_PROXIES"
	KeyUploadURL       = "IMAGE_HOST_UPLOAD_URL"
	KeyHostBaseURL     = "IMAGE_HOST_BASE_URL"
	KeyLinkBaseURL     = "LINK_BASE_URL"
	KeyHTTPTimeout     = "HTTP_TIMEOUT"
	KeyMaxConcurrent   = "MAX_CONCURRENT_UPLOADS"
	KeyRetention       = "RETENTION"
	KeySweepInterval   = "SWEEP_INTERVAL"
	KeyLogLevel        = "LOG_LEVEL"
	KeyLogFormat       = "LOG_FORMAT"
	KeyMetricsEnabled  = "METRICS_ENABLED"
	KeyTracingEnabled  = "TRACING_ENABLED"
	KeyTracingExporter = "TRACING_EXPORTER"
	KeyTracingOTLP     = "TRACING_OTLP_ENDPOINT"
	KeyTracingZipkin   = "TRACING_ZIPKIN_ENDPOINT"
	KeyTracingSample   = "TRACING_SAMPLE_RATE"
	KeyTracingVersion  = "TRACING_SERVICE_VERSION"
)

type loadOptions struct {
	configFile string
	newSecret  func() string
	viper      *viper.Viper
}

// Option customizes Load.
type Option func(*loadOptions)

// WithConfigFile merges a yaml/json/toml file under the environment.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) {
		o.configFile = strings.TrimSpace(path)
	}
}

// WithSecretGenerator replaces the webhook secret generator.
func WithSecretGenerator(fn func() string) Option {
	return func(o *loadOptions) {
		o.newSecret = fn
	}
}

// WithViper loads from v instead of a fresh instance.
func WithViper(v *viper.Viper) Option {
	return func(o *loadOptions) {
		o.viper = v
	}
}

// Load reads defaults, the optional config file and the environment, in
// increasing precedence. A missing webhook secret is generated.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{newSecret: uuid.NewString}
	for _, opt := range opts {
		opt(&options)
	}
	v := options.viper
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)
	v.AutomaticEnv()

	if options.configFile != "" {
		v.SetConfigFile(options.configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", options.configFile, err)
		}
	}

	obs := observability.DefaultConfig()
	obs.Logging.Level = v.GetString(KeyLogLevel)
	obs.Logging.Format = v.GetString(KeyLogFormat)
	obs.Metrics.Enabled = v.GetBool(KeyMetricsEnabled)
	obs.Tracing.Enabled = v.GetBool(KeyTracingEnabled)
	obs.Tracing.Exporter = v.GetString(KeyTracingExporter)
	obs.Tracing.OTLPEndpoint = v.GetString(KeyTracingOTLP)
	obs.Tracing.ZipkinEndpoint = v.GetString(KeyTracingZipkin)
	obs.Tracing.SampleRate = v.GetFloat64(KeyTracingSample)
	obs.Tracing.ServiceVersion = v.GetString(KeyTracingVersion)

	cfg := Config{
		Telegram: TelegramConfig{
			Token:        strings.TrimSpace(v.GetString(KeyBotToken)),
			WebhookURL:   strings.TrimRight(strings.TrimSpace(v.GetString(KeyWebhookURL)), "/"),
			SecretToken:  strings.TrimSpace(v.GetString(KeySecretToken)),
			APIEndpoint:  strings.TrimSpace(v.GetString(KeyAPIEndpoint)),
			FileEndpoint: strings.TrimSpace(v.GetString(KeyFileEndpoint)),
		},
		Server: ServerConfig{
			Host:           v.GetString(KeyHost),
			Port:           v.GetInt(KeyPort),
			RateLimitRPM:   v.GetInt(KeyRateLimitRPM),
			RateLimitBurst: v.GetInt(KeyRateLimitBurst),
			TrustedProxies: splitList(v.GetStringSlice(KeyTrustedProxies)),
		},
		Relay: RelayConfig{
			UploadURL:     strings.TrimSpace(v.GetString(KeyUploadURL)),
			HostBaseURL:   strings.TrimSpace(v.GetString(KeyHostBaseURL)),
			LinkBaseURL:   strings.TrimRight(strings.TrimSpace(v.GetString(KeyLinkBaseURL)), "/"),
			HTTPTimeout:   v.GetDuration(KeyHTTPTimeout),
			MaxConcurrent: v.GetInt(KeyMaxConcurrent),
		},
		Store: StoreConfig{
			Retention:     v.GetDuration(KeyRetention),
			SweepInterval: v.GetDuration(KeySweepInterval),
		},
		Observability: obs,
	}

	if cfg.Telegram.SecretToken == "" {
		cfg.Telegram.SecretToken = options.newSecret()
		cfg.Telegram.SecretGenerated = true
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Settings returns the configuration keyed the way config files are read, so
// the output of Redacted().Settings() can be saved and passed back to Load.
// A generated secret is left empty so the next run generates its own.
func (c Config) Settings() map[string]any {
	secret := c.Telegram.SecretToken
	if c.Telegram.SecretGenerated {
		secret = ""
	}
	obs := c.Observability
	settings := map[string]any{
		KeyBotToken:        c.Telegram.Token,
		KeyWebhookURL:      c.Telegram.WebhookURL,
		KeySecretToken:     secret,
		KeyAPIEndpoint:     c.Telegram.APIEndpoint,
		KeyFileEndpoint:    c.Telegram.FileEndpoint,
		KeyHost:            c.Server.Host,
		KeyPort:            c.Server.Port,
		KeyRateLimitRPM:    c.Server.RateLimitRPM,
		KeyRateLimitBurst:  c.Server.RateLimitBurst,
		KeyTrustedProxies:  append([]string{}, c.Server.TrustedProxies...),
		KeyUploadURL:       c.Relay.UploadURL,
		KeyHostBaseURL:     c.Relay.HostBaseURL,
		KeyLinkBaseURL:     c.Relay.LinkBaseURL,
		KeyHTTPTimeout:     c.Relay.HTTPTimeout.String(),
		KeyMaxConcurrent:   c.Relay.MaxConcurrent,
		KeyRetention:       c.Store.Retention.String(),
		KeySweepInterval:   c.Store.SweepInterval.String(),
		KeyLogLevel:        obs.Logging.Level,
		KeyLogFormat:       obs.Logging.Format,
		KeyMetricsEnabled:  obs.Metrics.Enabled,
		KeyTracingEnabled:  obs.Tracing.Enabled,
		KeyTracingExporter: obs.Tracing.Exporter,
		KeyTracingOTLP:     obs.Tracing.OTLPEndpoint,
		KeyTracingZipkin:   obs.Tracing.ZipkinEndpoint,
		KeyTracingSample:   obs.Tracing.SampleRate,
		KeyTracingVersion:  obs.Tracing.ServiceVersion,
	}
	out := make(map[string]any, len(settings))
	for key, value := range settings {
		out[strings.ToLower(key)] = value
	}
	return out
}

func setDefaults(v *viper.Viper) {
	defaults := observability.DefaultConfig()
	v.SetDefault(KeyBotToken, "")
	v.SetDefault(KeyWebhookURL, "")
	v.SetDefault(KeySecretToken, "")
	v.SetDefault(KeyAPIEndpoint, "")
	v.SetDefault(KeyFileEndpoint, "https://api.telegram.org/file")
	v.SetDefault(KeyHost, "")
	v.SetDefault(KeyPort, 8000)
	v.SetDefault(KeyRateLimitRPM, 120)
	v.SetDefault(KeyRateLimitBurst, 20)
	v.SetDefault(KeyTrustedProxies, []string{})
	v.SetDefault(KeyUploadURL, "https://telegra.ph/upload")
	v.SetDefault(KeyHostBaseURL, "https://telegra.ph")
	v.SetDefault(KeyLinkBaseURL, "https://telegra.app/imeg")
	v.SetDefault(KeyHTTPTimeout, 30*time.Second)
	v.SetDefault(KeyMaxConcurrent, 8)
	v.SetDefault(KeyRetention, 24*time.Hour)
	v.SetDefault(KeySweepInterval, time.Hour)
	v.SetDefault(KeyLogLevel, defaults.Logging.Level)
	v.SetDefault(KeyLogFormat, defaults.Logging.Format)
	v.SetDefault(KeyMetricsEnabled, defaults.Metrics.Enabled)
	v.SetDefault(KeyTracingEnabled, defaults.Tracing.Enabled)
	v.SetDefault(KeyTracingExporter, defaults.Tracing.Exporter)
	v.SetDefault(KeyTracingOTLP, defaults.Tracing.OTLPEndpoint)
	v.SetDefault(KeyTracingZipkin, "http://localhost:9411/api/v2/spans")
	v.SetDefault(KeyTracingSample, defaults.Tracing.SampleRate)
	v.SetDefault(KeyTracingVersion, defaults.Tracing.ServiceVersion)
}

// Validate rejects values the process cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("%s must be between 1 and 65535, got %d", KeyPort, c.Server.Port))
	}
	if c.Relay.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyHTTPTimeout))
	}
	if c.Relay.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyMaxConcurrent))
	}
	if c.Store.Retention <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyRetention))
	}
	if c.Store.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeySweepInterval))
	}
	for key, raw := range map[string]string{
		KeyUploadURL:    c.Relay.UploadURL,
		KeyHostBaseURL:  c.Relay.HostBaseURL,
		KeyLinkBaseURL:  c.Relay.LinkBaseURL,
		KeyFileEndpoint: c.Telegram.FileEndpoint,
	} {
		if err := checkURL(raw, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is neither an IP nor a CIDR", KeyTrustedProxies, proxy))
		}
	}
	if c.Telegram.WebhookURL != "" {
		if err := checkURL(c.Telegram.WebhookURL, "https"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyWebhookURL, err))
		}
	}
	if rate := c.Observability.Tracing.SampleRate; rate < 0 || rate > 1 {
		errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", KeyTracingSample, rate))
	}
	return errors.Join(errs...)
}

// splitList accepts a yaml list or a comma separated environment value.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func checkURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	for _, scheme := range schemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			return nil
		}
	}
	return fmt.Errorf("url %q must use %s", raw, strings.Join(schemes, " or "))
}

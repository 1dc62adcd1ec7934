package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		KeyBotToken, KeyWebhookURL, KeySecretToken, KeyAPIEndpoint, KeyFileEndpoint,
		KeyHost, KeyPort, KeyRateLimitRPM, KeyRateLimitBurst, KeyUploadURL, KeyHostBaseURL,
		KeyLinkBaseURL, KeyHTTPTimeout, KeyMaxConcurrent, KeyRetention, KeySweepInterval,
		KeyLogLevel, KeyLogFormat, KeyMetricsEnabled, KeyTracingEnabled, KeyTracingExporter,
		KeyTracingOTLP, KeyTracingZipkin, KeyTracingSample, KeyTracingVersion, KeyTrustedProxies,
	} {
		t.Setenv(key, "")
	}
}

func fixedSecret() Option {
	return WithSecretGenerator(func() string { return "generated-secret" })
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(fixedSecret())
	require.NoError(t, err)

	assert.Equal(t, ModeServerOnly, cfg.Mode())
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Server.RateLimitRPM)
	assert.Equal(t, 20, cfg.Server.RateLimitBurst)
	assert.Equal(t, "https://telegra.ph/upload", cfg.Relay.UploadURL)
	assert.Equal(t, "https://telegra.ph", cfg.Relay.HostBaseURL)
	assert.Equal(t, "https://telegra.app/imeg", cfg.Relay.LinkBaseURL)
	assert.Equal(t, 30*time.Second, cfg.Relay.HTTPTimeout)
	assert.Equal(t, 8, cfg.Relay.MaxConcurrent)
	assert.Equal(t, 24*time.Hour, cfg.Store.Retention)
	assert.Equal(t, time.Hour, cfg.Store.SweepInterval)
	assert.Equal(t, "https://api.telegram.org/file", cfg.Telegram.FileEndpoint)
	assert.Equal(t, "generated-secret", cfg.Telegram.SecretToken)
	assert.True(t, cfg.Telegram.SecretGenerated)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
	assert.True(t, cfg.Observability.Metrics.Enabled)
	assert.False(t, cfg.Observability.Tracing.Enabled)
	assert.Empty(t, cfg.Server.TrustedProxies)
}

func TestLoadGeneratesUUIDSecret(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Len(t, cfg.Telegram.SecretToken, 36)
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv(KeyBotToken, " 123456:ABCDEF ")
	t.Setenv(KeyWebhookURL, "https://relay.example.com/")
	t.Setenv(KeySecretToken, "configured")
	t.Setenv(KeyPort, "9000")
	t.Setenv(KeyRetention, "12h")
	t.Setenv(KeySweepInterval, "15m")
	t.Setenv(KeyMaxConcurrent, "2")
	t.Setenv(KeyLinkBaseURL, "https://links.example.com/i/")
	t.Setenv(KeyMetricsEnabled, "false")
	t.Setenv(KeyLogFormat, "json")

	cfg, err := Load(fixedSecret())
	require.NoError(t, err)

	assert.Equal(t, "123456:ABCDEF", cfg.Telegram.Token)
	assert.Equal(t, ModeWebhook, cfg.Mode())
	assert.Equal(t, "https://relay.example.com/webhook", cfg.WebhookEndpoint())
	assert.Equal(t, "configured", cfg.Telegram.SecretToken)
	assert.False(t, cfg.Telegram.SecretGenerated)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 12*time.Hour, cfg.Store.Retention)
	assert.Equal(t, 15*time.Minute, cfg.Store.SweepInterval)
	assert.Equal(t, 2, cfg.Relay.MaxConcurrent)
	assert.Equal(t, "https://links.example.com/i", cfg.Relay.LinkBaseURL)
	assert.False(t, cfg.Observability.Metrics.Enabled)
	assert.Equal(t, "json", cfg.Observability.Logging.Format)
}

func TestPollingModeWithoutWebhookURL(t *testing.T) {
	clearEnv(t)
	t.Setenv(KeyBotToken, "123456:ABCDEF")

	cfg, err := Load(fixedSecret())
	require.NoError(t, err)
	assert.Equal(t, ModePolling, cfg.Mode())
	assert.Empty(t, cfg.WebhookEndpoint())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"port":          {KeyPort, "0"},
		"plain webhook": {KeyWebhookURL, "http://relay.example.com"},
		"link base":     {KeyLinkBaseURL, "not a url"},
		"retention":     {KeyRetention, "-1h"},
		"concurrency":   {KeyMaxConcurrent, "0"},
		"sample rate":   {KeyTracingSample, "1.5"},
		"proxy":         {KeyTrustedProxies, "10.0.0.1,not-an-ip"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])

			_, err := Load(fixedSecret())
			require.Error(t, err)
			assert.Contains(t, err.Error(), kv[0])
		})
	}
}

func TestLoadConfigFileUnderEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "imgrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9100\nlink_base_url: https://file.example/imeg\nretention: 6h\n"), 0o600))
	t.Setenv(KeyPort, "9200")

	cfg, err := Load(WithConfigFile(path), fixedSecret())
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "https://file.example/imeg", cfg.Relay.LinkBaseURL)
	assert.Equal(t, 6*time.Hour, cfg.Store.Retention)
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := Config{Telegram: TelegramConfig{Token: "123456:ABCDEFGHIJKLMNOPwxyz", SecretToken: "s3cret"}}

	redacted := cfg.Redacted()

	assert.Equal(t, "123456...wxyz", redacted.Telegram.Token)
	assert.Equal(t, "***", redacted.Telegram.SecretToken)
	assert.Equal(t, "s3cret", cfg.Telegram.SecretToken)
}

func TestLoadTrustedProxies(t *testing.T) {
	clearEnv(t)
	t.Setenv(KeyTrustedProxies, "10.0.0.1, 192.168.0.0/16,")

	cfg, err := Load(fixedSecret())
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.Server.TrustedProxies)
}

func TestSettingsRoundTripThroughConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(KeyPort, "9300")
	t.Setenv(KeyRetention, "36h")
	t.Setenv(KeyLinkBaseURL, "https://links.example.com/i")
	t.Setenv(KeyTrustedProxies, "10.0.0.0/8")
	t.Setenv(KeyTracingSample, "0.25")
	t.Setenv(KeyLogFormat, "json")

	original, err := Load(fixedSecret())
	require.NoError(t, err)

	data, err := yaml.Marshal(original.Redacted().Settings())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	clearEnv(t)
	reloaded, err := Load(WithConfigFile(path), fixedSecret())
	require.NoError(t, err)

	assert.Equal(t, original.Server, reloaded.Server)
	assert.Equal(t, original.Relay, reloaded.Relay)
	assert.Equal(t, original.Store, reloaded.Store)
	assert.Equal(t, original.Observability.Logging.Format, reloaded.Observability.Logging.Format)
	assert.Equal(t, original.Observability.Tracing.SampleRate, reloaded.Observability.Tracing.SampleRate)
	assert.True(t, reloaded.Telegram.SecretGenerated)
}

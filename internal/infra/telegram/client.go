package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"imgrelay/internal/observability"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	// DefaultFileEndpoint is the base used to download files resolved by getFile.
	DefaultFileEndpoint = "https://api.telegram.org/file"

	// PollTimeoutSeconds is the long-poll window requested from getUpdates.
	PollTimeoutSeconds = 60

	webhookRegistrationWindow = time.Minute

	// DefaultConnectWindow bounds how long NewClient retries getMe.
	DefaultConnectWindow = time.Minute
)

// ErrNotConfigured is returned when no bot credential is available.
var ErrNotConfigured = errors.New("telegram bot not configured")

// OutgoingMessage is a text message sent to a chat.
type OutgoingMessage struct {
	ChatID  int64
	Text    string
	ReplyTo int  // message id to reply to, 0 for none
	HTML    bool // parse Text as HTML
}

// Messenger is the messaging surface used by the relay, the gateway and the
// HTTP surface. Tests replace it with in-memory fakes.
type Messenger interface {
	// FileURL resolves a platform file reference to a direct download URL.
	FileURL(ctx context.Context, fileRef string) (string, error)
	// Send delivers msg and returns the new message id.
	Send(ctx context.Context, msg OutgoingMessage) (int, error)
	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Config captures how the client reaches the bot API.
type Config struct {
	Token        string
	APIEndpoint  string // bot API format string, "<base>/bot%s/%s"
	FileEndpoint string
	HTTPTimeout  time.Duration
	HTTPClient   *http.Client
	// ConnectWindow bounds getMe retries at startup. Zero means DefaultConnectWindow.
	ConnectWindow time.Duration
}

// Client implements Messenger on top of the bot API library.
type Client struct {
	bot          *tgbotapi.BotAPI
	token        string
	fileEndpoint string
	files        *FileCache
	logger       *observability.Logger
}

// NewClient authenticates against the bot API. An empty token, or one the
// platform rejects with 401/404, fails immediately so callers can fall back to
// server-only mode. Transport errors and 5xx answers are retried with
// exponential backoff until ConnectWindow elapses or ctx is cancelled.
func NewClient(ctx context.Context, cfg Config, logger *observability.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, ErrNotConfigured
	}
	logger = observability.OrNop(logger).With("component", "telegram")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		// getUpdates holds the connection open for the whole poll window.
		httpClient = &http.Client{Timeout: timeout + PollTimeoutSeconds*time.Second}
	}
	endpoint := strings.TrimSpace(cfg.APIEndpoint)
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	fileEndpoint := strings.TrimRight(strings.TrimSpace(cfg.FileEndpoint), "/")
	if fileEndpoint == "" {
		fileEndpoint = DefaultFileEndpoint
	}

	_ = tgbotapi.SetLogger(botLogger{logger: logger})

	window := cfg.ConnectWindow
	if window <= 0 {
		window = DefaultConnectWindow
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = window

	var bot *tgbotapi.BotAPI
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		connected, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
		if err == nil {
			bot = connected
			return nil
		}
		if isRejectedToken(err) {
			return backoff.Permanent(err)
		}
		logger.Warn("bot api connect attempt failed", "attempt", attempt, "error", redactURLError(err))
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("connect bot api: %w", redactURLError(err))
	}
	logger.Info("bot authorized", "username", bot.Self.UserName, "attempts", attempt)

	return &Client{
		bot:          bot,
		token:        token,
		fileEndpoint: fileEndpoint,
		files:        NewFileCache(DefaultFileCacheSize, DefaultFileCacheTTL),
		logger:       logger,
	}, nil
}

// isRejectedToken reports whether the platform refused the credential itself.
func isRejectedToken(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusNotFound
}

// Username returns the bot account name.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// FileURL resolves fileRef through getFile. Paths are cached for less than the
// platform's one hour link validity.
func (c *Client) FileURL(ctx context.Context, fileRef string) (string, error) {
	if strings.TrimSpace(fileRef) == "" {
		return "", errors.New("empty file reference")
	}
	path, err := c.files.Resolve(ctx, fileRef, func() (string, error) {
		file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileRef})
		if err != nil {
			return "", fmt.Errorf("get file: %w", redactURLError(err))
		}
		if file.FilePath == "" {
			return "", errors.New("get file: empty file path")
		}
		return file.FilePath, nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/bot%s/%s", c.fileEndpoint, c.token, path), nil
}

// Send implements Messenger.
func (c *Client) Send(ctx context.Context, msg OutgoingMessage) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	config := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	config.ReplyToMessageID = msg.ReplyTo
	if msg.HTML {
		config.ParseMode = tgbotapi.ModeHTML
	}
	sent, err := c.bot.Send(config)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", redactURLError(err))
	}
	return sent.MessageID, nil
}

// DeleteMessage implements Messenger.
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, redactURLError(err))
	}
	return nil
}

// RegisterWebhook points the platform at url, signing deliveries with secret.
// Transient failures are retried with exponential backoff for up to a minute.
func (c *Client) RegisterWebhook(ctx context.Context, url, secret string) error {
	params := tgbotapi.Params{"url": url}
	if secret != "" {
		params["secret_token"] = secret
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = webhookRegistrationWindow

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		_, err := c.bot.MakeRequest("setWebhook", params)
		if err == nil {
			return nil
		}
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		c.logger.Warn("webhook registration attempt failed", "attempt", attempt, "error", redactURLError(err))
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("set webhook: %w", redactURLError(err))
	}
	c.logger.Info("webhook registered", "url", url, "attempts", attempt)
	return nil
}

// DeleteWebhook removes any registered webhook so getUpdates can be used.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", redactURLError(err))
	}
	return nil
}

// UpdatesChan starts long polling.
func (c *Client) UpdatesChan(timeout int) tgbotapi.UpdatesChannel {
	config := tgbotapi.NewUpdate(0)
	config.Timeout = timeout
	return c.bot.GetUpdatesChan(config)
}

// StopUpdates ends long polling started by UpdatesChan.
func (c *Client) StopUpdates() {
	c.bot.StopReceivingUpdates()
}

// botLogger routes the bot library's log output through the service logger.
type botLogger struct {
	logger *observability.Logger
}

func (l botLogger) Println(v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

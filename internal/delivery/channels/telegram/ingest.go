package telegram

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"imgrelay/internal/httpclient"
	tginfra "imgrelay/internal/infra/telegram"
	"imgrelay/internal/shared/async"
	jsonx "imgrelay/internal/shared/json"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SecretHeader carries the webhook secret on every platform delivery.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

var (
	ErrUnauthorized    = errors.New("webhook secret mismatch")
	ErrMalformedUpdate = errors.New("malformed update")
)

// HandleWebhook validates and decodes one webhook delivery, then processes it
// in the background. It returns as soon as the update is accepted.
func (g *Gateway) HandleWebhook(ctx context.Context, secret string, body io.Reader) error {
	if g.cfg.WebhookSecret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(g.cfg.WebhookSecret)) != 1 {
		return ErrUnauthorized
	}
	data, err := httpclient.ReadAllWithLimit(body, maxUpdateBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	var update tgbotapi.Update
	if err := jsonx.Unmarshal(data, &update); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	if update.UpdateID <= 0 {
		return fmt.Errorf("%w: missing update_id", ErrMalformedUpdate)
	}
	g.Dispatch(ctx, update)
	return nil
}

// UpdateSource is the long-polling side of the platform client.
type UpdateSource interface {
	DeleteWebhook(ctx context.Context) error
	UpdatesChan(timeout int) tgbotapi.UpdatesChannel
	StopUpdates()
}

// Poll consumes updates until ctx is cancelled or the source closes. Any
// registered webhook is removed first since the platform refuses getUpdates
// while one is set.
func (g *Gateway) Poll(ctx context.Context, source UpdateSource) error {
	if err := source.DeleteWebhook(ctx); err != nil {
		return fmt.Errorf("clear webhook before polling: %w", err)
	}
	updates := source.UpdatesChan(tginfra.PollTimeoutSeconds)
	g.logger.Info("polling for updates")
	for {
		select {
		case <-ctx.Done():
			source.StopUpdates()
			// The receive loop may still be blocked handing over an already
			// fetched batch; drain until it closes the channel. Those updates
			// were never confirmed and are redelivered on the next start.
			async.Go(g.logger, "telegram.poll-drain", func() {
				for range updates {
				}
			})
			g.logger.Info("polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			g.Dispatch(ctx, update)
		}
	}
}

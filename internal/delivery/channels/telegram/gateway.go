package telegram

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"imgrelay/internal/delivery/channels"
	"imgrelay/internal/imagestore"
	tginfra "imgrelay/internal/infra/telegram"
	"imgrelay/internal/observability"
	"imgrelay/internal/relay"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	updateDedupCacheSize = 2048
	updateDedupTTL       = 10 * time.Minute

	// DefaultHandleTimeout bounds one update's whole pipeline.
	DefaultHandleTimeout = 2 * time.Minute
)

// Update kinds reported in logs and metrics.
const (
	KindPhoto     = "photo"
	KindAlbum     = "album"
	KindStart     = "start"
	KindText      = "text"
	KindIgnored   = "ignored"
	KindDuplicate = "duplicate"
)

// Config controls reply links and webhook validation.
type Config struct {
	channels.BaseConfig
	LinkBaseURL   string
	WebhookSecret string
}

// Gateway turns platform updates into relay runs and replies.
type Gateway struct {
	channels.BaseGateway
	cfg       Config
	messenger tginfra.Messenger
	uploader  relay.Uploader
	store     *imagestore.Store
	dedup     *channels.Deduper[int]
	logger    *observability.Logger
	metrics   *observability.MetricsCollector
	tracer    trace.Tracer
	now       func() time.Time
}

// NewGateway constructs a gateway. The messenger, uploader and store are
// required.
func NewGateway(cfg Config, messenger tginfra.Messenger, uploader relay.Uploader, store *imagestore.Store, logger *observability.Logger, metrics *observability.MetricsCollector, tracer trace.Tracer) (*Gateway, error) {
	if messenger == nil {
		return nil, fmt.Errorf("telegram gateway requires messenger")
	}
	if uploader == nil {
		return nil, fmt.Errorf("telegram gateway requires uploader")
	}
	if store == nil {
		return nil, fmt.Errorf("telegram gateway requires image store")
	}
	cfg.LinkBaseURL = strings.TrimSpace(cfg.LinkBaseURL)
	if cfg.LinkBaseURL == "" {
		cfg.LinkBaseURL = relay.DefaultLinkBaseURL
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultHandleTimeout
	}
	dedup, err := channels.NewDeduper[int](updateDedupCacheSize, updateDedupTTL)
	if err != nil {
		return nil, fmt.Errorf("telegram update deduper init: %w", err)
	}
	if tracer == nil {
		tracer = observability.NoopTracer()
	}
	return &Gateway{
		cfg:       cfg,
		messenger: messenger,
		uploader:  uploader,
		store:     store,
		dedup:     dedup,
		logger:    observability.OrNop(logger).With("component", "telegram-gateway"),
		metrics:   metrics,
		tracer:    tracer,
		now:       time.Now,
	}, nil
}

// Dispatch handles update on a tracked goroutine, detached from ctx
// cancellation so shutdown lets it finish.
func (g *Gateway) Dispatch(ctx context.Context, update tgbotapi.Update) {
	detached := context.WithoutCancel(ctx)
	g.Go(g.logger, "telegram.update", func() {
		handleCtx, cancel := channels.ApplyTimeout(detached, g.cfg.BaseConfig)
		defer cancel()
		g.HandleUpdate(handleCtx, update)
	})
}

// HandleUpdate processes one update synchronously. Redelivered updates are
// skipped.
func (g *Gateway) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx = observability.ContextWithUpdateID(ctx, update.UpdateID)
	kind := classify(update.Message)
	if kind != KindIgnored && g.dedup.Seen(update.UpdateID) {
		kind = KindDuplicate
	}

	ctx, span := g.tracer.Start(ctx, observability.SpanUpdateHandle, trace.WithAttributes(
		attribute.Int(observability.AttrUpdateID, update.UpdateID),
		attribute.String(observability.AttrKind, kind),
	))
	defer span.End()
	g.metrics.RecordUpdate(ctx, kind)

	logger := g.logger.WithContext(ctx)
	switch kind {
	case KindPhoto:
		g.runPipeline(ctx, span, update.Message, photoTexts)
	case KindAlbum:
		g.runPipeline(ctx, span, update.Message, albumTexts)
	case KindStart:
		g.reply(ctx, update.Message.Chat.ID, startText)
	case KindText:
		g.reply(ctx, update.Message.Chat.ID, textReplyText)
	case KindDuplicate:
		logger.Debug("duplicate update skipped")
	default:
		logger.Debug("update ignored")
	}
}

// classify maps a message to the handler that owns it.
func classify(msg *tgbotapi.Message) string {
	switch {
	case msg == nil || msg.Chat == nil:
		return KindIgnored
	case len(msg.Photo) > 0 && msg.MediaGroupID != "":
		return KindAlbum
	case len(msg.Photo) > 0:
		return KindPhoto
	case msg.MediaGroupID != "":
		// Album items without photos (videos, documents) get the album's
		// "could not get photo" reply.
		return KindAlbum
	case msg.IsCommand() && msg.Command() == "start":
		return KindStart
	case msg.Text != "":
		return KindText
	default:
		return KindIgnored
	}
}

// runPipeline relays one photo and replies with its link. Any failure,
// including a panic, becomes the generic error reply.
func (g *Gateway) runPipeline(ctx context.Context, span trace.Span, msg *tgbotapi.Message, texts pipelineTexts) {
	logger := g.logger.WithContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logger.Error("photo pipeline panicked", "panic", r, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, err.Error())
			g.reply(ctx, msg.Chat.ID, texts.failed)
		}
	}()

	if err := g.processPhoto(ctx, span, msg, texts); err != nil {
		logger.Error("photo pipeline failed", "error", err)
		span.SetAttributes(observability.ErrorAttrs(err)...)
		span.SetStatus(codes.Error, err.Error())
		g.reply(ctx, msg.Chat.ID, texts.failed)
	}
}

func (g *Gateway) processPhoto(ctx context.Context, span trace.Span, msg *tgbotapi.Message, texts pipelineTexts) error {
	chatID := msg.Chat.ID
	photo, ok := bestPhoto(msg.Photo)
	if !ok {
		g.logger.WarnContext(ctx, "photo update without usable sizes", "sizes", len(msg.Photo))
		g.reply(ctx, chatID, texts.missing)
		return nil
	}

	ackID, err := g.messenger.Send(ctx, tginfra.OutgoingMessage{ChatID: chatID, Text: texts.processing})
	if err != nil {
		return fmt.Errorf("send processing notice: %w", err)
	}

	result := g.uploader.Upload(ctx, photo.FileID)
	logger := g.logger.WithContext(ctx)
	if result.Hosted {
		logger.Info("photo re-hosted", "hosted_url", result.URL)
	} else {
		logger.Warn("photo not re-hosted", "fallback_url", result.URL, "error", result.Err)
	}

	shortID := imagestore.NewID()
	g.store.Put(shortID, photo.FileID, g.now())
	span.SetAttributes(attribute.String(observability.AttrShortID, shortID))

	g.cleanup(ctx, chatID, ackID)

	link := imagestore.Link(g.cfg.LinkBaseURL, shortID)
	if _, err := g.messenger.Send(ctx, tginfra.OutgoingMessage{
		ChatID:  chatID,
		Text:    fmt.Sprintf(texts.link, link),
		ReplyTo: msg.MessageID,
		HTML:    true,
	}); err != nil {
		return fmt.Errorf("send link: %w", err)
	}
	logger.Info("photo link delivered", "short_id", shortID, "link", link)
	return nil
}

// cleanup deletes the processing notice. Failure is logged and never
// affects the reply.
func (g *Gateway) cleanup(ctx context.Context, chatID int64, messageID int) {
	if err := g.messenger.DeleteMessage(ctx, chatID, messageID); err != nil {
		g.logger.WarnContext(ctx, "failed to delete processing notice", "message_id", messageID, "error", err)
	}
}

// reply is a fire-and-forget send that logs errors.
func (g *Gateway) reply(ctx context.Context, chatID int64, text string) {
	if _, err := g.messenger.Send(ctx, tginfra.OutgoingMessage{ChatID: chatID, Text: text}); err != nil {
		g.metrics.RecordReplyFailure(ctx)
		g.logger.WarnContext(ctx, "reply failed", "chat_id", chatID, "error", err)
	}
}

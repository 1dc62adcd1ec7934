package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	tgchannel "imgrelay/internal/delivery/channels/telegram"
	"imgrelay/internal/imagestore"
	"imgrelay/internal/observability"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	imageCacheControl   = "public, max-age=31536000"
	defaultImageType    = "image/jpeg"
	defaultImageTimeout = 30 * time.Second

	notConfiguredText = "Bot not configured"
	notFoundText      = "Image not found"
	fetchFailedText   = "Error fetching image"
)

type imageHandler struct {
	store   *imagestore.Store
	files   FileSource
	fetcher Fetcher
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.MetricsCollector
	tracer  trace.Tracer
}

// serve streams the image behind a short id. Unknown ids are 404 even when no
// bot is configured.
func (h *imageHandler) serve(c *gin.Context) {
	ctx := c.Request.Context()
	id := imagestore.ParseID(c.Param("id"))

	status := h.write(ctx, c, id)
	h.metrics.RecordImageRequest(ctx, status)
}

func (h *imageHandler) write(ctx context.Context, c *gin.Context, id string) int {
	if h.store == nil {
		c.String(http.StatusNotFound, notFoundText)
		return http.StatusNotFound
	}
	record, err := h.store.Get(id)
	if err != nil {
		c.String(http.StatusNotFound, notFoundText)
		return http.StatusNotFound
	}
	if h.files == nil || h.fetcher == nil {
		c.String(http.StatusInternalServerError, notConfiguredText)
		return http.StatusInternalServerError
	}

	timeout := h.timeout
	if timeout <= 0 {
		timeout = defaultImageTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := h.tracer.Start(ctx, observability.SpanImageFetch, trace.WithAttributes(
		attribute.String(observability.AttrShortID, id),
	))
	defer span.End()

	data, contentType, err := h.load(ctx, record.FileRef)
	if err != nil {
		h.logger.ErrorContext(ctx, "image fetch failed", "short_id", id, "error", err)
		span.SetAttributes(observability.ErrorAttrs(err)...)
		span.SetStatus(codes.Error, err.Error())
		c.String(http.StatusInternalServerError, fetchFailedText)
		return http.StatusInternalServerError
	}
	c.Header("Cache-Control", imageCacheControl)
	c.Data(http.StatusOK, contentType, data)
	return http.StatusOK
}

// load re-resolves fileRef and downloads it in a single attempt.
func (h *imageHandler) load(ctx context.Context, fileRef string) ([]byte, string, error) {
	url, err := h.files.FileURL(ctx, fileRef)
	if err != nil {
		return nil, "", err
	}
	file, err := h.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, "", err
	}
	contentType := file.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = defaultImageType
	}
	return file.Data, contentType, nil
}

type webhookHandler struct {
	handler WebhookHandler
	logger  *observability.Logger
}

func (h *webhookHandler) serve(c *gin.Context) {
	if h.handler == nil {
		c.String(http.StatusInternalServerError, notConfiguredText)
		return
	}
	ctx := c.Request.Context()
	err := h.handler.HandleWebhook(ctx, c.GetHeader(tgchannel.SecretHeader), c.Request.Body)
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case errors.Is(err, tgchannel.ErrUnauthorized):
		h.logger.WarnContext(ctx, "webhook rejected: bad secret", "client_ip", c.ClientIP())
		c.String(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	case errors.Is(err, tgchannel.ErrMalformedUpdate):
		h.logger.WarnContext(ctx, "webhook rejected: malformed update", "error", err)
		c.String(http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
	default:
		h.logger.ErrorContext(ctx, "webhook handling failed", "error", err)
		c.String(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

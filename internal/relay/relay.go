package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"imgrelay/internal/httpclient"
	"imgrelay/internal/imagestore"
	"imgrelay/internal/infra/telegram"
	"imgrelay/internal/observability"
	jsonx "imgrelay/internal/shared/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultUploadURL     = "https://telegra.ph/upload"
	DefaultHostBaseURL   = "https://telegra.ph"
	DefaultLinkBaseURL   = "https://telegra.app/imeg"
	DefaultMaxConcurrent = 8

	maxHostResponseBytes = 64 << 10
	fallbackContentType  = "image/jpeg"
)

// FileSource resolves platform file references to download URLs.
type FileSource interface {
	FileURL(ctx context.Context, fileRef string) (string, error)
}

// Fetcher downloads bytes from a resolved URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*telegram.File, error)
}

// Uploader is the relay surface used by the event handlers.
type Uploader interface {
	Upload(ctx context.Context, fileRef string) Result
}

// Config controls the relay endpoints and limits.
type Config struct {
	UploadURL     string
	HostBaseURL   string
	LinkBaseURL   string
	MaxConcurrent int
	HTTPClient    *http.Client
}

// Result is the outcome of one upload. URL is always set.
type Result struct {
	URL    string
	Hosted bool  // URL points at the image host rather than a fallback link
	Err    error // cause of the fallback, for logging only
}

// Relay re-hosts platform files on the image host.
type Relay struct {
	uploadURL string
	hostBase  string
	linkBase  string
	client    *http.Client
	files     FileSource
	fetcher   Fetcher
	slots     *semaphore.Weighted
	logger    *observability.Logger
	metrics   *observability.MetricsCollector
	tracer    trace.Tracer
	now       func() time.Time
}

// New constructs a relay. A nil tracer disables spans.
func New(cfg Config, files FileSource, fetcher Fetcher, logger *observability.Logger, metrics *observability.MetricsCollector, tracer trace.Tracer) *Relay {
	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultUploadURL
	}
	if cfg.HostBaseURL == "" {
		cfg.HostBaseURL = DefaultHostBaseURL
	}
	if cfg.LinkBaseURL == "" {
		cfg.LinkBaseURL = DefaultLinkBaseURL
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpclient.New(httpclient.DefaultTimeout)
	}
	if tracer == nil {
		tracer = observability.NoopTracer()
	}
	return &Relay{
		uploadURL: cfg.UploadURL,
		hostBase:  strings.TrimRight(cfg.HostBaseURL, "/"),
		linkBase:  cfg.LinkBaseURL,
		client:    cfg.HTTPClient,
		files:     files,
		fetcher:   fetcher,
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:    observability.OrNop(logger).With("component", "relay"),
		metrics:   metrics,
		tracer:    tracer,
		now:       time.Now,
	}
}

// Upload fetches fileRef from the platform and re-hosts it. Any failure is
// converted into a fallback link under the link base; Upload never fails.
func (r *Relay) Upload(ctx context.Context, fileRef string) Result {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, observability.SpanRelayUpload)
	defer span.End()

	url, err := r.upload(ctx, fileRef)
	elapsed := time.Since(start)
	if err != nil {
		fallback := imagestore.Link(r.linkBase, imagestore.NewID())
		r.logger.WarnContext(ctx, "image host upload failed, using fallback link", "error", err, "fallback", fallback, "elapsed", elapsed)
		r.metrics.RecordUpload(ctx, observability.UploadOutcomeFallback, elapsed)
		span.SetAttributes(attribute.String(observability.AttrOutcome, observability.UploadOutcomeFallback))
		span.SetAttributes(observability.ErrorAttrs(err)...)
		span.SetStatus(codes.Error, err.Error())
		return Result{URL: fallback, Err: err}
	}

	r.logger.InfoContext(ctx, "image hosted", "url", url, "elapsed", elapsed)
	r.metrics.RecordUpload(ctx, observability.UploadOutcomeHosted, elapsed)
	span.SetAttributes(attribute.String(observability.AttrOutcome, observability.UploadOutcomeHosted))
	return Result{URL: url, Hosted: true}
}

func (r *Relay) upload(ctx context.Context, fileRef string) (string, error) {
	if err := r.slots.Acquire(ctx, 1); err != nil {
		return "", &UploadError{Stage: StageQueue, Err: err}
	}
	defer r.slots.Release(1)

	if r.files == nil || r.fetcher == nil {
		return "", &UploadError{Stage: StageResolve, Err: telegram.ErrNotConfigured}
	}
	fileURL, err := r.files.FileURL(ctx, fileRef)
	if err != nil {
		return "", &UploadError{Stage: StageResolve, Err: err}
	}
	file, err := r.fetcher.Fetch(ctx, fileURL)
	if err != nil {
		return "", &UploadError{Stage: StageDownload, Err: err}
	}
	return r.post(ctx, file)
}

func (r *Relay) post(ctx context.Context, file *telegram.File) (string, error) {
	body, contentType, err := r.encode(file)
	if err != nil {
		return "", &HostError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.uploadURL, body)
	if err != nil {
		return "", &HostError{Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &HostError{Err: err}
	}
	defer resp.Body.Close()

	data, err := httpclient.ReadAllWithLimit(resp.Body, maxHostResponseBytes)
	if err != nil {
		return "", &HostError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HostError{StatusCode: resp.StatusCode, Message: hostMessage(data)}
	}

	src, err := parseHostResponse(data)
	if err != nil {
		return "", &HostError{StatusCode: resp.StatusCode, Err: err}
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src, nil
	}
	if !strings.HasPrefix(src, "/") {
		src = "/" + src
	}
	return r.hostBase + src, nil
}

// encode builds the multipart body with a single "file" part.
func (r *Relay) encode(file *telegram.File) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	contentType := file.ContentType
	if contentType == "" {
		contentType = fallbackContentType
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="image_%d.jpg"`, r.now().UnixMilli()))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

type hostFile struct {
	Src string `json:"src"`
}

type hostFailure struct {
	Error string `json:"error"`
}

// parseHostResponse accepts `[{"src": "/file/x.jpg"}]` and reports
// `{"error": "..."}` payloads as errors.
func parseHostResponse(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", ErrEmptyResponse
	}
	if trimmed[0] == '{' {
		var failure hostFailure
		if err := jsonx.Unmarshal(trimmed, &failure); err != nil {
			return "", fmt.Errorf("decode host response: %w", err)
		}
		if failure.Error != "" {
			return "", errors.New(failure.Error)
		}
		return "", ErrEmptyResponse
	}

	var files []hostFile
	if err := jsonx.Unmarshal(trimmed, &files); err != nil {
		return "", fmt.Errorf("decode host response: %w", err)
	}
	if len(files) == 0 || strings.TrimSpace(files[0].Src) == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(files[0].Src), nil
}

func hostMessage(data []byte) string {
	var failure hostFailure
	if err := jsonx.Unmarshal(data, &failure); err == nil && failure.Error != "" {
		return failure.Error
	}
	return ""
}

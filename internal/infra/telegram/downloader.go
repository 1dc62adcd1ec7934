package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"imgrelay/internal/httpclient"
)

// Bots may download files of up to 20 MB.
const DefaultMaxDownloadBytes = 20 << 20

// File is a downloaded platform file.
type File struct {
	Data        []byte
	ContentType string
}

// StatusError reports a non-success download response. It never carries the
// request URL, which embeds the bot token.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download failed: %s", e.Status)
}

// Downloader fetches file bytes from resolved download URLs.
type Downloader struct {
	client   *http.Client
	maxBytes int64
}

// NewDownloader creates a downloader. A nil client gets the default bounded
// client.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = httpclient.New(httpclient.DefaultTimeout)
	}
	return &Downloader{client: client, maxBytes: DefaultMaxDownloadBytes}
}

// Fetch downloads rawURL in a single attempt.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", redactURLError(err))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", redactURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data, err := httpclient.ReadAllWithLimit(resp.Body, d.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return &File{Data: data, ContentType: contentType}, nil
}

// redactURLError strips the URL from transport errors so the token does not
// reach the logs.
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

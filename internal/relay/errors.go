package relay

import (
	"errors"
	"fmt"
)

// Pipeline stages that can fail before the image host is contacted.
const (
	StageQueue    = "queue"
	StageResolve  = "resolve"
	StageDownload = "download"
)

// ErrEmptyResponse means the image host answered without a usable link.
var ErrEmptyResponse = errors.New("image host returned no src")

// UploadError reports a failure to obtain the image bytes.
type UploadError struct {
	Stage string
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// HostError reports a failure of the image host itself: transport errors,
// non-success statuses and error payloads.
type HostError struct {
	StatusCode int    // 0 when no response was received
	Message    string // error text reported by the host, if any
	Err        error
}

func (e *HostError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("image host error: %s", e.Message)
	case e.StatusCode != 0 && e.Err == nil:
		return fmt.Sprintf("image host status %d", e.StatusCode)
	default:
		return fmt.Sprintf("image host: %v", e.Err)
	}
}

func (e *HostError) Unwrap() error {
	return e.Err
}

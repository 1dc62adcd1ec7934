package httpclient

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds outbound calls when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// New returns a client whose whole exchange is bounded by timeout.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Timeout: timeout, Transport: transport}
}

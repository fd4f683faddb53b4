package client

import (
	"fmt"
	"net/http"
	"time"
)

const defaultUserAgent = "kamctl"

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// HTTPError is a non-2xx backend response. The status code is preserved so
// callers can distinguish auth failures (401) and suspension (423) from
// generic rejections.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

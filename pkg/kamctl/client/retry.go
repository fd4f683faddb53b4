package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	transientAttempts = 3
	transientBackoff  = time.Second
)

// doWithRetry runs fn up to transientAttempts times, sleeping a fixed backoff
// between attempts. Only transport-level failures are retried; any error that
// means the backend answered is surfaced immediately.
func doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= transientAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrAccountSuspended) {
			return err
		}
		lastErr = err
		if attempt == transientAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(transientBackoff):
		}
	}
	return fmt.Errorf("request failed after %d attempts: %w", transientAttempts, lastErr)
}

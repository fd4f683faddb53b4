package client

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned for HTTP 401 responses on token endpoints.
	ErrUnauthorized = errors.New("refresh token expired or invalid")
	// ErrAccountSuspended is returned when the web portal reports the account
	// as suspended (HTTP 423 or an AccountSuspendedException marker).
	ErrAccountSuspended = errors.New("account suspended")

	// Device-authorization poll outcomes, per RFC 8628 error codes.
	ErrAuthorizationPending = errors.New("authorization pending")
	ErrSlowDown             = errors.New("slow down")
	ErrExpiredToken         = errors.New("device code expired")
	ErrAccessDenied         = errors.New("access denied")
)

// DeviceAuthError carries an unrecognized device-flow error code verbatim.
type DeviceAuthError struct {
	Code string
}

func (e *DeviceAuthError) Error() string {
	return fmt.Sprintf("device auth error: %s", e.Code)
}

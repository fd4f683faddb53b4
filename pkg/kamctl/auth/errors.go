package auth

import (
	"errors"

	"github.com/kirozen/kamctl/pkg/kamctl/callback"
)

var (
	// ErrUnsupportedProvider is returned by the factory for unknown ids.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrRefreshTokenInvalid means the backend rejected the refresh token
	// (HTTP 401); the caller should trigger re-authentication, not retry.
	ErrRefreshTokenInvalid = errors.New("refresh token expired or invalid")
	// ErrAccountSuspended is the distinguished "banned" signal so callers can
	// flip the stored account status instead of logging a generic failure.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrDeviceCodeExpired means the device code expired before the user
	// approved it.
	ErrDeviceCodeExpired = errors.New("device code expired")
	// ErrDeviceAuthTimeout means polling hit the authorization's expiry
	// ceiling without a terminal answer from the backend.
	ErrDeviceAuthTimeout = errors.New("device authorization timed out")
	// ErrUserDenied means the user rejected the device authorization.
	ErrUserDenied = errors.New("user denied authorization")
	// ErrMissingMetadata means the caller did not supply refresh context the
	// flow requires (a caller-side contract violation, not a backend error).
	ErrMissingMetadata = errors.New("missing refresh metadata")
	// ErrIncompleteExchange means the backend omitted a required field from
	// the token exchange.
	ErrIncompleteExchange = errors.New("incomplete token exchange")
)

// Correlation failures surface under the callback package's identities so a
// caller holding either package sees the same error values.
var (
	ErrStateMismatch   = callback.ErrStateMismatch
	ErrCallbackTimeout = callback.ErrCallbackTimeout
	ErrLoginInProgress = callback.ErrLoginInProgress
)

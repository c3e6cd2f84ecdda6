package oauth

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned at the flow boundary when the provider integration is
// missing its app id, secret or redirect URI. It fails fast; flows never get deep enough
// to half-complete.
var ErrNotConfigured = errors.New("oauth: provider integration is not configured")

// ErrInvalidState is returned when an authorization callback carries a CSRF state token
// that was never issued, already consumed, or expired. A hard stop, never retried.
var ErrInvalidState = errors.New("oauth: invalid or expired state token")

// ExchangeError wraps a failed remote token exchange, network or provider-reported
type ExchangeError struct {
	Step string
	Err  error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("oauth: %s exchange failed: %v", e.Step, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// IdentityFetchError wraps a failure to resolve the remote user behind a token. Without
// an identity there is nothing to key the credential on, so the attempt aborts.
type IdentityFetchError struct {
	Err error
}

func (e *IdentityFetchError) Error() string {
	return fmt.Sprintf("oauth: identity fetch failed: %v", e.Err)
}

func (e *IdentityFetchError) Unwrap() error {
	return e.Err
}

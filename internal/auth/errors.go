package auth

import "errors"

// Sentinel errors for the authentication lifecycle. Callers match with
// errors.Is; the wrapped cause carries the transport or server detail.
var (
	ErrUnauthenticated = errors.New("auth: not authenticated")
	ErrExchangeFailed  = errors.New("auth: authorization code exchange failed")
	ErrRefreshFailed   = errors.New("auth: token refresh failed")
	ErrStateMismatch   = errors.New("auth: OAuth2 state mismatch")
)

package provider

import (
	"errors"
	"fmt"
)

// ErrRateLimited marks a 429 from the provider. The client retries these
// with exponential backoff before surfacing the error.
var ErrRateLimited = errors.New("signature provider rate limit exceeded")

// ErrUnauthorized marks a 401/403 from the provider: the access token is
// expired or revoked. Never retried; the connection manager must refresh.
var ErrUnauthorized = errors.New("signature provider rejected credentials")

// ErrUnavailable marks any other non-2xx or transport failure. Read paths
// treat it as non-fatal and fall back to last-known-good local state.
var ErrUnavailable = errors.New("signature provider unavailable")

// StatusError wraps one of the sentinel errors with the HTTP detail that
// produced it.
type StatusError struct {
	Kind       error
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (status %d): %s", e.Kind, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

func classifyStatus(statusCode int, body string) error {
	switch {
	case statusCode == 429:
		return &StatusError{Kind: ErrRateLimited, StatusCode: statusCode, Body: body}
	case statusCode == 401 || statusCode == 403:
		return &StatusError{Kind: ErrUnauthorized, StatusCode: statusCode, Body: body}
	default:
		return &StatusError{Kind: ErrUnavailable, StatusCode: statusCode, Body: body}
	}
}

package services

import "fmt"

// AuthError reports a rejected token exchange or refresh at the provider's
// token endpoint. Detail carries the raw provider response body for
// diagnostics.
type AuthError struct {
	Op     string // "exchange" or "refresh"
	Status int
	Detail string
}

func (e *AuthError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("spotify token %s failed: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("spotify token %s failed: %s", e.Op, e.Detail)
}

// RateLimitError reports an HTTP 429 from the Spotify API, carrying the
// parsed Retry-After value in seconds.
type RateLimitError struct {
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %d seconds", e.RetryAfter)
}

// PermissionError reports an HTTP 401/403: the granted token lacks a required
// scope or was revoked. Not retryable within a sync run.
type PermissionError struct {
	Status int
	Reason string
}

func (e *PermissionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("spotify denied request: status %d", e.Status)
	}
	return fmt.Sprintf("spotify denied request: %s", e.Reason)
}

// APIError is the catch-all for other non-2xx Spotify API responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("spotify API error: status %d", e.Status)
	}
	return fmt.Sprintf("spotify API error: %s (status %d)", e.Message, e.Status)
}

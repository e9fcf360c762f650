package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for provider failures. Provider implementations wrap
// the SDK error with one of these so callers can map them to responses.
var (
	ErrInvalidAPIKey       = errors.New("invalid API key")
	ErrRateLimited         = errors.New("provider rate limit exceeded")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// classify wraps err with the sentinel matching the HTTP status the
// provider answered with. A zero status means the request never got a
// response, which counts as unavailable.
func classify(status int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrInvalidAPIKey, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case status == 0 || status >= 500:
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	default:
		return fmt.Errorf("provider request failed: %w", err)
	}
}

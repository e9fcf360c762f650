package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	ErrInvalidKey  = errors.New("invalid API key")
	ErrUsageLimit  = errors.New("free usage limit reached")
	ErrRateLimited = errors.New("rate limited")
	ErrServer      = errors.New("server error")
)

// APIError is a non-2xx response. It unwraps to the sentinel matching its
// status, so callers can test with errors.Is.
type APIError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("planlearn: %d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("planlearn: %d %s", e.Status, e.Title)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrInvalidKey
	case e.Status == http.StatusPaymentRequired:
		return ErrUsageLimit
	case e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Status >= 500:
		return ErrServer
	}
	return nil
}

// readError builds an APIError from a problem+json body. Bodies that are
// not problem documents keep only the status.
func readError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Status == 0 {
		apiErr.Status = resp.StatusCode
	}
	if apiErr.Title == "" {
		apiErr.Title = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

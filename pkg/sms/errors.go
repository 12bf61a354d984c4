package sms

import (
	"errors"
	"fmt"
	"net/http"
)

// SendError describes a failed provider call. Transient and permanent
// failures are both terminal for the notification that hit them; the
// classification drives rate limiter backoff and metrics, not retries.
type SendError struct {
	HTTPStatus int    // zero when the request never completed
	Body       string // truncated provider response body
	RetryAfter string // provider Retry-After header, when present
	Transient  bool
	Err        error // underlying transport error, when any
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sms send failed: %v", e.Err)
	}
	return fmt.Sprintf("sms send failed: provider returned status %d", e.HTTPStatus)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Classification returns the metrics label for this failure.
func (e *SendError) Classification() string {
	if e.Transient {
		return "transient"
	}
	return "permanent"
}

// IsTransient reports whether err is a transient provider failure.
func IsTransient(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Transient
	}
	return false
}

// RetryAfter returns the provider's Retry-After header for err, if any.
func RetryAfter(err error) string {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.RetryAfter
	}
	return ""
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error classifies channel send failures as retryable (timeout, 5xx, rate
// limited) or permanent (invalid address, hard bounce).
type Error struct {
	Kind       string
	StatusCode int
	Message    string
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "channel error")

	if kind := strings.TrimSpace(e.Kind); kind != "" {
		parts = append(parts, kind)
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsRetryable reports whether a send failure should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var channelErr *Error
	if errors.As(err, &channelErr) {
		return channelErr.Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

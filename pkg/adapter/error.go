package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// AdapterError carries the provider name and HTTP status of a failed
// completion call so callers can decide whether a retry is worthwhile.
type AdapterError struct {
	Provider  string
	Status    int
	Temporary bool
	Err       error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: request failed with status %d", e.Provider, e.Status)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether an error is safe to retry: provider
// rate limits and server-side failures are, rejected requests are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Temporary || ae.Status == http.StatusTooManyRequests || ae.Status >= 500
	}
	return false
}

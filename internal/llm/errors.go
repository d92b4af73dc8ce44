package llm

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TimeoutError is returned when a request or a single stream read
// exceeds its deadline.
type TimeoutError struct {
	Seconds int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %d seconds", e.Seconds)
}

// TransportError wraps a failure below HTTP: dial, DNS, TLS, reads.
type TransportError struct {
	Err     error
	Connect bool
	Timeout bool
}

func NewTransportError(err error) *TransportError {
	te := &TransportError{Err: err}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		te.Timeout = true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		te.Connect = true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		te.Connect = true
	}
	return te
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("http error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-2xx answer from the upstream API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthFailed:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrRateLimit:
		return e.Status == http.StatusTooManyRequests
	case ErrRequestFailed:
		return true
	}
	return false
}

// MaxRetriesError means every attempt failed with a retryable error.
type MaxRetriesError struct {
	Attempts  int
	LastError string
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("max retries exceeded (%d attempts): %s", e.Attempts, e.LastError)
}

// IsRetryable reports whether a failed attempt is worth repeating.
func IsRetryable(err error) bool {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Timeout || transportErr.Connect
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return IsRetryableStatus(apiErr.Status)
	}

	return false
}

func IsRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

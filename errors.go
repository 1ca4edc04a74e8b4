package kemudi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Error type constants carried by RequestError.Type.
const (
	ErrorTypeValidation = "Validation"
	ErrorTypeQueueFull  = "QueueFull"
	ErrorTypeCancelled  = "Cancelled"
	ErrorTypeTimeout    = "Timeout"
	ErrorTypeNetwork    = "Network"
	ErrorTypeHTTPStatus = "HTTPStatus"
	ErrorTypeMaxRetries = "MaxRetriesExceeded"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrQueueFull is returned when the gate's overflow queue is at capacity.
	ErrQueueFull = errors.New("kemudi: queue full")

	// ErrCancelled is returned when a queued task or an in-flight
	// deduplication entry is force-cancelled.
	ErrCancelled = errors.New("kemudi: cancelled")

	// ErrTimeout marks an executor timeout eligible for retry.
	ErrTimeout = errors.New("kemudi: timeout")

	// ErrNetwork marks a network-level executor failure eligible for retry.
	ErrNetwork = errors.New("kemudi: network error")

	// ErrMaxRetries is returned after exhausting all retry attempts.
	ErrMaxRetries = errors.New("kemudi: max retries exceeded")
)

// RequestError is the terminal error a caller receives from Submit. It carries
// the failure classification plus retry-count metadata.
type RequestError struct {
	Type        string
	Message     string
	Cause       error
	RequestID   string
	Fingerprint string
	StatusCode  int
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
	Duration    time.Duration
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches either another RequestError of the same Type or the sentinel
// error corresponding to this error's Type.
func (e *RequestError) Is(target error) bool {
	if e == nil {
		return false
	}
	if other, ok := target.(*RequestError); ok {
		return e.Type == other.Type
	}
	switch target {
	case ErrQueueFull:
		return e.Type == ErrorTypeQueueFull
	case ErrCancelled:
		return e.Type == ErrorTypeCancelled
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrNetwork:
		return e.Type == ErrorTypeNetwork
	case ErrMaxRetries:
		return e.Type == ErrorTypeMaxRetries
	}
	return false
}

// NewHTTPStatusError builds a RequestError for a non-success status code.
func NewHTTPStatusError(statusCode int) *RequestError {
	return &RequestError{
		Type:       ErrorTypeHTTPStatus,
		Message:    fmt.Sprintf("request failed with status %d", statusCode),
		StatusCode: statusCode,
		Timestamp:  time.Now(),
	}
}

// NewNetworkError wraps a transport failure as a retryable network error.
func NewNetworkError(cause error) *RequestError {
	return &RequestError{
		Type:      ErrorTypeNetwork,
		Message:   "network request failed",
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewTimeoutError wraps an executor timeout.
func NewTimeoutError(cause error) *RequestError {
	return &RequestError{
		Type:      ErrorTypeTimeout,
		Message:   "request timed out",
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// StatusCodeOf extracts the HTTP status code from an error chain, if present.
func StatusCodeOf(err error) (int, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode > 0 {
		return reqErr.StatusCode, true
	}
	return 0, false
}

// IsTransient reports whether an error represents a transient failure that
// might succeed on retry: network errors, timeouts, and 5xx/408/429 statuses.
// Queue overflow, cancellation and validation failures are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout:
			return true
		case ErrorTypeHTTPStatus:
			return reqErr.StatusCode == 408 || reqErr.StatusCode == 429 || reqErr.StatusCode >= 500
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// isTimeout reports whether an error chain represents a timeout.
func isTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isCancellation reports whether an error chain represents a cancellation.
func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

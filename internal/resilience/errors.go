package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// TransientError marks a failure worth another attempt. StatusCode is the
// upstream HTTP status, or 0 when no response was received.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// NewStatusError reports a non-2xx response from target. Callers decide
// which statuses reach it; the data.gov.in fetcher sends every non-2xx.
func NewStatusError(statusCode int, target string) *TransientError {
	return &TransientError{
		Err:        fmt.Errorf("http %d from %s", statusCode, target),
		StatusCode: statusCode,
	}
}

// IsTransient reports whether err carries a TransientError, a network
// timeout, or a reset/refused/aborted connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// StatusCode returns the HTTP status recorded on the first TransientError in
// err's chain, or 0.
func StatusCode(err error) int {
	var te *TransientError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

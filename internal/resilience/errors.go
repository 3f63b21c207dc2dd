package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorClass names the taxonomy bucket an attempt outcome falls into.
type ErrorClass string

const (
	ClassNone        ErrorClass = ""
	ClassTimeout     ErrorClass = "timeout"
	ClassRateLimited ErrorClass = "rate_limited"
	ClassServer      ErrorClass = "server"
	ClassRejected    ErrorClass = "rejected"
	ClassUnexpected  ErrorClass = "unexpected"
)

// StatusError is a non-2xx HTTP response from the remote API.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// NewStatusError wraps err with the HTTP status code that produced it.
func NewStatusError(err error, statusCode int) *StatusError {
	return &StatusError{Err: err, StatusCode: statusCode}
}

// StatusCode returns the HTTP status carried anywhere in err's chain, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsTimeout reports whether err is a transport-level timeout: a deadline on
// the call itself, a net.Error timeout, or a wrapped client timeout message.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"i/o timeout",
		"tls handshake timeout",
		"client.timeout exceeded",
		"timeout awaiting response headers",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

package breaker

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// httpStatusError is implemented by upstream API errors that carry the
// response status code
type httpStatusError interface {
	HTTPStatus() int
}

// IsFailure classifies an error for breaker accounting. Only 5xx responses,
// HTTP 429, and connection-level failures (refused, reset, timeout,
// unresolvable host) count; 4xx validation and auth errors never trip the
// breaker.
func IsFailure(err error) bool {
	if err == nil {
		return false
	}

	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		status := statusErr.HTTPStatus()
		return status >= 500 || status == 429
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

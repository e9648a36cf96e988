package chat

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Transient error patterns. Network hiccups and upstream overload resolve on
// retry; everything else is treated as fatal (fail safe, no wasted attempts).
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"network is unreachable",
	"no such host",
	"temporary failure",
	"dial tcp",
	"eof",
	"connection lost",
	"timeout",
	"deadline exceeded",
	"i/o timeout",
	"operation timed out",
	"rate limit",
	"too many requests",
	"service unavailable",
	"bad gateway",
	"overloaded",
	"server error",
	"status code: 429",
	"status code: 500",
	"status code: 502",
	"status code: 503",
	"status code: 504",
}

// isTransient reports whether a generation attempt failure may resolve if the
// same request is retried. Cancellation is never transient: a cancelled turn
// is discarded, not retried.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

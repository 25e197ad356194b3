package retry

import (
	"context"
	"errors"
	"net"
	"strings"
)

// DefaultIsRetriable classifies network, timeout, HTTP 429, and HTTP 5xx
// errors as retriable; everything else (validation errors, uniqueness
// constraint violations) is treated as non-retriable per spec §4.6.
func DefaultIsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return true
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return true
	case strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return true
	case strings.Contains(msg, "validation"), strings.Contains(msg, "duplicate key"), strings.Contains(msg, "unique constraint"):
		return false
	}
	return false
}

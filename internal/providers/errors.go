package providers

import (
	"context"
	"errors"
	"strings"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTimeout   ErrorType = "timeout"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

// ClassifyError is the single place raw provider failures are sorted by their
// message. Callers layer their own policy on the class it returns.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate limit"), strings.Contains(e, "rate_limit"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context length"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "timed out"), strings.Contains(e, "deadline exceeded"),
		strings.Contains(e, "connection reset"):
		return ErrorTimeout
	case strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// Failover reports whether another provider should be tried for the same request.
func (t ErrorType) Failover() bool {
	return t == ErrorQuota || t == ErrorRate
}

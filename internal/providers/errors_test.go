package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := map[string]ErrorType{
		"insufficient_quota":             ErrorQuota,
		"429 too many requests":          ErrorRate,
		"maximum context length":         ErrorContext,
		"timeout":                        ErrorTimeout,
		"request timed out":              ErrorTimeout,
		"read: connection reset by peer": ErrorTimeout,
		"503 service unavailable":        ErrorTransient,
		"bad request":                    ErrorPermanent,
	}
	for msg, want := range cases {
		if got := ClassifyError(errors.New(msg)); got != want {
			t.Fatalf("classify %q: got %s want %s", msg, got, want)
		}
	}
	if got := ClassifyError(fmt.Errorf("call: %w", context.DeadlineExceeded)); got != ErrorTimeout {
		t.Fatalf("wrapped deadline: got %s want %s", got, ErrorTimeout)
	}
	if ClassifyError(nil) != "" {
		t.Fatalf("nil error should not classify")
	}
}

func TestFailoverOnlyForCapacityErrors(t *testing.T) {
	if !ErrorQuota.Failover() || !ErrorRate.Failover() {
		t.Fatalf("quota and rate errors should fail over")
	}
	if ErrorTimeout.Failover() || ErrorTransient.Failover() || ErrorPermanent.Failover() {
		t.Fatalf("timeout, transient and permanent errors should not fail over")
	}
}

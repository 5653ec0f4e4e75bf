package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

// =============================================================================
// ErrorType Tests
// =============================================================================

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    string
	}{
		{Unknown, "unknown"},
		{Network, "network"},
		{Timeout, "timeout"},
		{RobotsDenied, "robots_denied"},
		{LedgerConflict, "ledger_conflict"},
		{StorageUnavailable, "storage_unavailable"},
		{InvalidTarget, "invalid_target"},
		{Parse, "parse"},
		{Cancelled, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.errType.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorType_Classes(t *testing.T) {
	tests := []struct {
		errType   ErrorType
		transport bool
		fatal     bool
	}{
		{Network, true, false},
		{Timeout, true, false},
		{RobotsDenied, false, false},
		{LedgerConflict, false, true},
		{StorageUnavailable, false, true},
		{InvalidTarget, false, true},
		{Parse, false, false},
		{Cancelled, false, false},
		{Unknown, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.errType.String(), func(t *testing.T) {
			if got := tt.errType.IsTransport(); got != tt.transport {
				t.Errorf("IsTransport() = %v, want %v", got, tt.transport)
			}
			if got := tt.errType.IsFatal(); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}

// =============================================================================
// ProbeError Tests
// =============================================================================

func TestProbeError_Error(t *testing.T) {
	err := NewNetworkError("https://api.example.com/users", "probe", nil)
	want := "network error during probe on https://api.example.com/users: network failure"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestProbeError_ErrorWithoutURL(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewStorageError("reserve", cause)
	want := "storage_unavailable error during reserve: ledger unavailable (caused by: disk full)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestProbeError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := NewStorageError("record", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestProbeError_IsSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		want     bool
	}{
		{"conflict", NewLedgerConflictError("GET /users", "probed then failed"), ErrLedgerConflict, true},
		{"storage", NewStorageError("open", nil), ErrStorageUnavailable, true},
		{"wrapped storage", fmt.Errorf("failed to reserve: %w", NewStorageError("reserve", nil)), ErrStorageUnavailable, true},
		{"target", NewInvalidTargetError("ftp://x", "unsupported scheme"), ErrInvalidTarget, true},
		{"robots", NewRobotsDeniedError("/admin"), ErrRobotsDenied, true},
		{"mismatch", NewNetworkError("u", "probe", nil), ErrLedgerConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.sentinel); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Categorize Tests
// =============================================================================

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"deadline", context.DeadlineExceeded, Timeout},
		{"net timeout", timeoutErr{}, Timeout},
		{"canceled", context.Canceled, Cancelled},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, Network},
		{"op error", &net.OpError{Op: "dial", Err: fmt.Errorf("refused")}, Network},
		{"refused text", fmt.Errorf("connection refused"), Network},
		{"other", fmt.Errorf("unexpected EOF"), Network},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.err, "https://example.com")
			if got.Type != tt.want {
				t.Errorf("Categorize().Type = %v, want %v", got.Type, tt.want)
			}
		})
	}
}

func TestCategorize_Nil(t *testing.T) {
	if Categorize(nil, "u") != nil {
		t.Error("Categorize(nil) should return nil")
	}
}

func TestCategorize_KeepsProbeError(t *testing.T) {
	orig := NewTimeoutError("u", "probe", nil)
	if got := Categorize(fmt.Errorf("wrap: %w", orig), "u"); got != orig {
		t.Errorf("Categorize() = %v, want original error", got)
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(fmt.Errorf("x: %w", NewStorageError("reserve", nil))) {
		t.Error("storage errors should be fatal")
	}
	if IsFatal(NewTimeoutError("u", "probe", nil)) {
		t.Error("timeouts should not be fatal")
	}
	if IsFatal(fmt.Errorf("plain")) {
		t.Error("plain errors should not be fatal")
	}
	if !IsTransport(NewNetworkError("u", "probe", nil)) {
		t.Error("network errors are transport errors")
	}
}

// =============================================================================
// CircuitBreaker Tests
// =============================================================================

func TestCircuitState_String(t *testing.T) {
	if Closed.String() != "closed" || Open.String() != "open" {
		t.Errorf("unexpected state names %q %q", Closed, Open)
	}
	if CircuitState(9).String() != "unknown" {
		t.Error("unknown state should print unknown")
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(3)

	if cb.RecordFailure() || cb.RecordFailure() {
		t.Fatal("breaker opened too early")
	}
	if !cb.RecordFailure() {
		t.Fatal("breaker should open on third failure")
	}
	if !cb.RecordFailure() {
		t.Error("an open breaker stays open")
	}

	stats := cb.Stats()
	if stats.State != Open {
		t.Errorf("Stats().State = %v, want open", stats.State)
	}
	if stats.Failures != 4 || stats.Threshold != 3 {
		t.Errorf("Stats() = %+v, want 4 failures of threshold 3", stats)
	}
	if stats.LastFailureTime.IsZero() {
		t.Error("LastFailureTime should be set")
	}
}

func TestCircuitBreaker_SuccessResetsRun(t *testing.T) {
	cb := NewCircuitBreaker(2)
	cb.RecordFailure()
	cb.RecordSuccess()
	if cb.RecordFailure() {
		t.Error("a success should reset the failure run")
	}
	if got := cb.Stats().Failures; got != 1 {
		t.Errorf("Failures = %d, want 1", got)
	}
}

func TestCircuitBreaker_ZeroThresholdNeverTrips(t *testing.T) {
	cb := NewCircuitBreaker(0)
	for i := 0; i < 100; i++ {
		if cb.RecordFailure() {
			t.Fatal("zero threshold should never trip")
		}
	}
}

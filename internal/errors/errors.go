// Package errors provides the error taxonomy for probe sessions.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Network represents connection-level transport failures (DNS, refused, reset).
	Network
	// Timeout represents a probe that exceeded its deadline.
	Timeout
	// RobotsDenied marks a path disallowed by robots.txt.
	RobotsDenied
	// LedgerConflict is an attempted conflicting terminal write or a write to an unreserved key.
	LedgerConflict
	// StorageUnavailable means the ledger could not be read or written.
	StorageUnavailable
	// InvalidTarget is a base URL that cannot be probed.
	InvalidTarget
	// Parse represents a document or body that could not be decoded.
	Parse
	// Cancelled represents a stop request observed while waiting.
	Cancelled
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case RobotsDenied:
		return "robots_denied"
	case LedgerConflict:
		return "ledger_conflict"
	case StorageUnavailable:
		return "storage_unavailable"
	case InvalidTarget:
		return "invalid_target"
	case Parse:
		return "parse"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTransport reports whether the type is a TransportError: recorded as
// failed and left for the next resume.
func (t ErrorType) IsTransport() bool {
	return t == Network || t == Timeout
}

// IsFatal reports whether the type aborts the whole session.
func (t ErrorType) IsFatal() bool {
	switch t {
	case LedgerConflict, StorageUnavailable, InvalidTarget:
		return true
	default:
		return false
	}
}

// ProbeError represents a categorized error.
type ProbeError struct {
	Type       ErrorType
	URL        string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	target := ""
	if e.URL != "" {
		target = " on " + e.URL
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s%s: %s (caused by: %v)",
			e.Type.String(), e.Operation, target, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s%s: %s",
		e.Type.String(), e.Operation, target, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// Is matches any ProbeError of the same type.
func (e *ProbeError) Is(target error) bool {
	t, ok := target.(*ProbeError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Sentinels for errors.Is checks.
var (
	ErrLedgerConflict     = &ProbeError{Type: LedgerConflict}
	ErrStorageUnavailable = &ProbeError{Type: StorageUnavailable}
	ErrInvalidTarget      = &ProbeError{Type: InvalidTarget}
	ErrRobotsDenied       = &ProbeError{Type: RobotsDenied}
)

// New creates a new ProbeError.
func New(errType ErrorType, url, operation, message string, cause error) *ProbeError {
	return &ProbeError{
		Type:      errType,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(url, operation string, cause error) *ProbeError {
	return New(Network, url, operation, "network failure", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *ProbeError {
	return New(Timeout, url, operation, "probe timed out", cause)
}

// NewRobotsDeniedError creates a robots.txt denial for a path.
func NewRobotsDeniedError(path string) *ProbeError {
	return New(RobotsDenied, path, "robots_check", "disallowed by robots.txt", nil)
}

// NewLedgerConflictError creates an invariant violation for a ledger key.
func NewLedgerConflictError(key, message string) *ProbeError {
	return New(LedgerConflict, key, "record", message, nil)
}

// NewStorageError wraps a ledger I/O failure.
func NewStorageError(operation string, cause error) *ProbeError {
	return New(StorageUnavailable, "", operation, "ledger unavailable", cause)
}

// NewInvalidTargetError creates an invalid target error.
func NewInvalidTargetError(url, reason string) *ProbeError {
	return New(InvalidTarget, url, "validate_target", reason, nil)
}

// NewParseError creates a parse error.
func NewParseError(url, operation string, cause error) *ProbeError {
	return New(Parse, url, operation, "parsing failed", cause)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string) *ProbeError {
	return New(Cancelled, url, operation, "operation cancelled", nil)
}

// Categorize determines the error type of a transport error.
func Categorize(err error, url string) *ProbeError {
	if err == nil {
		return nil
	}

	var probeErr *ProbeError
	if errors.As(err, &probeErr) {
		return probeErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "request")
	}

	if isTimeout(err) {
		return NewTimeoutError(url, "request", err)
	}

	if isNetworkError(err) {
		return NewNetworkError(url, "request", err)
	}

	// Anything else the HTTP client returns is still a failed probe.
	return New(Network, url, "request", err.Error(), err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp")
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var probeErr *ProbeError
	if errors.As(err, &probeErr) {
		return probeErr.Type
	}
	return Unknown
}

// IsFatal reports whether err must abort the session.
func IsFatal(err error) bool {
	return GetErrorType(err).IsFatal()
}

// IsTransport reports whether err is a network or timeout failure.
func IsTransport(err error) bool {
	return GetErrorType(err).IsTransport()
}

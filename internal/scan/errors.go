package scan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrConfiguration is matched by every ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError is fatal and prevents the fleet from starting.
type ConfigurationError struct {
	Msg string
	Err error
}

// NewConfigurationError builds a ConfigurationError with a formatted message.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Msg, e.Err)
	}
	return "configuration error: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// TransientReason classifies a recoverable scan failure.
type TransientReason string

// Recoverable failure reasons.
const (
	ReasonRateLimited   TransientReason = "rate_limited"
	ReasonNetwork       TransientReason = "network"
	ReasonAuthChallenge TransientReason = "auth_challenge"
)

// TransientScanError is recoverable and triggers backoff.
type TransientScanError struct {
	Reason TransientReason
	Err    error
}

// NewTransientScanError wraps err as a recoverable failure.
func NewTransientScanError(reason TransientReason, err error) *TransientScanError {
	return &TransientScanError{Reason: reason, Err: err}
}

func (e *TransientScanError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transient scan error (%s)", e.Reason)
	}
	return fmt.Sprintf("transient scan error (%s): %v", e.Reason, e.Err)
}

func (e *TransientScanError) Unwrap() error { return e.Err }

// FatalReason classifies a permanent credential failure.
type FatalReason string

// Permanent failure reasons.
const (
	ReasonInvalidCredentials FatalReason = "invalid_credentials"
	ReasonBanned             FatalReason = "banned"
)

// FatalScanError means the credential is permanently unusable.
type FatalScanError struct {
	Reason FatalReason
	Err    error
}

// NewFatalScanError wraps err as a permanent credential failure.
func NewFatalScanError(reason FatalReason, err error) *FatalScanError {
	return &FatalScanError{Reason: reason, Err: err}
}

func (e *FatalScanError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fatal scan error (%s)", e.Reason)
	}
	return fmt.Sprintf("fatal scan error (%s): %v", e.Reason, e.Err)
}

func (e *FatalScanError) Unwrap() error { return e.Err }

// IngestionError means the sink rejected a write. It never stops a worker.
type IngestionError struct {
	ScanID string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest scan %s: %v", e.ScanID, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// ErrorClass is the worker-facing classification of a scan error.
type ErrorClass int

// Error classes returned by Classify.
const (
	ClassNone ErrorClass = iota
	ClassTransient
	ClassFatal
	ClassCanceled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	case ClassCanceled:
		return "canceled"
	default:
		return "none"
	}
}

// Classify maps an error returned by a Scanner onto an ErrorClass. Untyped
// errors are treated as transient so they stay bounded by the failure ceiling.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var fatal *FatalScanError
	if errors.As(err, &fatal) {
		return ClassFatal
	}
	var transient *TransientScanError
	if errors.As(err, &transient) {
		return ClassTransient
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	return ClassTransient
}

// IsNetworkError reports whether err looks like a network fault.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

package job

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for callers of the orchestration layer.
type ErrorKind string

const (
	// KindValidation means the caller's request was malformed. Never retried.
	KindValidation ErrorKind = "validation_error"
	// KindProviderRejected means the provider refused the request synchronously.
	KindProviderRejected ErrorKind = "provider_rejected"
	// KindTransport means a network-level failure persisted after bounded retries.
	KindTransport ErrorKind = "transport_error"
	// KindPollingExhausted means too many consecutive polls failed transiently.
	KindPollingExhausted ErrorKind = "polling_exhausted"
	// KindTimedOut means the job exceeded its wall-clock budget.
	KindTimedOut ErrorKind = "timed_out"
	// KindUnresolvableOutput means the job succeeded but no usable artifact could be extracted.
	KindUnresolvableOutput ErrorKind = "unresolvable_output"
	// KindProviderFailed means the provider reported the job as failed.
	KindProviderFailed ErrorKind = "provider_failed"
)

// Sentinel errors for each kind. errors.Is matches any *Error of the same kind.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrProviderRejected   = &Error{Kind: KindProviderRejected}
	ErrTransport          = &Error{Kind: KindTransport}
	ErrPollingExhausted   = &Error{Kind: KindPollingExhausted}
	ErrTimedOut           = &Error{Kind: KindTimedOut}
	ErrUnresolvableOutput = &Error{Kind: KindUnresolvableOutput}
	ErrProviderFailed     = &Error{Kind: KindProviderFailed}
)

// Error is a classified orchestration failure with a human-readable detail.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// Errorf creates an Error of the given kind with a formatted detail.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err. Unclassified errors count as transport failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// DetailOf returns a human-readable explanation for err.
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		switch {
		case e.Detail != "" && e.Err != nil:
			return e.Detail + ": " + e.Err.Error()
		case e.Detail != "":
			return e.Detail
		case e.Err != nil:
			return e.Err.Error()
		}
		return string(e.Kind)
	}
	return err.Error()
}

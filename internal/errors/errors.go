// Package errors defines the shared error taxonomy used across every
// subsystem of the core: async primitives, the MCP client, the safety
// pipeline, the tool registry, and the agent framework all report failures
// through the same Kind/Error pair instead of ad hoc sentinel values.
package errors

import (
	"errors"
	"fmt"
)

// Kind is a coarse, stable classification a caller can switch on for
// routing (retry, surface to user, abort) without parsing messages.
type Kind string

const (
	// Input
	KindInvalidParams        Kind = "INVALID_PARAMS"
	KindInvalidOperation     Kind = "INVALID_OPERATION"
	KindUnsupportedOperation Kind = "UNSUPPORTED_OPERATION"
	KindIdentifierTooLong    Kind = "IDENTIFIER_TOO_LONG"

	// Auth/Access
	KindAuthFailed       Kind = "AUTH_FAILED"
	KindCapabilityDenied Kind = "CAPABILITY_DENIED"
	KindRateLimited      Kind = "RATE_LIMITED"

	// Connectivity
	KindConnectionFailed    Kind = "CONNECTION_FAILED"
	KindPoolExhaustedTimout Kind = "POOL_EXHAUSTED_TIMEOUT"
	KindCancelled           Kind = "CANCELLED"
	KindTimeout             Kind = "TIMEOUT"

	// Execution
	KindQueryFailed       Kind = "QUERY_FAILED"
	KindDDLFailed         Kind = "DDL_FAILED"
	KindTransactionFailed Kind = "TRANSACTION_FAILED"

	// Safety
	KindSafetyDenied      Kind = "SAFETY_DENIED"
	KindApprovalRequired  Kind = "APPROVAL_REQUIRED"
	KindApprovalRejected  Kind = "APPROVAL_REJECTED"

	// Integrity
	KindAuditChainMismatch Kind = "AUDIT_CHAIN_MISMATCH"
	KindDecryptFailure     Kind = "DECRYPT_FAILURE"

	// Resource
	KindOutOfMemory      Kind = "OUT_OF_MEMORY"
	KindCacheUnavailable Kind = "CACHE_UNAVAILABLE"

	// Internal
	KindInvariantViolated Kind = "INVARIANT_VIOLATED"

	// Misc lookup/registry kinds used by the tool registry and pool manager.
	KindNotFound         Kind = "NOT_FOUND"
	KindAlreadyExists    Kind = "ALREADY_EXISTS"
	KindInvalidReturn    Kind = "INVALID_RETURN"
	KindQueueFull        Kind = "QUEUE_FULL"
	KindAttemptsExhausted Kind = "ATTEMPTS_EXHAUSTED"
	KindIO               Kind = "IO_FAILURE"
)

// Error is the structured wrapper threaded through every subsystem. The
// user-facing Message is kept separate from the underlying Cause so logs
// can carry detail that a UI never shows verbatim.
type Error struct {
	Kind      Kind
	Component string
	Operation string
	Resource  string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Component != "" || e.Operation != "" {
		return fmt.Sprintf("%s: %s[%s/%s]: %s", e.Kind, e.Resource, e.Component, e.Operation, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, New(KindX, ...)) match on Kind alone, so callers
// can build sentinel-shaped comparisons without exposing *Error fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error with the given kind and a formatted message.
func New(kind Kind, component, operation string, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Message:   fmt.Sprintf(format, args...),
	}
}

// Wrap attaches kind/component/operation context to an existing error
// without discarding it; errors.Unwrap continues to reach cause.
func Wrap(kind Kind, component, operation string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// WithResource returns a copy of e annotated with the resource name; used
// at call sites that know the target connection/tool/task but not the
// originating component.
func (e *Error) WithResource(resource string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Resource = resource
	return &cp
}

// WithRetryable returns a copy of e with Retryable set.
func (e *Error) WithRetryable(retryable bool) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Retryable = retryable
	return &cp
}

// KindOf extracts the Kind from err, walking Unwrap chains; returns
// ("", false) if err carries no *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsRetryable reports whether err (or any error it wraps) is marked
// retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

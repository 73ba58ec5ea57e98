// Package errors implements the error taxonomy the indexer core propagates
// between adapter, processor, rate limiter, and queue.
package errors

import "fmt"

// Kind is one of the six error categories the core distinguishes.
type Kind string

const (
	// ConfigError is a bad endpoint or chain type configuration; fatal at
	// job start, never retried.
	ConfigError Kind = "config_error"
	// RpcTransient covers timeouts, missing receipts, and 5xx-equivalent
	// RPC failures. Retried within the adapter, then surfaced to the queue.
	RpcTransient Kind = "rpc_transient"
	// RpcPermanent covers unsupported methods and 4xx-equivalent RPC
	// failures. Moves the contract to error status.
	RpcPermanent Kind = "rpc_permanent"
	// RateLimitStalled is a rate-limiter acquisition that exceeded its
	// hard per-call timeout. Treated identically to RpcTransient.
	RateLimitStalled Kind = "rate_limit_stalled"
	// DataIntegrity is a constraint violation during upsert. Aborts the
	// batch; no partial commit is possible.
	DataIntegrity Kind = "data_integrity"
	// Cancelled means shutdown was in progress; the caller should persist
	// its cursor and return success, not failure.
	Cancelled Kind = "cancelled"
)

// Error is a categorized error carrying the kind, a message, and an
// optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NewConfigError(message string) *Error {
	return New(ConfigError, message)
}

func NewRpcTransient(message string, cause error) *Error {
	return Wrap(RpcTransient, message, cause)
}

func NewRpcPermanent(message string, cause error) *Error {
	return Wrap(RpcPermanent, message, cause)
}

func NewRateLimitStalled(endpointID string) *Error {
	return New(RateLimitStalled, fmt.Sprintf("rate limit acquisition stalled for endpoint %s", endpointID))
}

func NewDataIntegrity(message string, cause error) *Error {
	return Wrap(DataIntegrity, message, cause)
}

func NewCancelled() *Error {
	return New(Cancelled, "shutdown in progress")
}

// KindOf extracts the Kind of err, defaulting to RpcTransient for
// unrecognized errors (the conservative choice: an error we don't
// understand is safer treated as retryable than as fatal).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return RpcTransient
}

// as is a tiny errors.As shim kept local to avoid importing the stdlib
// package under the same name as this one inside this file.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsRetryable reports whether the queue should retry the job that produced
// err, per §7's propagation policy: transient and rate-limit-stalled
// errors retry, permanent and data-integrity errors do not, and a
// cancellation is not a failure at all.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case RpcTransient, RateLimitStalled:
		return true
	default:
		return false
	}
}

// IsCancelled reports whether err represents a clean shutdown rather than a
// failure.
func IsCancelled(err error) bool {
	return KindOf(err) == Cancelled
}

// Package errors defines the typed, non-fatal failure kinds the detection
// engine reports across its public contracts.
//
// DESIGN: the engine never lets a detector panic, a sink overflow, or a
// backpressured queue escape as an error the caller has to handle. Every
// failure in the request path becomes one of these sentinel kinds, logged
// at an appropriate level and counted, while the verdict degrades
// gracefully. PolicyConfigError is the one exception: it is startup-fatal
// and is meant to be returned from initialization, never from a request.
package errors

import "fmt"

// Kind identifies one of the engine's known failure categories.
type Kind string

const (
	KindDetectorError           Kind = "detector_error"
	KindSinkOverflow            Kind = "sink_overflow"
	KindCoordinatorBackpressure Kind = "coordinator_backpressure"
	KindPolicyConfigError       Kind = "policy_config_error"
	KindCancellationRequested   Kind = "cancellation_requested"
	KindReputationStateViolation Kind = "reputation_state_violation"
)

// Fatal reports whether this kind refuses startup rather than degrading
// a single request.
func (k Kind) Fatal() bool { return k == KindPolicyConfigError }

// Error is the engine's structured error type. Callers that only care
// about the kind can use errors.As to recover it.
type Error struct {
	Kind    Kind
	Detail  string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New constructs a non-wrapping Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Wrapped: cause}
}

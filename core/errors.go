package core

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Wrap them with %w so callers can classify with errors.Is.
var (
	// ErrGeneration marks a failed or exhausted call to the generation service.
	ErrGeneration = errors.New("generation failed")
	// ErrPersistence marks a session store read or write rejection.
	ErrPersistence = errors.New("persistence failed")
	// ErrConfiguration marks inconsistent registration or settings.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrTimeout marks a turn that exceeded its deadline.
	ErrTimeout = errors.New("turn timed out")
	// ErrCancelled marks a turn stopped by its caller.
	ErrCancelled = errors.New("turn cancelled")
	// ErrInvalidRequest marks a malformed turn request.
	ErrInvalidRequest = errors.New("invalid request")
)

// TurnError is the error surfaced at the invocation boundary. Err holds the
// full internal detail for logs; PublicMessage is safe to show to users.
type TurnError struct {
	Kind error  // one of the Err* kinds above
	Op   string // where it happened, e.g. "session.append"
	Err  error
}

// NewTurnError classifies err under kind.
func NewTurnError(kind error, op string, err error) *TurnError {
	return &TurnError{Kind: kind, Op: op, Err: err}
}

func (e *TurnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *TurnError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PublicMessage returns a user-safe description without internal detail.
func (e *TurnError) PublicMessage() string {
	switch e.Kind {
	case ErrPersistence:
		return "Your message could not be saved, so this turn did not complete. Please try again."
	case ErrTimeout:
		return "The assistant took too long to respond. Please try again."
	case ErrCancelled:
		return "The request was cancelled."
	case ErrInvalidRequest:
		return "The request was invalid."
	default:
		return "The assistant is temporarily unable to answer. Please try again later."
	}
}

// Sanitize maps any error to a user-safe message.
func Sanitize(err error) string {
	return Classify("turn", err).PublicMessage()
}

// Classify wraps err into a *TurnError, keeping an existing classification
// and mapping context errors to ErrTimeout / ErrCancelled.
func Classify(op string, err error) *TurnError {
	var te *TurnError
	if errors.As(err, &te) {
		return te
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewTurnError(ErrTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return NewTurnError(ErrCancelled, op, err)
	case errors.Is(err, ErrPersistence):
		return NewTurnError(ErrPersistence, op, err)
	case errors.Is(err, ErrConfiguration):
		return NewTurnError(ErrConfiguration, op, err)
	case errors.Is(err, ErrInvalidRequest):
		return NewTurnError(ErrInvalidRequest, op, err)
	default:
		return NewTurnError(ErrGeneration, op, err)
	}
}

var codes = map[error]string{
	ErrGeneration:     "generation",
	ErrPersistence:    "persistence",
	ErrConfiguration:  "configuration",
	ErrTimeout:        "timeout",
	ErrCancelled:      "cancelled",
	ErrInvalidRequest: "invalid_request",
}

// Code is the stable wire name of the error kind.
func (e *TurnError) Code() string {
	if c, ok := codes[e.Kind]; ok {
		return c
	}
	return "internal"
}

// KindFromCode maps a wire code back to its kind; unknown codes map to
// ErrGeneration.
func KindFromCode(code string) error {
	for kind, c := range codes {
		if c == code {
			return kind
		}
	}
	return ErrGeneration
}

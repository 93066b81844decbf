// Package capability implements the leaf units of work a Worker may invoke:
// named, schema-validated functions that return text and may fail with a
// typed *Error. Capabilities know nothing about sessions or conversation
// history and must be safe for concurrent use.
package capability

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hupe1980/concierge/internal/util"
	"github.com/hupe1980/concierge/model"
)

// Capability is a single-purpose external action.
type Capability interface {
	// Name is the unique identifier exposed to the model (snake_case).
	Name() string

	// ServiceName is the human-readable name used in failure apologies,
	// e.g. "weather service".
	ServiceName() string

	// Description tells the model when to use the capability.
	Description() string

	// Parameters is the JSON schema of the accepted arguments.
	Parameters() map[string]any

	// Invoke runs the capability with decoded, schema-checked arguments.
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// ValidationError reports an argument that does not satisfy the schema.
type ValidationError = util.ValidationError

// Error codes carried by *Error.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeExecution   = "EXECUTION_ERROR"
	CodeUnavailable = "UNAVAILABLE"
	CodeNotFound    = "NOT_FOUND"
)

// Error is the typed failure of a capability invocation.
type Error struct {
	Capability string `json:"capability"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	// Retryable marks transient failures that WithRetry may repeat.
	Retryable bool  `json:"retryable"`
	Err       error `json:"-"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("capability error [%s] in %s: %s", e.Code, e.Capability, e.Message)
	}
	return fmt.Sprintf("capability error in %s: %s", e.Capability, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a non-retryable *Error.
func NewError(capability, message, code string) *Error {
	return &Error{Capability: capability, Message: message, Code: code}
}

// Unavailable creates a retryable *Error for transient upstream failures.
func Unavailable(capability string, err error) *Error {
	return &Error{Capability: capability, Message: err.Error(), Code: CodeUnavailable, Retryable: true, Err: err}
}

// IsRetryable reports whether err is worth another attempt: a retryable
// *Error or a network timeout. Context errors never are.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Definition returns the model-facing declaration of c.
func Definition(c Capability) model.ToolDefinition {
	return model.NewFunctionTool(c.Name(), c.Description(), c.Parameters())
}

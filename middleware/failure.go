package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/concierge/capability"
)

// ApologyFunc phrases a capability failure for the model.
type ApologyFunc func(serviceName string, err error) string

// FailureTranslation absorbs capability errors: the model receives a short
// apology naming the service instead of the raw error. It wraps capability
// invocations only.
type FailureTranslation struct {
	apology ApologyFunc
}

// NewFailureTranslation creates the translation step. An optional ApologyFunc
// replaces DefaultApology.
func NewFailureTranslation(apology ...ApologyFunc) *FailureTranslation {
	f := &FailureTranslation{apology: DefaultApology}
	if len(apology) > 0 && apology[0] != nil {
		f.apology = apology[0]
	}
	return f
}

// Name implements Step.
func (f *FailureTranslation) Name() string { return "failure_translation" }

// AroundCapability implements CapabilityStep.
func (f *FailureTranslation) AroundCapability(ctx context.Context, call *CapabilityCall, next CapabilityHandler) (CapabilityResult, error) {
	res, err := next(ctx, call)
	if err == nil {
		return res, nil
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return res, err
	}

	if call.Logger != nil {
		call.Logger.Warn("capability.call.translated",
			"agent", call.Agent,
			"capability", call.Capability.Name(),
			"error", err.Error(),
		)
	}
	return CapabilityResult{Output: f.apology(call.Capability.ServiceName(), err), Failed: true}, nil
}

// DefaultApology picks a sentence by error code. It never includes err's text.
func DefaultApology(serviceName string, err error) string {
	var ce *capability.Error
	if errors.As(err, &ce) {
		switch ce.Code {
		case capability.CodeValidation:
			return fmt.Sprintf("Sorry, the %s could not understand that request.", serviceName)
		case capability.CodeNotFound:
			return fmt.Sprintf("Sorry, the %s has no information for that request.", serviceName)
		}
	}
	return fmt.Sprintf("Sorry, the %s is unavailable right now.", serviceName)
}

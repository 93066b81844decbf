package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/hupe1980/concierge/capability"
	"github.com/hupe1980/concierge/logging"
	"github.com/hupe1980/concierge/model"
)

// ModelCall is one request to the generation service.
type ModelCall struct {
	Agent   string
	Model   string
	Request *model.Request
	// OnPartial receives streamed text chunks; may be nil.
	OnPartial func(string)
	Logger    logging.Logger
}

// CapabilityCall is one capability invocation requested by a model.
type CapabilityCall struct {
	Agent      string
	CallID     string
	Capability capability.Capability
	Args       map[string]any
	Logger     logging.Logger
}

// CapabilityResult is what the model gets to see of an invocation.
type CapabilityResult struct {
	Output string
	Failed bool
}

// ModelHandler performs (the rest of) a model call.
type ModelHandler func(ctx context.Context, call *ModelCall) (*model.Response, error)

// CapabilityHandler performs (the rest of) a capability invocation.
type CapabilityHandler func(ctx context.Context, call *CapabilityCall) (CapabilityResult, error)

// Step is a named pipeline element. It implements ModelStep,
// CapabilityStep or both.
type Step interface {
	Name() string
}

// ModelStep wraps model calls.
type ModelStep interface {
	Step
	AroundModel(ctx context.Context, call *ModelCall, next ModelHandler) (*model.Response, error)
}

// CapabilityStep wraps capability invocations.
type CapabilityStep interface {
	Step
	AroundCapability(ctx context.Context, call *CapabilityCall, next CapabilityHandler) (CapabilityResult, error)
}

// StepError reports a step that panicked.
type StepError struct {
	Step  string
	Value any
	Stack []byte
}

func (e *StepError) Error() string {
	return fmt.Sprintf("middleware step %q panicked: %v", e.Step, e.Value)
}

// Pipeline is an immutable ordered list of steps.
type Pipeline struct {
	steps []Step
}

// New creates a pipeline; steps[0] is the outermost.
func New(steps ...Step) *Pipeline {
	return &Pipeline{steps: append([]Step(nil), steps...)}
}

// Default returns the full supervisor pipeline.
func Default(logger logging.Logger, optFns ...func(o *GroundingOptions)) *Pipeline {
	return New(NewLogging(logger), NewFailureTranslation(), NewGrounding(logger, optFns...))
}

// ForWorker returns the worker pipeline: logging and failure translation.
func ForWorker(logger logging.Logger) *Pipeline {
	return New(NewLogging(logger), NewFailureTranslation())
}

// Steps returns the step names, outermost first.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Model wraps the innermost model handler with every ModelStep.
func (p *Pipeline) Model(inner ModelHandler) ModelHandler {
	h := inner
	for i := len(p.steps) - 1; i >= 0; i-- {
		step, ok := p.steps[i].(ModelStep)
		if !ok {
			continue
		}
		next := h
		h = func(ctx context.Context, call *ModelCall) (resp *model.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = nil, &StepError{Step: step.Name(), Value: r, Stack: debug.Stack()}
				}
			}()
			return step.AroundModel(ctx, call, next)
		}
	}
	return h
}

// Capability wraps the innermost capability handler with every
// CapabilityStep.
func (p *Pipeline) Capability(inner CapabilityHandler) CapabilityHandler {
	h := inner
	for i := len(p.steps) - 1; i >= 0; i-- {
		step, ok := p.steps[i].(CapabilityStep)
		if !ok {
			continue
		}
		next := h
		h = func(ctx context.Context, call *CapabilityCall) (res CapabilityResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					res, err = CapabilityResult{}, &StepError{Step: step.Name(), Value: r, Stack: debug.Stack()}
				}
			}()
			return step.AroundCapability(ctx, call, next)
		}
	}
	return h
}

// Invoke is the innermost capability handler: it runs the capability itself.
func Invoke(ctx context.Context, call *CapabilityCall) (CapabilityResult, error) {
	out, err := call.Capability.Invoke(ctx, call.Args)
	if err != nil {
		return CapabilityResult{}, err
	}
	return CapabilityResult{Output: out}, nil
}

func loggerOf(l logging.Logger) logging.Logger {
	if l == nil {
		return logging.NoOpLogger{}
	}
	return l
}

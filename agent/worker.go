package agent

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/hupe1980/concierge/capability"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/logging"
	"github.com/hupe1980/concierge/middleware"
	"github.com/hupe1980/concierge/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Instruction Instruction
	// Description is what the supervisor model reads about this worker.
	// Defaults to the capability description.
	Description string
	// Pipeline defaults to middleware.ForWorker.
	Pipeline *middleware.Pipeline
	// MaxModelCalls bounds a standalone Resolve. Delegated resolves share
	// the turn's limiter instead.
	MaxModelCalls int
	// RetryAttempts bounds capability attempts (1 disables retry).
	RetryAttempts uint
	Logger        logging.Logger
}

// Answer is the outcome of Worker.Resolve.
type Answer struct {
	Text             string
	CapabilityCalled bool
	CapabilityFailed bool
}

// Worker is a single-capability specialist. It has no session access and
// keeps nothing between Resolve calls, so one Worker serves concurrent
// delegations.
type Worker struct {
	name       string
	llm        model.Model
	capability capability.Capability
	opts       WorkerOptions

	callModel middleware.ModelHandler
	invoke    middleware.CapabilityHandler
}

// NewWorker creates a worker owning c. Capability errors marked retryable
// are retried with backoff before the pipeline sees them.
func NewWorker(name string, llm model.Model, c capability.Capability, optFns ...func(o *WorkerOptions)) (*Worker, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: worker name is required", core.ErrConfiguration)
	}
	if llm == nil {
		return nil, fmt.Errorf("%w: worker %s has no model", core.ErrConfiguration, name)
	}
	if c == nil || c.Name() == "" || c.ServiceName() == "" {
		return nil, fmt.Errorf("%w: worker %s needs a named capability with a service name", core.ErrConfiguration, name)
	}

	opts := WorkerOptions{
		Instruction:   NewInstructionFromText(defaultWorkerInstruction),
		Description:   c.Description(),
		MaxModelCalls: 4,
		RetryAttempts: 3,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Pipeline == nil {
		opts.Pipeline = middleware.ForWorker(opts.Logger)
	}
	if opts.RetryAttempts > 1 {
		c = capability.WithRetry(c, func(o *capability.RetryOptions) {
			o.MaxAttempts = opts.RetryAttempts
			o.Logger = opts.Logger
		})
	}

	w := &Worker{name: name, llm: llm, capability: c, opts: opts}
	w.callModel = opts.Pipeline.Model(w.generate)
	w.invoke = opts.Pipeline.Capability(middleware.Invoke)
	return w, nil
}

// Name returns the worker identity, e.g. "weather".
func (w *Worker) Name() string { return w.name }

// Tool is the capability name under which the supervisor sees this worker.
func (w *Worker) Tool() string { return ToolName(w.name) }

// ToolName is the capability name under which the supervisor sees a worker.
func ToolName(worker string) string { return "ask-" + worker + "-specialist" }

// ServiceName is the human-readable name of the wrapped capability.
func (w *Worker) ServiceName() string { return w.capability.ServiceName() }

// Description tells the supervisor model when to delegate here.
func (w *Worker) Description() string { return w.opts.Description }

// Definition is the supervisor-facing tool declaration.
func (w *Worker) Definition() model.ToolDefinition {
	return model.NewFunctionTool(w.Tool(), w.Description(), map[string]any{
		"type": "object",
		"properties": map[string]any{
			"request": map[string]any{
				"type":        "string",
				"description": "Self-contained question for the " + w.name + " specialist.",
			},
		},
		"required": []string{"request"},
	})
}

// Resolve answers one natural-language request.
func (w *Worker) Resolve(ctx context.Context, request string) (Answer, error) {
	return w.resolve(ctx, request, core.NewModelLimiter(w.opts.MaxModelCalls), w.opts.Logger)
}

// resolve makes at most one capability call: once the capability has run it
// is withdrawn from the next request. Calls to names the worker does not own
// are answered as unknown; a second round of only unknown names also
// withdraws the capability so a confused model cannot loop.
func (w *Worker) resolve(ctx context.Context, request string, limiter *core.ModelLimiter, logger logging.Logger) (Answer, error) {
	logger = logging.With(logger, "worker", w.name)
	instructions, err := w.opts.Instruction.Resolve(ctx, map[string]any{
		"worker":     w.name,
		"service":    w.capability.ServiceName(),
		"capability": w.capability.Name(),
	})
	if err != nil {
		return Answer{}, fmt.Errorf("%w: worker %s instruction: %w", core.ErrConfiguration, w.name, err)
	}

	var (
		ans        Answer
		lastOutput string
		withdrawn  bool
		misses     int
	)
	contents := []core.Content{core.NewTextContent("user", request)}
	for {
		req := &model.Request{Instructions: instructions, Contents: contents}
		if !withdrawn {
			req.Tools = []model.ToolDefinition{capability.Definition(w.capability)}
		}
		if err := limiter.Increment(); err != nil {
			return Answer{}, err
		}
		resp, err := w.callModel(ctx, &middleware.ModelCall{
			Agent:   w.name,
			Model:   w.llm.Info().Name,
			Request: req,
			Logger:  logger,
		})
		if err != nil {
			return Answer{}, err
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 || withdrawn {
			text := strings.TrimSpace(resp.Text())
			if text == "" {
				text = lastOutput
			}
			if text == "" {
				return Answer{}, fmt.Errorf("%w: worker %s produced an empty answer", core.ErrGeneration, w.name)
			}
			ans.Text = text
			return ans, nil
		}

		parts := make([]core.Part, 0, len(calls))
		for _, fc := range calls {
			fr := core.FunctionResponse{ID: fc.ID, Name: fc.Name}
			switch {
			case fc.Name != w.capability.Name():
				logger.Warn("capability.unknown", "capability", fc.Name)
				fr.Response = "Unknown capability " + fc.Name + "; only " + w.capability.Name() + " is available."
				fr.Failed = true
				parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
				continue
			case ans.CapabilityCalled:
				fr.Response = "Not executed: one call to " + w.capability.Name() + " per request."
				fr.Failed = true
				parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
				continue
			}
			res, err := w.call(ctx, fc, logger)
			if err != nil {
				return Answer{}, err
			}
			ans.CapabilityCalled = true
			ans.CapabilityFailed = res.Failed
			lastOutput = res.Output
			fr.Response, fr.Failed = res.Output, res.Failed
			parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
		}
		if !ans.CapabilityCalled {
			misses++
		}
		withdrawn = ans.CapabilityCalled || misses > 1
		contents = append(contents, resp.Content, core.Content{Role: "tool", Parts: parts})
	}
}

func (w *Worker) call(ctx context.Context, fc core.FunctionCall, logger logging.Logger) (middleware.CapabilityResult, error) {
	args, err := decodeArgs(fc.Arguments)
	if err != nil {
		logger.Warn("capability.args.invalid", "capability", fc.Name, "error", err.Error())
		args = map[string]any{}
	}
	return w.invoke(ctx, &middleware.CapabilityCall{
		Agent:      w.name,
		CallID:     fc.ID,
		Capability: w.capability,
		Args:       args,
		Logger:     logger,
	})
}

// generate is the innermost model handler.
func (w *Worker) generate(ctx context.Context, call *middleware.ModelCall) (*model.Response, error) {
	return generate(ctx, w.llm, call)
}

func generate(ctx context.Context, llm model.Model, call *middleware.ModelCall) (*model.Response, error) {
	respCh, errCh := llm.Generate(ctx, *call.Request)
	resp, err := model.Drain(ctx, respCh, errCh, call.OnPartial)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrGeneration, call.Agent, err)
	}
	return resp, nil
}

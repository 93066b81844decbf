package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/logging"
	"github.com/hupe1980/concierge/middleware"
	"github.com/hupe1980/concierge/model"
)

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Instruction Instruction
	// Pipeline defaults to middleware.Default (logging, failure
	// translation, grounding).
	Pipeline *middleware.Pipeline
	// MaxParallelDelegations bounds concurrent worker calls within a turn.
	MaxParallelDelegations int
	// DelegationTimeout bounds a single worker resolve. Delegations run on a
	// context detached from the turn, so this is also how long an abandoned
	// one may keep running.
	DelegationTimeout time.Duration
	// MaxHistoryMessages is the window of past messages sent to the model.
	MaxHistoryMessages int
	// PersistToolResults stores each delegation as a tool-result message
	// ahead of the assistant message.
	PersistToolResults bool
	// ExcerptLength truncates delegation-finished excerpts (0 keeps all).
	ExcerptLength int
	// Stream requests incremental model output. Chunks of a call are
	// emitted as token events once the call turns out to be the final answer.
	Stream bool
	// OnDelegation observes every recorded DelegationCall.
	OnDelegation func(core.DelegationCall)
	Tracer       trace.Tracer
	Logger       logging.Logger
}

// TurnResult is the outcome of Supervisor.Turn. On failure it still carries
// the delegations that completed and the text produced so far.
type TurnResult struct {
	TurnID           string
	Response         string
	Delegations      []core.DelegationCall
	State            TurnState
	UserOrdinal      int64
	AssistantOrdinal int64
}

// Supervisor routes a user turn to zero or more workers, merges their answers
// and owns the session history. Workers appear to its model as capabilities
// named "ask-<worker>-specialist".
type Supervisor struct {
	llm     model.Model
	store   core.SessionStore
	workers []*Worker
	byTool  map[string]*Worker
	opts    SupervisorOptions

	callModel middleware.ModelHandler
}

// NewSupervisor wires the supervisor. Missing collaborators and duplicate
// worker names are configuration errors.
func NewSupervisor(llm model.Model, store core.SessionStore, workers []*Worker, optFns ...func(o *SupervisorOptions)) (*Supervisor, error) {
	if llm == nil {
		return nil, fmt.Errorf("%w: supervisor has no model", core.ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: supervisor has no session store", core.ErrConfiguration)
	}

	opts := SupervisorOptions{
		Instruction:            NewInstructionFromText(defaultSupervisorInstruction),
		MaxParallelDelegations: 4,
		DelegationTimeout:      60 * time.Second,
		MaxHistoryMessages:     20,
		ExcerptLength:          200,
		Stream:                 true,
		Tracer:                 noop.NewTracerProvider().Tracer(""),
		Logger:                 logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Pipeline == nil {
		opts.Pipeline = middleware.Default(opts.Logger)
	}

	byTool := make(map[string]*Worker, len(workers))
	for _, w := range workers {
		if w == nil {
			return nil, fmt.Errorf("%w: nil worker", core.ErrConfiguration)
		}
		if _, dup := byTool[w.Tool()]; dup {
			return nil, fmt.Errorf("%w: duplicate worker %q", core.ErrConfiguration, w.Name())
		}
		byTool[w.Tool()] = w
	}

	s := &Supervisor{
		llm:     llm,
		store:   store,
		workers: append([]*Worker(nil), workers...),
		byTool:  byTool,
		opts:    opts,
	}
	s.callModel = opts.Pipeline.Model(s.generate)
	return s, nil
}

// Workers returns the registered workers in registration order.
func (s *Supervisor) Workers() []*Worker { return append([]*Worker(nil), s.workers...) }

// Turn runs one user turn:
//
//	received -> delegating (0..n, concurrent) -> synthesizing -> persisted -> done
//
// with failed reachable from every non-terminal state. The user message is
// persisted before generation starts; the assistant message only after the
// final text is complete, and never once tc is cancelled.
func (s *Supervisor) Turn(tc *core.TurnContext) (*TurnResult, error) {
	m := newTurnMachine(tc)
	result := &TurnResult{TurnID: tc.TurnID, Delegations: []core.DelegationCall{}}
	fail := func(err error) (*TurnResult, error) {
		result.State = StateFailed
		return result, m.fail(err)
	}

	history, err := s.store.Load(tc.Context, tc.SessionID)
	if err != nil {
		return fail(core.NewTurnError(core.ErrPersistence, "session.load", err))
	}
	result.UserOrdinal, err = s.store.Append(tc.Context, tc.SessionID, core.NewUserMessage(tc.UserText))
	if err != nil {
		return fail(core.NewTurnError(core.ErrPersistence, "session.append", err))
	}

	instructions, err := s.opts.Instruction.Resolve(tc.Context, s.instructionData(tc))
	if err != nil {
		return fail(core.NewTurnError(core.ErrConfiguration, "supervisor.instruction", err))
	}

	contents := s.window(history)
	contents = append(contents, core.NewTextContent("user", tc.UserText))

	var answer strings.Builder
	for {
		req := &model.Request{Instructions: instructions, Contents: contents, Stream: s.opts.Stream}
		for _, w := range s.workers {
			req.Tools = append(req.Tools, w.Definition())
		}
		if err := tc.Limiter.Increment(); err != nil {
			return fail(core.Classify("supervisor.model", err))
		}
		// Text streamed alongside a delegation ("Let me check that.") is not
		// part of the answer, so chunks are held until the call decides.
		var pending []string
		resp, err := s.callModel(tc.Context, &middleware.ModelCall{
			Agent:   "supervisor",
			Model:   s.llm.Info().Name,
			Request: req,
			OnPartial: func(chunk string) {
				pending = append(pending, chunk)
			},
			Logger: tc.Logger(),
		})
		if err != nil {
			result.Response = answer.String()
			return fail(core.Classify("supervisor.model", err))
		}

		switch d := decide(resp, s.byTool, tc.UserText).(type) {
		case Delegate:
			if len(pending) > 0 {
				tc.LogDebug("supervisor.preamble.dropped", "turn_id", tc.TurnID, "chunks", len(pending))
			}
			if err := m.to(StateDelegating); err != nil {
				return fail(err)
			}
			calls, err := s.runDelegations(tc, d.Requests)
			result.Delegations = append(result.Delegations, calls...)
			if err != nil {
				result.Response = answer.String()
				return fail(core.Classify("supervisor.delegate", err))
			}
			contents = append(contents, resp.Content, delegationContent(d.Requests, calls))
			if err := m.to(StateSynthesizing); err != nil {
				return fail(err)
			}
		case FinalAnswer:
			if err := m.to(StateSynthesizing); err != nil {
				return fail(err)
			}
			if len(pending) == 0 && d.Text != "" {
				pending = []string{d.Text}
			}
			for _, chunk := range pending {
				answer.WriteString(chunk)
				tc.Emit(core.NewTokenEvent(chunk))
			}
			if answer.Len() == 0 && strings.TrimSpace(d.Text) == "" && len(result.Delegations) > 0 {
				fallback := joinDelegations(result.Delegations)
				answer.WriteString(fallback)
				tc.Emit(core.NewTokenEvent(fallback))
			}
			result.Response = answer.String()
			if strings.TrimSpace(result.Response) == "" {
				return fail(core.NewTurnError(core.ErrGeneration, "supervisor.model", fmt.Errorf("empty answer")))
			}
			return s.persist(tc, m, result, fail)
		}
	}
}

// persist appends the turn's outcome. A cancelled or timed-out turn writes
// nothing more.
func (s *Supervisor) persist(tc *core.TurnContext, m *turnMachine, result *TurnResult, fail func(error) (*TurnResult, error)) (*TurnResult, error) {
	if err := tc.Err(); err != nil {
		return fail(core.Classify("supervisor.persist", err))
	}
	if s.opts.PersistToolResults {
		for _, c := range result.Delegations {
			msg := core.NewToolResultMessage(c.Response, map[string]any{
				"call_id": c.ID,
				"worker":  c.Worker,
				"request": c.Request,
				"status":  string(c.Status),
			})
			if _, err := s.store.Append(tc.Context, tc.SessionID, msg); err != nil {
				return fail(core.NewTurnError(core.ErrPersistence, "session.append", err))
			}
		}
	}
	ord, err := s.store.Append(tc.Context, tc.SessionID, core.NewAssistantMessage(result.Response))
	if err != nil {
		return fail(core.NewTurnError(core.ErrPersistence, "session.append", err))
	}
	result.AssistantOrdinal = ord
	if err := m.to(StatePersisted); err != nil {
		return fail(err)
	}
	if err := m.to(StateDone); err != nil {
		return fail(err)
	}
	result.State = StateDone
	return result, nil
}

func (s *Supervisor) generate(ctx context.Context, call *middleware.ModelCall) (*model.Response, error) {
	return generate(ctx, s.llm, call)
}

func (s *Supervisor) window(history []core.Message) []core.Content {
	if n := s.opts.MaxHistoryMessages; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	contents := make([]core.Content, 0, len(history)+1)
	for _, msg := range history {
		contents = append(contents, msg.AsContent())
	}
	return contents
}

func (s *Supervisor) instructionData(tc *core.TurnContext) map[string]any {
	workers := make([]map[string]any, len(s.workers))
	for i, w := range s.workers {
		workers[i] = map[string]any{
			"name":        w.Name(),
			"tool":        w.Tool(),
			"service":     w.ServiceName(),
			"description": w.Description(),
		}
	}
	return map[string]any{
		"workers":    workers,
		"session_id": tc.SessionID,
		"now":        time.Now().UTC().Format(time.RFC1123),
	}
}

// delegationContent feeds worker answers back to the model in call order.
func delegationContent(reqs []DelegationRequest, calls []core.DelegationCall) core.Content {
	parts := make([]core.Part, len(calls))
	for i, c := range calls {
		parts[i] = core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
			ID:       c.ID,
			Name:     reqs[i].Tool,
			Response: c.Response,
			Failed:   c.Status == core.DelegationFailed,
		}}
	}
	return core.Content{Role: "tool", Parts: parts}
}

func joinDelegations(calls []core.DelegationCall) string {
	lines := make([]string, 0, len(calls))
	for _, c := range calls {
		if txt := strings.TrimSpace(c.Response); txt != "" {
			lines = append(lines, txt)
		}
	}
	return strings.Join(lines, "\n")
}

func spanStatus(span trace.Span, call core.DelegationCall) {
	span.SetAttributes(
		attribute.String("delegation.worker", call.Worker),
		attribute.String("delegation.status", string(call.Status)),
	)
	if call.Status == core.DelegationFailed {
		span.SetStatus(codes.Error, "delegation failed")
	}
}

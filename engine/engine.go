package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/concierge/agent"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/logging"
	"github.com/hupe1980/concierge/observability"
)

// Config defines tuning parameters for the Engine's operational behavior.
//
// Example:
//
//	cfg := Config{
//	    MaxConcurrentTurns: 32,
//	    TurnTimeout:        30 * time.Second,
//	    EventBufferSize:    128,
//	}
type Config struct {
	// MaxConcurrentTurns limits how many turns run at once. Further turns
	// wait for a slot until their context ends. 0 means unlimited.
	MaxConcurrentTurns int

	// TurnTimeout bounds a whole turn. An expired turn fails with a
	// timeout turn-error. 0 disables the deadline.
	TurnTimeout time.Duration

	// MaxMessageLength bounds the user message in runes.
	MaxMessageLength int

	// MaxModelCalls bounds generation calls per turn, shared by the
	// supervisor and its workers. 0 means unlimited.
	MaxModelCalls int

	// EventBufferSize sets the capacity of each turn's event channel.
	EventBufferSize int

	// TerminalGrace is how long the closing turn-error/turn-done events
	// wait for a slow or departed consumer, and how long a stopped turn
	// waits for its supervisor to unwind.
	TerminalGrace time.Duration
}

// DefaultConfig provides production-ready default configuration values.
var DefaultConfig = Config{
	MaxConcurrentTurns: 16,
	TurnTimeout:        60 * time.Second,
	MaxMessageLength:   4000,
	MaxModelCalls:      8,
	EventBufferSize:    64,
	TerminalGrace:      5 * time.Second,
}

// Turner runs one turn. *agent.Supervisor is the production implementation.
type Turner interface {
	Turn(tc *core.TurnContext) (*agent.TurnResult, error)
}

var _ Turner = (*agent.Supervisor)(nil)

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// Config defaults to DefaultConfig.
	Config Config

	// Callbacks run around every turn. Optional.
	Callbacks *CallbackManager

	// Metrics receives turn measurements. Defaults to NoopMetrics.
	Metrics observability.Metrics

	// Tracer opens one span per turn. Defaults to a noop tracer.
	Tracer trace.Tracer

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// FinalResponse is the blocking outcome of a turn.
type FinalResponse struct {
	TurnID      string                   `json:"turn_id"`
	Response    string                   `json:"response"`
	Delegations []core.DelegationSummary `json:"delegations"`
}

// Engine is the invocation controller. It admits turns, runs them on the
// Turner, and turns their outcome into the event protocol: any number of
// token and delegation events, a turn-error on failure, and exactly one
// closing turn-done.
//
// Blocking callers go through CompleteTurn, which drains the same stream, so
// both modes observe identical answers.
type Engine struct {
	turner Turner
	opts   Options
	sem    *semaphore.Weighted

	activeTurns map[string]context.CancelFunc
	turnsMu     sync.Mutex
	wg          sync.WaitGroup
}

// New creates an Engine running turns on turner.
func New(turner Turner, optFns ...func(o *Options)) (*Engine, error) {
	if turner == nil {
		return nil, fmt.Errorf("%w: engine has no turner", core.ErrConfiguration)
	}

	opts := Options{
		Config:  DefaultConfig,
		Metrics: observability.NoopMetrics{},
		Tracer:  noop.NewTracerProvider().Tracer(""),
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.Config.EventBufferSize < 0 {
		return nil, fmt.Errorf("%w: negative event buffer size", core.ErrConfiguration)
	}

	e := &Engine{
		turner:      turner,
		opts:        opts,
		activeTurns: make(map[string]context.CancelFunc),
	}
	if n := opts.Config.MaxConcurrentTurns; n > 0 {
		e.sem = semaphore.NewWeighted(int64(n))
	}
	return e, nil
}

// StreamTurn validates the request, admits the turn and returns its event
// stream. The channel is closed after turn-done. Request errors are returned
// directly and start no turn.
//
// Cancelling ctx or calling StopTurn stops intermediate events promptly; the
// stream still ends with turn-error and turn-done.
func (e *Engine) StreamTurn(ctx context.Context, sessionID, text string) (string, <-chan core.TurnEvent, error) {
	if err := e.validate(sessionID, text); err != nil {
		return "", nil, err
	}

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return "", nil, core.Classify("engine.admit", err)
		}
	}
	release := func() {
		if e.sem != nil {
			e.sem.Release(1)
		}
	}

	turnID := core.NewTurnID()
	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackBeforeTurn, &CallbackContext{
		TurnID:    turnID,
		SessionID: sessionID,
		Message:   text,
	}); err != nil {
		release()
		return "", nil, core.NewTurnError(core.ErrInvalidRequest, "engine.before_turn", err)
	}

	var (
		turnCtx context.Context
		cancel  context.CancelFunc
	)
	if e.opts.Config.TurnTimeout > 0 {
		turnCtx, cancel = context.WithTimeout(ctx, e.opts.Config.TurnTimeout)
	} else {
		turnCtx, cancel = context.WithCancel(ctx)
	}

	e.turnsMu.Lock()
	e.activeTurns[turnID] = cancel
	e.turnsMu.Unlock()

	out := newSink(turnCtx, turnID, e.opts.Config.EventBufferSize, e.opts.Config.TerminalGrace)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer release()
		defer func() {
			cancel()
			e.turnsMu.Lock()
			delete(e.activeTurns, turnID)
			e.turnsMu.Unlock()
		}()
		e.runTurn(turnCtx, sessionID, turnID, text, out)
	}()

	return turnID, out.ch, nil
}

// CompleteTurn runs a turn to completion and returns the final answer. It
// drains StreamTurn; a turn-error is returned as a *core.TurnError carrying
// the public message only.
func (e *Engine) CompleteTurn(ctx context.Context, sessionID, text string) (*FinalResponse, error) {
	turnID, events, err := e.StreamTurn(ctx, sessionID, text)
	if err != nil {
		return nil, err
	}

	var failure *core.TurnError
	for ev := range events {
		switch ev.Type {
		case core.EventTurnError:
			failure = &core.TurnError{Kind: core.KindFromCode(ev.Code), Op: "engine.turn", Err: errors.New(ev.Message)}
		case core.EventTurnDone:
			if failure != nil {
				return nil, failure
			}
			return &FinalResponse{TurnID: turnID, Response: ev.Response, Delegations: ev.Delegations}, nil
		}
	}

	if failure != nil {
		return nil, failure
	}
	return nil, core.NewTurnError(core.ErrGeneration, "engine.turn", errors.New("stream closed without turn-done"))
}

// StopTurn cancels a running turn by its ID.
func (e *Engine) StopTurn(turnID string) error {
	e.turnsMu.Lock()
	cancel, exists := e.activeTurns[turnID]
	e.turnsMu.Unlock()

	if !exists {
		return fmt.Errorf("%w: turn %s not found", core.ErrInvalidRequest, turnID)
	}

	cancel()
	return nil
}

// ActiveTurns lists the IDs of running turns in ascending (time) order.
func (e *Engine) ActiveTurns() []string {
	e.turnsMu.Lock()
	defer e.turnsMu.Unlock()

	ids := make([]string, 0, len(e.activeTurns))
	for id := range e.activeTurns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Shutdown cancels all running turns and waits until their streams are
// closed or ctx ends.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.turnsMu.Lock()
	for _, cancel := range e.activeTurns {
		cancel()
	}
	e.turnsMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) validate(sessionID, text string) error {
	if strings.TrimSpace(sessionID) == "" {
		return core.NewTurnError(core.ErrInvalidRequest, "engine.validate", errors.New("session id is empty"))
	}
	if strings.TrimSpace(text) == "" {
		return core.NewTurnError(core.ErrInvalidRequest, "engine.validate", errors.New("message is empty"))
	}
	if limit := e.opts.Config.MaxMessageLength; limit > 0 {
		if n := utf8.RuneCountInString(text); n > limit {
			return core.NewTurnError(core.ErrInvalidRequest, "engine.validate",
				fmt.Errorf("message has %d characters, limit is %d", n, limit))
		}
	}
	return nil
}

type turnOutcome struct {
	result *agent.TurnResult
	err    error
}

func (e *Engine) runTurn(turnCtx context.Context, sessionID, turnID, text string, out *sink) {
	start := time.Now()
	e.opts.Metrics.TurnStarted()

	spanCtx, span := e.opts.Tracer.Start(turnCtx, "engine.turn", trace.WithAttributes(
		attribute.String("turn.id", turnID),
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	tc := core.NewTurnContext(spanCtx, sessionID, turnID, text, e.opts.Config.MaxModelCalls, out.emit, e.opts.Logger)
	tc.LogInfo("turn.started", "turn_id", turnID, "session_id", sessionID, "message_length", utf8.RuneCountInString(text))

	outcome := e.await(turnCtx, tc)

	cbCtx := &CallbackContext{TurnID: turnID, SessionID: sessionID, Message: text, Result: outcome.result}

	if outcome.err == nil {
		res := outcome.result
		out.final(core.NewTurnDoneEvent(res.Response, res.Delegations, false))

		cbCtx.Duration = time.Since(start)
		tc.LogInfo("turn.done",
			"turn_id", turnID,
			"session_id", sessionID,
			"delegations", len(res.Delegations),
			"duration_ms", cbCtx.Duration.Milliseconds(),
		)
		e.opts.Metrics.TurnFinished(string(agent.StateDone), cbCtx.Duration)
		if err := e.opts.Callbacks.ExecuteCallbacks(context.WithoutCancel(turnCtx), CallbackAfterTurn, cbCtx); err != nil {
			tc.LogWarn("turn.callback.failed", "turn_id", turnID, "type", string(CallbackAfterTurn), "error", err.Error())
		}
		return
	}

	te := classify(turnCtx, outcome.err)
	var calls []core.DelegationCall
	if outcome.result != nil {
		calls = outcome.result.Delegations
	}
	out.final(core.NewTurnFailedEvent(te), core.NewTurnDoneEvent("", calls, true))

	cbCtx.Err = te
	cbCtx.Duration = time.Since(start)
	tc.LogError("turn.failed",
		"turn_id", turnID,
		"session_id", sessionID,
		"kind", te.Code(),
		"op", te.Op,
		"error", te.Error(),
		"duration_ms", cbCtx.Duration.Milliseconds(),
	)
	span.RecordError(te)
	span.SetStatus(codes.Error, te.Code())
	e.opts.Metrics.TurnFinished(string(agent.StateFailed), cbCtx.Duration)
	if err := e.opts.Callbacks.ExecuteCallbacks(context.WithoutCancel(turnCtx), CallbackOnError, cbCtx); err != nil {
		tc.LogWarn("turn.callback.failed", "turn_id", turnID, "type", string(CallbackOnError), "error", err.Error())
	}
}

// await runs the turner and waits for it. When the turn context ends first,
// the turner gets TerminalGrace to unwind so its partial result (completed
// delegations) can still be reported.
func (e *Engine) await(turnCtx context.Context, tc *core.TurnContext) turnOutcome {
	done := make(chan turnOutcome, 1)
	go func() {
		var outcome turnOutcome
		defer func() {
			if r := recover(); r != nil {
				tc.LogError("turn.panic", "turn_id", tc.TurnID, "recover", fmt.Sprint(r), "stack", string(debug.Stack()))
				outcome = turnOutcome{err: core.NewTurnError(core.ErrGeneration, "engine.turn", fmt.Errorf("panic: %v", r))}
			}
			done <- outcome
		}()
		outcome.result, outcome.err = e.turner.Turn(tc)
	}()

	select {
	case outcome := <-done:
		return outcome
	case <-turnCtx.Done():
	}

	timer := time.NewTimer(e.opts.Config.TerminalGrace)
	defer timer.Stop()
	select {
	case outcome := <-done:
		// A turn persisted just before the deadline still counts as done.
		return outcome
	case <-timer.C:
		tc.LogWarn("turn.abandoned", "turn_id", tc.TurnID, "grace_ms", e.opts.Config.TerminalGrace.Milliseconds())
		return turnOutcome{err: turnCtx.Err()}
	}
}

// classify maps err to a TurnError. An ended turn context decides the kind:
// a deadline is a timeout, anything else a cancellation.
func classify(turnCtx context.Context, err error) *core.TurnError {
	te := core.Classify("engine.turn", err)
	cerr := turnCtx.Err()
	if cerr == nil {
		return te
	}
	kind := core.ErrCancelled
	if errors.Is(cerr, context.DeadlineExceeded) {
		kind = core.ErrTimeout
	}
	if te.Kind == kind {
		return te
	}
	return core.NewTurnError(kind, te.Op, err)
}

package core

import (
	"context"

	"github.com/hupe1980/concierge/logging"
)

// TurnContext carries the request-scoped state of one turn through the
// supervisor, its workers and the middleware pipeline.
type TurnContext struct {
	Context   context.Context
	SessionID string
	TurnID    string
	UserText  string
	Limiter   *ModelLimiter

	emit   func(TurnEvent)
	logger logging.Logger
}

// NewTurnContext creates a TurnContext. emit may be nil when nobody listens
// (blocking callers, tests); maxModelCalls of 0 disables the limiter.
func NewTurnContext(
	ctx context.Context,
	sessionID, turnID, userText string,
	maxModelCalls int,
	emit func(TurnEvent),
	logger logging.Logger,
) *TurnContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &TurnContext{
		Context:   ctx,
		SessionID: sessionID,
		TurnID:    turnID,
		UserText:  userText,
		Limiter:   NewModelLimiter(maxModelCalls),
		emit:      emit,
		logger:    logger,
	}
}

func (tc *TurnContext) Done() <-chan struct{} { return tc.Context.Done() }

func (tc *TurnContext) Err() error { return tc.Context.Err() }

// Emit forwards ev to the stream consumer, if any.
func (tc *TurnContext) Emit(ev TurnEvent) {
	if tc.emit == nil {
		return
	}
	ev.TurnID = tc.TurnID
	tc.emit(ev)
}

// Logger is the turn's logger, never nil. It is handed to pipeline steps and
// workers resolving on behalf of the turn.
func (tc *TurnContext) Logger() logging.Logger { return tc.logger }

func (tc *TurnContext) LogDebug(msg string, args ...any) { tc.logger.Debug(msg, args...) }
func (tc *TurnContext) LogInfo(msg string, args ...any) { tc.logger.Info(msg, args...) }
func (tc *TurnContext) LogWarn(msg string, args ...any) { tc.logger.Warn(msg, args...) }
func (tc *TurnContext) LogError(msg string, args ...any) { tc.logger.Error(msg, args...) }

// WithContext returns a shallow copy bound to ctx. The limiter and emitter
// are shared with the parent.
func (tc *TurnContext) WithContext(ctx context.Context) *TurnContext {
	c := *tc
	c.Context = ctx
	return &c
}

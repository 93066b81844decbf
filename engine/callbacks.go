package engine

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/concierge/agent"
	"github.com/hupe1980/concierge/logging"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks hook into turn execution without modifying the engine. They run
// synchronously on the turn's goroutine.
type CallbackType string

const (
	// CallbackBeforeTurn runs after validation, before the turn starts.
	// Returning an error rejects the request; no turn is started.
	CallbackBeforeTurn CallbackType = "before_turn"

	// CallbackAfterTurn runs after a successful turn-done was emitted.
	// Errors are logged and otherwise ignored.
	CallbackAfterTurn CallbackType = "after_turn"

	// CallbackOnError runs after a failed turn's closing events were
	// emitted. Errors are logged and otherwise ignored.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext describes the turn a callback runs for. Result, Err and
// Duration are only set after the turn finished.
type CallbackContext struct {
	TurnID    string
	SessionID string
	Message   string

	// Result may be partial (or nil) for failed turns.
	Result   *agent.TurnResult
	Err      error
	Duration time.Duration
}

// Callback defines the interface for turn lifecycle hooks.
//
// Implementations should be fast: callbacks run synchronously and delay the
// turn (before_turn) or the release of its concurrency slot (after_turn,
// on_error).
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(
//	    CallbackAfterTurn,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("turn %s took %s", cc.TurnID, cc.Duration)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds callbacks by type and runs them in registration
// order. The first error stops the chain and is returned.
//
// Registration and execution are safe for concurrent use.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
	mu        sync.RWMutex
}

// NewCallbackManager creates a new, empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
//
// Example:
//
//	manager := NewCallbackManager()
//	manager.RegisterCallback(NewLoggingCallback(CallbackOnError, logger))
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback writes one structured entry per callback invocation.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the turn identity and, once finished, its outcome.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	args := []any{
		"callback", string(c.callbackType),
		"turn_id", callbackCtx.TurnID,
		"session_id", callbackCtx.SessionID,
	}
	if callbackCtx.Duration > 0 {
		args = append(args, "duration_ms", callbackCtx.Duration.Milliseconds())
	}
	if callbackCtx.Result != nil {
		args = append(args, "delegations", len(callbackCtx.Result.Delegations))
	}
	if callbackCtx.Err != nil {
		args = append(args, "error", callbackCtx.Err.Error())
		c.logger.Warn("engine.callback", args...)
		return nil
	}
	c.logger.Info("engine.callback", args...)
	return nil
}

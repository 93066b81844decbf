package middleware

import (
	"context"
	"time"

	"github.com/hupe1980/concierge/logging"
	"github.com/hupe1980/concierge/model"
)

// Logging records the shape of every call. It never alters requests or
// responses. Calls carrying their own Logger are logged there.
type Logging struct {
	logger logging.Logger
}

// NewLogging creates the logging step.
func NewLogging(logger logging.Logger) *Logging {
	return &Logging{logger: loggerOf(logger)}
}

// Name implements Step.
func (l *Logging) Name() string { return "logging" }

func (l *Logging) pick(callLogger logging.Logger) logging.Logger {
	if callLogger != nil {
		return callLogger
	}
	return l.logger
}

// AroundModel implements ModelStep.
func (l *Logging) AroundModel(ctx context.Context, call *ModelCall, next ModelHandler) (*model.Response, error) {
	logger := l.pick(call.Logger)
	logger.Debug("model.call.start",
		"agent", call.Agent,
		"model", call.Model,
		"message_count", len(call.Request.Contents),
		"capabilities_available", call.Request.HasTools(),
		"capability_count", len(call.Request.Tools),
	)

	start := time.Now()
	resp, err := next(ctx, call)
	if err != nil {
		logging.LogModelCall(logger, call.Agent, call.Model, len(call.Request.Contents), 0, nil, time.Since(start), err)
		return nil, err
	}

	calls := resp.FunctionCalls()
	invoked := make([]string, 0, len(calls))
	for _, fc := range calls {
		invoked = append(invoked, fc.Name)
	}
	logging.LogModelCall(logger, call.Agent, call.Model, len(call.Request.Contents), len(resp.Text()), invoked, time.Since(start), nil)
	return resp, nil
}

// AroundCapability implements CapabilityStep.
func (l *Logging) AroundCapability(ctx context.Context, call *CapabilityCall, next CapabilityHandler) (CapabilityResult, error) {
	logger := l.pick(call.Logger)
	start := time.Now()
	res, err := next(ctx, call)
	dur := time.Since(start)

	switch {
	case err != nil:
		logging.LogCapabilityCall(logger, call.Agent, call.Capability.Name(), dur, err)
	case res.Failed:
		logger.Warn("capability.call.degraded",
			"agent", call.Agent,
			"capability", call.Capability.Name(),
			"duration_ms", dur.Milliseconds(),
			"output_length", len(res.Output),
		)
	default:
		logging.LogCapabilityCall(logger, call.Agent, call.Capability.Name(), dur, nil)
	}
	return res, err
}

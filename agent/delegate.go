package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/concierge/capability"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/middleware"
)

// workerCapability presents a Worker to the supervisor's pipeline.
type workerCapability struct{ w *Worker }

// AsCapability exposes the worker as a capability taking a "request".
func (w *Worker) AsCapability() capability.Capability { return workerCapability{w: w} }

func (c workerCapability) Name() string               { return c.w.Tool() }
func (c workerCapability) ServiceName() string        { return c.w.ServiceName() }
func (c workerCapability) Description() string        { return c.w.Description() }
func (c workerCapability) Parameters() map[string]any { return c.w.Definition().Function.Parameters }

func (c workerCapability) Invoke(ctx context.Context, args map[string]any) (string, error) {
	request, _ := args["request"].(string)
	ans, err := c.w.Resolve(ctx, request)
	if err != nil {
		return "", err
	}
	return ans.Text, nil
}

// runDelegations resolves reqs concurrently, bounded by
// MaxParallelDelegations, and joins them. Calls are returned in request
// order. Worker failures become failed DelegationCalls; only an aborting
// pipeline step fails the batch.
//
// Workers run on a context detached from the turn: when the turn is
// cancelled the join is abandoned at once, while issued capability calls run
// to completion in the background and their results are dropped. Requests
// not yet issued are never started.
func (s *Supervisor) runDelegations(tc *core.TurnContext, reqs []DelegationRequest) ([]core.DelegationCall, error) {
	handler := s.opts.Pipeline.Capability(func(ctx context.Context, call *middleware.CapabilityCall) (middleware.CapabilityResult, error) {
		wc := call.Capability.(workerCapability)
		request, _ := call.Args["request"].(string)
		ans, err := wc.w.resolve(ctx, request, tc.Limiter, tc.Logger())
		if err != nil {
			return middleware.CapabilityResult{}, err
		}
		return middleware.CapabilityResult{Output: ans.Text, Failed: ans.CapabilityFailed}, nil
	})

	limit := s.opts.MaxParallelDelegations
	if limit <= 0 || limit > len(reqs) {
		limit = len(reqs)
	}

	results := make([]core.DelegationCall, len(reqs))
	done := make(chan error, 1)
	batchStart := time.Now()
	go func() {
		var g errgroup.Group
		g.SetLimit(limit)
		for i, req := range reqs {
			if tc.Err() != nil {
				break
			}
			// g.Go blocks while the limit is reached, so the turn may have
			// ended by the time this slot opens.
			g.Go(func() error {
				if tc.Err() != nil {
					return nil
				}
				call, err := s.delegateOne(tc, handler, req)
				results[i] = call
				return err
			})
		}
		done <- g.Wait()
	}()

	select {
	case <-tc.Done():
		tc.LogWarn("delegation.batch.abandoned", "turn_id", tc.TurnID, "count", len(reqs), "error", tc.Err().Error())
		return nil, tc.Err()
	case err := <-done:
		tc.LogDebug("delegation.batch.complete",
			"turn_id", tc.TurnID,
			"count", len(reqs),
			"parallelism", limit,
			"duration_ms", time.Since(batchStart).Milliseconds(),
		)
		calls := make([]core.DelegationCall, 0, len(results))
		for _, c := range results {
			if c.ID != "" {
				calls = append(calls, c)
			}
		}
		return calls, err
	}
}

func (s *Supervisor) delegateOne(tc *core.TurnContext, handler middleware.CapabilityHandler, req DelegationRequest) (call core.DelegationCall, err error) {
	worker := req.Tool
	if req.Worker != nil {
		worker = req.Worker.Name()
	}
	call = core.DelegationCall{ID: req.CallID, Worker: worker, Request: req.Request, StartedAt: time.Now().UTC()}
	tc.Emit(core.NewDelegationStartedEvent(worker, req.Request))
	tc.LogInfo("delegation.started", "turn_id", tc.TurnID, "worker", worker, "call_id", req.CallID)

	spanCtx, span := s.opts.Tracer.Start(tc.Context, "agent.delegation", trace.WithAttributes(
		attribute.String("turn.id", tc.TurnID),
		attribute.String("delegation.id", req.CallID),
	))
	defer span.End()

	ctx := context.WithoutCancel(spanCtx)
	if s.opts.DelegationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.DelegationTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			tc.LogError("delegation.panic", "turn_id", tc.TurnID, "worker", worker, "recover", fmt.Sprint(r), "stack", string(debug.Stack()))
			call.Response = fmt.Sprintf("Sorry, the %s specialist ran into a problem.", worker)
			call.Status = core.DelegationFailed
			err = nil
		}
		if err != nil {
			span.RecordError(err)
			return
		}
		call.FinishedAt = time.Now().UTC()
		s.finish(tc, span, call)
	}()

	if req.Worker == nil {
		call.Response = fmt.Sprintf("Sorry, there is no specialist called %s.", req.Tool)
		call.Status = core.DelegationFailed
		return call, nil
	}

	res, err := handler(ctx, &middleware.CapabilityCall{
		Agent:      "supervisor",
		CallID:     req.CallID,
		Capability: req.Worker.AsCapability(),
		Args:       map[string]any{"request": req.Request},
		Logger:     tc.Logger(),
	})
	if err != nil {
		return call, err
	}
	call.Response = res.Output
	call.Status = core.DelegationOK
	if res.Failed {
		call.Status = core.DelegationFailed
	}
	return call, nil
}

func (s *Supervisor) finish(tc *core.TurnContext, span trace.Span, call core.DelegationCall) {
	spanStatus(span, call)
	tc.Emit(core.NewDelegationFinishedEvent(call, s.opts.ExcerptLength))
	tc.LogInfo("delegation.finished",
		"turn_id", tc.TurnID,
		"worker", call.Worker,
		"status", string(call.Status),
		"duration_ms", call.Duration().Milliseconds(),
	)
	if s.opts.OnDelegation != nil {
		s.opts.OnDelegation(call)
	}
}

// Package engine implements the invocation controller for concierge.
//
// The Engine is the single entry point for user turns. It validates requests,
// bounds concurrency, applies the turn deadline and converts the outcome of a
// Turner (the supervisor) into the turn event protocol.
//
// # Event Protocol
//
// Every admitted turn yields a channel of core.TurnEvent values:
//
//	token*  delegation-started/finished*  [turn-error]  turn-done
//
// Events carry the turn ID and a per-turn sequence number starting at 1.
// turn-done is emitted exactly once and always last; on failure it is
// preceded by a turn-error holding a sanitized message and an error code.
// Full error detail goes to the logger only.
//
// # Blocking and Streaming
//
// CompleteTurn drains StreamTurn, so both modes share one execution path and
// return identical answers for identical inputs.
//
// # Cancellation
//
// Cancelling the caller's context, calling StopTurn or exceeding TurnTimeout
// ends the turn: intermediate events stop at once, no assistant message is
// persisted, and the stream closes with turn-error and turn-done. Worker
// calls already issued finish in the background and their results are
// dropped.
//
// # Usage
//
//	sup, _ := agent.NewSupervisor(llm, store, workers)
//	eng, _ := engine.New(sup, func(o *engine.Options) {
//	    o.Logger = logger
//	})
//
//	turnID, events, err := eng.StreamTurn(ctx, "s1", "What is the weather in Oslo?")
//	if err != nil {
//	    return err
//	}
//	for ev := range events {
//	    fmt.Print(ev.Content)
//	}
package engine

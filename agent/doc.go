// Package agent contains the two agent roles of concierge and the turn logic
// that connects them:
//
//  1. Supervisor: owns the session history, decides per turn whether to answer
//     directly or delegate, and merges worker answers into the final text.
//  2. Worker: a single-capability specialist that resolves one request with
//     at most one capability call and no session access.
//
// Execution Model:
//   - Supervisor.Turn receives a *core.TurnContext carrying cancellation,
//     the event emitter, the logger and the per-turn model call limiter.
//   - Model responses are mapped to a Decision (FinalAnswer or Delegate).
//   - Delegations run concurrently, bounded by MaxParallelDelegations, and
//     are joined before synthesis. Results keep request order.
//   - Every model and capability call passes the middleware pipeline
//     (logging, failure translation, grounding).
//
// Turn states: received -> delegating -> synthesizing -> persisted -> done,
// with failed reachable from every non-terminal state.
package agent

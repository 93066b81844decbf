// Package core defines the domain types shared by every concierge component:
//
//   - Message / Session and the SessionStore contract
//   - DelegationCall, the record of one supervisor-to-worker call
//   - TurnEvent, the streaming protocol union
//   - TurnContext, the request-scoped state of a turn
//   - TurnError and the error kinds used at the invocation boundary
//
// Implementations (stores, agents, the engine) live in their own packages and
// depend on core, never the other way round.
package core

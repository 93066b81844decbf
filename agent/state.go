package agent

import (
	"fmt"

	"github.com/hupe1980/concierge/core"
)

// TurnState is a node of the per-turn state machine.
type TurnState string

const (
	StateReceived     TurnState = "received"
	StateDelegating   TurnState = "delegating"
	StateSynthesizing TurnState = "synthesizing"
	StatePersisted    TurnState = "persisted"
	StateDone         TurnState = "done"
	StateFailed       TurnState = "failed"
)

// Terminal reports whether s ends the turn.
func (s TurnState) Terminal() bool { return s == StateDone || s == StateFailed }

var transitions = map[TurnState][]TurnState{
	StateReceived:     {StateDelegating, StateSynthesizing},
	StateDelegating:   {StateSynthesizing},
	StateSynthesizing: {StateDelegating, StatePersisted},
	StatePersisted:    {StateDone},
}

// turnMachine enforces the legal order of turn states. Failed is reachable
// from every non-terminal state.
type turnMachine struct {
	state TurnState
	tc    *core.TurnContext
}

func newTurnMachine(tc *core.TurnContext) *turnMachine {
	return &turnMachine{state: StateReceived, tc: tc}
}

func (m *turnMachine) to(next TurnState) error {
	if m.state == next {
		return nil
	}
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.tc.LogDebug("turn.state", "turn_id", m.tc.TurnID, "from", string(m.state), "to", string(next))
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal turn transition %s -> %s", m.state, next)
}

func (m *turnMachine) fail(err error) error {
	if !m.state.Terminal() {
		m.tc.LogDebug("turn.state", "turn_id", m.tc.TurnID, "from", string(m.state), "to", string(StateFailed))
		m.state = StateFailed
	}
	return err
}

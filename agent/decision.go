package agent

import (
	"strings"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/model"
)

// Decision is what a supervisor model response amounts to: either a final
// answer or a batch of delegations. Only the types below implement it.
type Decision interface{ isDecision() }

// FinalAnswer ends the turn with Text.
type FinalAnswer struct {
	Text string
}

// Delegate asks one or more workers for help before answering.
type Delegate struct {
	Requests []DelegationRequest
}

// DelegationRequest is one requested delegation. Worker is nil when the
// model named a tool that no registered worker provides.
type DelegationRequest struct {
	CallID  string
	Tool    string
	Worker  *Worker
	Request string
}

func (FinalAnswer) isDecision() {}
func (Delegate) isDecision()    {}

// decide maps a model response to a Decision. Requests without a usable
// "request" argument fall back to the user's own text.
func decide(resp *model.Response, byTool map[string]*Worker, userText string) Decision {
	calls := resp.FunctionCalls()
	if len(calls) == 0 {
		return FinalAnswer{Text: resp.Text()}
	}
	reqs := make([]DelegationRequest, len(calls))
	for i, fc := range calls {
		text := userText
		if args, err := decodeArgs(fc.Arguments); err == nil {
			if r, ok := args["request"].(string); ok && strings.TrimSpace(r) != "" {
				text = r
			}
		}
		id := fc.ID
		if id == "" {
			id = core.NewID()
		}
		reqs[i] = DelegationRequest{CallID: id, Tool: fc.Name, Worker: byTool[fc.Name], Request: text}
	}
	return Delegate{Requests: reqs}
}

// decodeArgs parses a JSON argument object; empty input yields {}.
func decodeArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.UnmarshalFromString(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

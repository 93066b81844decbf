package core

import "time"

// DelegationStatus is the outcome of a DelegationCall.
type DelegationStatus string

const (
	DelegationOK     DelegationStatus = "ok"
	DelegationFailed DelegationStatus = "failed"
)

// DelegationCall records one supervisor-to-worker invocation within a turn.
// Values are created complete and never mutated afterwards.
type DelegationCall struct {
	ID         string           `json:"id"`
	Worker     string           `json:"worker"`
	Request    string           `json:"request"`
	Response   string           `json:"response"`
	Status     DelegationStatus `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Duration is the wall time the worker needed.
func (d DelegationCall) Duration() time.Duration { return d.FinishedAt.Sub(d.StartedAt) }

// Summarize projects calls to their transport view.
func Summarize(calls []DelegationCall) []DelegationSummary {
	if len(calls) == 0 {
		return []DelegationSummary{}
	}
	out := make([]DelegationSummary, len(calls))
	for i, c := range calls {
		out[i] = DelegationSummary{Worker: c.Worker, Request: c.Request, Status: c.Status}
	}
	return out
}

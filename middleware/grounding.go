package middleware

import (
	"context"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/logging"
	"github.com/hupe1980/concierge/model"
)

// WarningKind classifies a grounding warning.
type WarningKind string

const (
	// WarningUnusedOutput: a successful capability output left no trace in
	// the response.
	WarningUnusedOutput WarningKind = "unused_output"
	// WarningUngroundedFigure: the response contains a figure found in no
	// capability output and not in the user's message.
	WarningUngroundedFigure WarningKind = "ungrounded_figure"
)

// Warning is a non-blocking grounding finding.
type Warning struct {
	Agent      string
	Kind       WarningKind
	Capability string
	Detail     string
}

// GroundingOptions configure the grounding step.
type GroundingOptions struct {
	// OnWarning is called for each finding, e.g. to count it in metrics.
	OnWarning func(Warning)
}

// Grounding checks final model responses against the capability outputs of
// the current turn. Detection only: the response passes through untouched.
type Grounding struct {
	logger logging.Logger
	opts   GroundingOptions
}

// NewGrounding creates the grounding step.
func NewGrounding(logger logging.Logger, optFns ...func(o *GroundingOptions)) *Grounding {
	opts := GroundingOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Grounding{logger: loggerOf(logger), opts: opts}
}

// Name implements Step.
func (g *Grounding) Name() string { return "grounding" }

// AroundModel implements ModelStep.
func (g *Grounding) AroundModel(ctx context.Context, call *ModelCall, next ModelHandler) (*model.Response, error) {
	resp, err := next(ctx, call)
	if err != nil || len(resp.FunctionCalls()) > 0 {
		return resp, err
	}

	logger := g.logger
	if call.Logger != nil {
		logger = call.Logger
	}
	for _, w := range Check(resp.Text(), call.Request.LastUserText(), call.Request.TurnResponses()) {
		w.Agent = call.Agent
		logger.Warn("grounding.warning",
			"agent", w.Agent,
			"kind", string(w.Kind),
			"capability", w.Capability,
			"detail", w.Detail,
		)
		if g.opts.OnWarning != nil {
			g.opts.OnWarning(w)
		}
	}
	return resp, nil
}

var (
	figurePattern = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	wordPattern   = regexp.MustCompile(`[\p{L}][\p{L}\p{N}'-]*`)
)

// Check compares answer with the capability outputs of a turn. Failed
// outputs are apologies and are not expected to be reflected. Without any
// capability output there is nothing to check.
func Check(answer, userText string, outputs []core.FunctionResponse) []Warning {
	if len(outputs) == 0 || strings.TrimSpace(answer) == "" {
		return nil
	}

	var warnings []Warning
	answerFigures := figures(answer)
	answerWords := words(answer)

	known := figures(userText)
	for _, out := range outputs {
		for f := range figures(out.Response) {
			known[f] = true
		}
		if out.Failed {
			continue
		}
		if !reflected(out.Response, answerFigures, answerWords) {
			warnings = append(warnings, Warning{
				Kind:       WarningUnusedOutput,
				Capability: out.Name,
				Detail:     core.Excerpt(out.Response, 80),
			})
		}
	}

	for _, f := range slices.Sorted(maps.Keys(answerFigures)) {
		if !known[f] && len(f) > 1 {
			warnings = append(warnings, Warning{Kind: WarningUngroundedFigure, Detail: f})
		}
	}
	return warnings
}

// reflected reports whether the answer reuses a figure of output, or, for
// outputs without figures, one of its longer words.
func reflected(output string, answerFigures, answerWords map[string]bool) bool {
	outFigures := figures(output)
	if len(outFigures) > 0 {
		for f := range outFigures {
			if answerFigures[f] {
				return true
			}
		}
		return false
	}
	for w := range words(output) {
		if answerWords[w] {
			return true
		}
	}
	return len(words(output)) == 0
}

func figures(s string) map[string]bool {
	out := map[string]bool{}
	for _, m := range figurePattern.FindAllString(s, -1) {
		out[strings.ReplaceAll(m, ",", ".")] = true
	}
	return out
}

func words(s string) map[string]bool {
	out := map[string]bool{}
	for _, m := range wordPattern.FindAllString(s, -1) {
		if len([]rune(m)) >= 5 {
			out[strings.ToLower(m)] = true
		}
	}
	return out
}

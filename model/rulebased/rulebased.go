// Package rulebased provides a deterministic, offline model.Model. It routes
// requests to tools by keyword and composes answers from function responses,
// which makes agent behavior reproducible in tests and demos.
package rulebased

import (
	"context"
	"strings"
	"time"
	"unicode"

	jsoniter "github.com/json-iterator/go"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Rule maps keywords in the user text to a tool call.
type Rule struct {
	Keywords []string
	Tool     string
	// Args builds the call arguments from the user text. Nil yields {}.
	Args func(text string) map[string]any
}

// Matches reports whether any keyword occurs in text (case-insensitive).
func (r Rule) Matches(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range r.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Options configure the rule-based model.
type Options struct {
	Name  string
	Rules []Rule
	// Fallback answers requests that match no rule.
	Fallback string
	// Compose builds the answer from the current turn's function responses.
	Compose func(userText string, responses []core.FunctionResponse) string
	// TokenDelay slows down streaming to mimic a remote model.
	TokenDelay time.Duration
}

// Model is a keyword-routing model.Model.
type Model struct {
	opts Options
}

// New creates a rule-based model.
func New(optFns ...func(o *Options)) *Model {
	opts := Options{
		Name:     "rulebased",
		Fallback: "I can help with weather, stock prices and internal documents. What would you like to know?",
		Compose:  JoinResponses,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		id := core.NewID()
		if calls := m.route(req); len(calls) > 0 {
			parts := make([]core.Part, len(calls))
			for i, c := range calls {
				parts[i] = core.FunctionCallPart{FunctionCall: c}
			}
			out <- model.Response{ID: id, Content: core.Content{Role: "assistant", Parts: parts}, FinishReason: "tool_calls"}
			return
		}

		text := m.answer(req)
		if req.Stream {
			for _, tok := range Tokenize(text) {
				if m.opts.TokenDelay > 0 {
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case <-time.After(m.opts.TokenDelay):
					}
				}
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- model.Response{ID: id, Partial: true, Content: core.NewTextContent("assistant", tok)}:
				}
			}
		}
		out <- model.Response{ID: id, Content: core.NewTextContent("assistant", text), FinishReason: "stop"}
	}()
	return out, errCh
}

// route returns tool calls for the first turn step only; once the turn has
// function responses the model answers.
func (m *Model) route(req model.Request) []core.FunctionCall {
	if !req.HasTools() || len(req.TurnResponses()) > 0 {
		return nil
	}
	offered := make(map[string]bool, len(req.Tools))
	for _, t := range req.Tools {
		offered[t.Function.Name] = true
	}
	text := req.LastUserText()
	var calls []core.FunctionCall
	seen := map[string]bool{}
	for _, r := range m.opts.Rules {
		if !offered[r.Tool] || seen[r.Tool] || !r.Matches(text) {
			continue
		}
		seen[r.Tool] = true
		args := map[string]any{}
		if r.Args != nil {
			args = r.Args(text)
		}
		raw, err := json.MarshalToString(args)
		if err != nil {
			raw = "{}"
		}
		calls = append(calls, core.FunctionCall{ID: core.NewID(), Name: r.Tool, Arguments: raw})
	}
	return calls
}

func (m *Model) answer(req model.Request) string {
	if responses := req.TurnResponses(); len(responses) > 0 {
		return m.opts.Compose(req.LastUserText(), responses)
	}
	return m.opts.Fallback
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Name, Provider: "rulebased", SupportsTools: true}
}

// JoinResponses is the default Compose: the response texts, one per line.
func JoinResponses(_ string, responses []core.FunctionResponse) string {
	lines := make([]string, 0, len(responses))
	for _, r := range responses {
		if s := strings.TrimSpace(r.Response); s != "" {
			lines = append(lines, s)
		}
	}
	return strings.Join(lines, "\n")
}

// Tokenize splits text into word chunks that concatenate back to text.
func Tokenize(text string) []string {
	var toks []string
	start := 0
	for i, r := range text {
		if unicode.IsSpace(r) && i > start {
			toks = append(toks, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		toks = append(toks, text[start:])
	}
	return toks
}

// Passthrough builds Args that forward the whole user text under key.
func Passthrough(key string) func(string) map[string]any {
	return func(text string) map[string]any {
		return map[string]any{key: text}
	}
}

// PhraseAfter builds Args that extract the capitalized phrase following one
// of the marker words ("in Oslo", "for New York") into key. The first marker
// with a capitalized successor wins.
func PhraseAfter(key string, markers ...string) func(string) map[string]any {
	return func(text string) map[string]any {
		if p := phraseAfter(text, markers); p != "" {
			return map[string]any{key: p}
		}
		return map[string]any{}
	}
}

// UpperWord builds Args that extract the first all-caps word of at least two
// letters (a ticker symbol) into key.
func UpperWord(key string) func(string) map[string]any {
	return func(text string) map[string]any {
		for _, w := range strings.Fields(text) {
			w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) })
			if len(w) >= 2 && w == strings.ToUpper(w) && strings.IndexFunc(w, unicode.IsLetter) >= 0 {
				return map[string]any{key: w}
			}
		}
		return map[string]any{}
	}
}

func phraseAfter(text string, markers []string) string {
	words := strings.Fields(text)
	for i, w := range words {
		if !containsFold(markers, trimPunct(w)) {
			continue
		}
		var phrase []string
		for _, next := range words[i+1:] {
			clean := trimPunct(next)
			if clean == "" || !unicode.IsUpper([]rune(clean)[0]) {
				break
			}
			phrase = append(phrase, clean)
			if clean != next { // punctuation ends the phrase
				break
			}
		}
		if len(phrase) > 0 {
			return strings.Join(phrase, " ")
		}
	}
	return ""
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool { return unicode.IsPunct(r) })
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

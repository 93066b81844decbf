package agent

import (
	"context"

	"github.com/hupe1980/concierge/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(ctx context.Context, data map[string]any) (string, error)
}

// InstructionFunc is a functional adapter to allow ordinary functions to be
// used as Providers.
type InstructionFunc func(ctx context.Context, data map[string]any) (string, error)

// Instruction implements Provider.
func (f InstructionFunc) Instruction(ctx context.Context, data map[string]any) (string, error) {
	return f(ctx, data)
}

// Instruction is either a static template or a dynamic provider. Both are
// rendered as text/template against the agent's instruction data.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static template.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context, data map[string]any) (string, error)) Instruction {
	return Instruction{provider: InstructionFunc(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether the instruction is unset.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the rendered instruction text.
func (i Instruction) Resolve(ctx context.Context, data map[string]any) (string, error) {
	text := i.text
	if i.provider != nil {
		var err error
		if text, err = i.provider.Instruction(ctx, data); err != nil {
			return "", err
		}
	}
	return util.RenderTemplate(text, data)
}

const defaultSupervisorInstruction = `You are the front desk of a concierge assistant.
Answer general questions yourself. For anything that needs live or internal data, delegate to a specialist:
{{range .workers}}- {{.tool}}: {{.description}}
{{end}}You may ask several specialists at once. Base every figure in your answer on what the specialists report, and say so plainly when a specialist could not help.`

const defaultWorkerInstruction = `You are the {{.worker}} specialist. You can use the {{.service}} ({{.capability}}) once per request.
Use it only when the request needs it, then answer in one or two sentences using its result. If it reports a problem, pass the apology on and do not guess.`

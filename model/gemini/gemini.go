// Package gemini adapts the Google Gemini API (google.golang.org/genai) to
// model.Model.
package gemini

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures the Gemini adapter.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int32
	APIKey      string
}

// Model wraps a genai client behind model.Model.
type Model struct {
	client *genai.Client
	opts   Options
}

// NewModel creates a Gemini model. Without an explicit APIKey the SDK reads
// GEMINI_API_KEY / GOOGLE_API_KEY.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := Options{Model: "gemini-2.0-flash", Temperature: 0.2, MaxTokens: 2048}
	for _, fn := range optFns {
		fn(&opts)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gemini client: %w", core.ErrConfiguration, err)
	}
	return &Model{client: client, opts: opts}, nil
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		contents := buildContents(req.Contents)
		config := m.buildConfig(req)

		if !req.Stream {
			resp, err := m.client.Models.GenerateContent(ctx, m.opts.Model, contents, config)
			if err != nil {
				errCh <- fmt.Errorf("gemini api error: %w", err)
				return
			}
			final, err := toResponse(resp)
			if err != nil {
				errCh <- err
				return
			}
			out <- *final
			return
		}

		var text strings.Builder
		var calls []core.FunctionCall
		var last *genai.GenerateContentResponse
		for chunk, err := range m.client.Models.GenerateContentStream(ctx, m.opts.Model, contents, config) {
			if err != nil {
				errCh <- fmt.Errorf("gemini streaming error: %w", err)
				return
			}
			last = chunk
			if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
				continue
			}
			for _, p := range chunk.Candidates[0].Content.Parts {
				if p.Text != "" && !p.Thought {
					text.WriteString(p.Text)
					out <- model.Response{Partial: true, Content: core.NewTextContent("assistant", p.Text)}
				}
				if p.FunctionCall != nil {
					calls = append(calls, toFunctionCall(p.FunctionCall, len(calls)))
				}
			}
		}
		parts := make([]core.Part, 0, len(calls)+1)
		if text.Len() > 0 {
			parts = append(parts, core.TextPart{Text: text.String()})
		}
		for _, c := range calls {
			parts = append(parts, core.FunctionCallPart{FunctionCall: c})
		}
		final := model.Response{Content: core.Content{Role: "assistant", Parts: parts}, FinishReason: "stop"}
		if last != nil {
			final.ID = last.ResponseID
			final.Usage = usage(last)
			if len(last.Candidates) > 0 && last.Candidates[0].FinishReason != "" {
				final.FinishReason = strings.ToLower(string(last.Candidates[0].FinishReason))
			}
		}
		out <- final
	}()
	return out, errCh
}

func (m *Model) buildConfig(req model.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(m.opts.Temperature)),
		MaxOutputTokens: m.opts.MaxTokens,
	}
	if req.Instructions != "" {
		config.SystemInstruction = genai.NewContentFromText(req.Instructions, genai.RoleUser)
	}
	if req.HasTools() {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, def := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        def.Function.Name,
				Description: def.Function.Description,
				Parameters:  toSchema(def.Function.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config
}

func buildContents(contents []core.Content) []*genai.Content {
	var out []*genai.Content
	for _, c := range contents {
		var parts []*genai.Part
		role := string(genai.RoleUser)
		switch c.Role {
		case "assistant":
			role = string(genai.RoleModel)
			for _, p := range c.Parts {
				switch part := p.(type) {
				case core.TextPart:
					if part.Text != "" {
						parts = append(parts, &genai.Part{Text: part.Text})
					}
				case core.FunctionCallPart:
					args := map[string]any{}
					_ = json.Unmarshal([]byte(part.FunctionCall.Arguments), &args)
					parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
						ID:   part.FunctionCall.ID,
						Name: part.FunctionCall.Name,
						Args: args,
					}})
				}
			}
		case "tool":
			for _, fr := range c.FunctionResponses() {
				key := "output"
				if fr.Failed {
					key = "error"
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       fr.ID,
					Name:     fr.Name,
					Response: map[string]any{key: fr.Response},
				}})
			}
			if len(parts) == 0 && c.Text() != "" {
				parts = append(parts, &genai.Part{Text: "Earlier capability result: " + c.Text()})
			}
		default:
			if txt := c.Text(); txt != "" {
				parts = append(parts, &genai.Part{Text: txt})
			}
		}
		if len(parts) > 0 {
			out = append(out, &genai.Content{Role: role, Parts: parts})
		}
	}
	return out
}

func toResponse(resp *genai.GenerateContentResponse) (*model.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini api error: empty response")
	}
	cand := resp.Candidates[0]
	var parts []core.Part
	if cand.Content != nil {
		n := 0
		for _, p := range cand.Content.Parts {
			if p.Text != "" && !p.Thought {
				parts = append(parts, core.TextPart{Text: p.Text})
			}
			if p.FunctionCall != nil {
				parts = append(parts, core.FunctionCallPart{FunctionCall: toFunctionCall(p.FunctionCall, n)})
				n++
			}
		}
	}
	finish := "stop"
	if cand.FinishReason != "" {
		finish = strings.ToLower(string(cand.FinishReason))
	}
	return &model.Response{
		ID:           resp.ResponseID,
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: finish,
		Usage:        usage(resp),
	}, nil
}

// toFunctionCall normalizes a genai call. Gemini may omit call IDs; a
// positional one keeps responses matched to their calls.
func toFunctionCall(fc *genai.FunctionCall, idx int) core.FunctionCall {
	args, err := json.MarshalToString(fc.Args)
	if err != nil || fc.Args == nil {
		args = "{}"
	}
	id := fc.ID
	if id == "" {
		id = fmt.Sprintf("call_%s_%d", fc.Name, idx)
	}
	return core.FunctionCall{ID: id, Name: fc.Name, Arguments: args}
}

func usage(resp *genai.GenerateContentResponse) *model.TokenUsage {
	if resp.UsageMetadata == nil {
		return nil
	}
	return &model.TokenUsage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

// toSchema converts the JSON Schema subset produced by capabilities.
func toSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if pm, ok := prop.(map[string]any); ok {
				s.Properties[name] = toSchema(pm)
			}
		}
	}
	switch req := schema["required"].(type) {
	case []string:
		s.Required = req
	case []any:
		for _, r := range req {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	return s
}

// Info returns metadata describing this model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "gemini", SupportsTools: true}
}

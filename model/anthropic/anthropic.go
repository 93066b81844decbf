// Package anthropic adapts the Anthropic Messages API to model.Model.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	jsoniter "github.com/json-iterator/go"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	MaxRetries  int
}

// Model wraps the Anthropic Messages API behind model.Model.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model. Without an explicit APIKey the SDK
// reads ANTHROPIC_API_KEY.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	clientOpts := []option.RequestOption{option.WithMaxRetries(opts.MaxRetries)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.2,
		MaxTokens:   2048,
		MaxRetries:  2,
	}
}

// Generate implements model.Model. Streaming requests are answered with a
// single final response; model.Drain forwards its text as one token.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    buildMessages(req.Contents),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}
		if req.Instructions != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
		}
		if req.HasTools() {
			params.Tools = buildTools(req.Tools)
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		var parts []core.Part
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				if txt := block.AsText().Text; txt != "" {
					parts = append(parts, core.TextPart{Text: txt})
				}
			case "tool_use":
				tu := block.AsToolUse()
				args := "{}"
				if len(tu.Input) > 0 {
					args = string(tu.Input)
				}
				parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: tu.ID, Name: tu.Name, Arguments: args}})
			}
		}

		finish := "stop"
		if resp.StopReason != "" {
			finish = string(resp.StopReason)
		}
		out <- model.Response{
			ID:           resp.ID,
			Content:      core.Content{Role: "assistant", Parts: parts},
			FinishReason: finish,
			Usage: &model.TokenUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		}
	}()

	return out, errCh
}

// buildMessages converts contents to Anthropic messages. Function responses
// travel as tool_result blocks inside a user message.
func buildMessages(contents []core.Content) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, c := range contents {
		var blocks []anthropic.ContentBlockParamUnion
		switch c.Role {
		case "assistant":
			for _, p := range c.Parts {
				switch part := p.(type) {
				case core.TextPart:
					if part.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(part.Text))
					}
				case core.FunctionCallPart:
					var input any = map[string]any{}
					if part.FunctionCall.Arguments != "" {
						if err := json.Unmarshal([]byte(part.FunctionCall.Arguments), &input); err != nil {
							input = map[string]any{"raw": part.FunctionCall.Arguments}
						}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, input, part.FunctionCall.Name))
				}
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			for _, fr := range c.FunctionResponses() {
				blocks = append(blocks, anthropic.NewToolResultBlock(fr.ID, fr.Response, fr.Failed))
			}
			if len(blocks) == 0 && c.Text() != "" {
				blocks = append(blocks, anthropic.NewTextBlock("Earlier capability result: "+c.Text()))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		default:
			if txt := c.Text(); txt != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(txt)))
			}
		}
	}
	return messages
}

func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, def := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if params := def.Function.Parameters; params != nil {
			schema.Properties = params["properties"]
			switch req := params["required"].(type) {
			case []string:
				schema.Required = req
			case []any:
				for _, r := range req {
					if s, ok := r.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Function.Name)
		if tool.OfTool != nil && def.Function.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Function.Description)
		}
		out[i] = tool
	}
	return out
}

// Info returns metadata describing this model.
func (m *Model) Info() model.Info {
	return model.Info{Name: string(m.opts.Model), Provider: "anthropic", SupportsTools: true}
}

package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/concierge/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NewFunctionTool is a shorthand for a function ToolDefinition.
func NewFunctionTool(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{
		Type:     "function",
		Function: FunctionDefinition{Name: name, Description: description, Parameters: parameters},
	}
}

// Request captures the normalized model input produced by agents.
type Request struct {
	Instructions string           `json:"instructions"`
	Contents     []core.Content   `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// HasTools reports whether any function is exposed.
func (r *Request) HasTools() bool { return len(r.Tools) > 0 }

// LastUserText returns the text of the most recent user content.
func (r *Request) LastUserText() string {
	for i := len(r.Contents) - 1; i >= 0; i-- {
		if r.Contents[i].Role == "user" {
			return r.Contents[i].Text()
		}
	}
	return ""
}

// TurnResponses returns the function responses that follow the most recent
// user content, i.e. the capability outputs produced in the current turn.
func (r *Request) TurnResponses() []core.FunctionResponse {
	var out []core.FunctionResponse
	for i := len(r.Contents) - 1; i >= 0; i-- {
		c := r.Contents[i]
		if c.Role == "user" {
			break
		}
		if c.Role == "tool" {
			out = append(c.FunctionResponses(), out...)
		}
	}
	return out
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
// Partial chunks carry incremental text only; the final chunk carries the
// complete content including any function calls.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Text returns the concatenated text parts.
func (r *Response) Text() string { return r.Content.Text() }

// FunctionCalls returns the function calls requested by the model.
func (r *Response) FunctionCalls() []core.FunctionCall { return r.Content.FunctionCalls() }

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "gemini", "rulebased"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the narrow interface to the external generation service.
//
// Generate streams zero or more partial responses followed by exactly one
// final response on the first channel, or a single error on the second.
// Both channels are closed when generation ends.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Drain consumes a Generate call and returns its final response. Partial text
// chunks are handed to onPartial (may be nil) in arrival order.
func Drain(ctx context.Context, respCh <-chan Response, errCh <-chan error, onPartial func(string)) (*Response, error) {
	var final *Response
	var streamed strings.Builder
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if txt := resp.Text(); txt != "" {
					streamed.WriteString(txt)
					if onPartial != nil {
						onPartial(txt)
					}
				}
				continue
			}
			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		}
	}
	if final == nil {
		return nil, fmt.Errorf("model returned no final response")
	}
	// Providers that do not stream still owe the listener the text.
	if onPartial != nil && streamed.Len() == 0 {
		if txt := final.Text(); txt != "" {
			onPartial(txt)
		}
	}
	return final, nil
}

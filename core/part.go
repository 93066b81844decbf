package core

import "strings"

// Part is a sealed sum type for the building blocks of model request and
// response content. Only the variants below implement it.
type Part interface{ isPart() }

// TextPart carries plain UTF-8 text.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// FunctionCall is a model request to invoke a named capability.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // JSON object
}

// FunctionCallPart wraps a FunctionCall inside content.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

func (FunctionCallPart) isPart() {}

// FunctionResponse is the textual outcome of a FunctionCall, fed back to the model.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"` // matches FunctionCall.ID
	Name     string `json:"name"`
	Response string `json:"response"`
	Failed   bool   `json:"failed,omitempty"`
}

// FunctionResponsePart wraps a FunctionResponse inside content.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

func (FunctionResponsePart) isPart() {}

// Content is an ordered, role-tagged list of parts as exchanged with a model.
// Roles are "system", "user", "assistant" and "tool".
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// NewTextContent builds single-part text content for the given role.
func NewTextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all text parts.
func (c Content) Text() string {
	var b strings.Builder
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// FunctionCalls returns the function call parts in order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function response parts in order.
func (c Content) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, p := range c.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

package testutil

import (
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/model"
)

// ContentBuilder provides a fluent helper for constructing model request
// contents in tests.
//
//	req := NewContentBuilder().User("weather in Oslo?").Call("c1", "get_weather", `{"location":"Oslo"}`).
//		Response("c1", "get_weather", "Oslo: 12°C", false).Request()
type ContentBuilder struct {
	contents []core.Content
}

// NewContentBuilder creates an empty builder.
func NewContentBuilder() *ContentBuilder { return &ContentBuilder{} }

// User appends user text (chainable).
func (b *ContentBuilder) User(text string) *ContentBuilder {
	b.contents = append(b.contents, core.NewTextContent("user", text))
	return b
}

// Assistant appends assistant text (chainable).
func (b *ContentBuilder) Assistant(text string) *ContentBuilder {
	b.contents = append(b.contents, core.NewTextContent("assistant", text))
	return b
}

// Call appends an assistant function call (chainable).
func (b *ContentBuilder) Call(id, name, args string) *ContentBuilder {
	b.contents = append(b.contents, core.Content{Role: "assistant", Parts: []core.Part{
		core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Arguments: args}},
	}})
	return b
}

// Response appends a tool function response (chainable).
func (b *ContentBuilder) Response(id, name, response string, failed bool) *ContentBuilder {
	b.contents = append(b.contents, core.Content{Role: "tool", Parts: []core.Part{
		core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: id, Name: name, Response: response, Failed: failed}},
	}})
	return b
}

// Contents returns a copy of the accumulated contents.
func (b *ContentBuilder) Contents() []core.Content {
	return append([]core.Content(nil), b.contents...)
}

// Request wraps the contents in a model.Request.
func (b *ContentBuilder) Request() *model.Request {
	return &model.Request{Contents: b.Contents()}
}

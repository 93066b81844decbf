package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge/capability"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/internal/testutil"
	"github.com/hupe1980/concierge/model"
)

// Interface compliance (compile-time assertion)
var (
	_ ModelStep      = (*Logging)(nil)
	_ CapabilityStep = (*Logging)(nil)
	_ CapabilityStep = (*FailureTranslation)(nil)
	_ ModelStep      = (*Grounding)(nil)
)

type traceStep struct {
	name  string
	trace *[]string
}

func (s traceStep) Name() string { return s.name }

func (s traceStep) AroundModel(ctx context.Context, call *ModelCall, next ModelHandler) (*model.Response, error) {
	*s.trace = append(*s.trace, s.name+":before")
	resp, err := next(ctx, call)
	*s.trace = append(*s.trace, s.name+":after")
	return resp, err
}

type panicStep struct{}

func (panicStep) Name() string { return "boom" }

func (panicStep) AroundModel(context.Context, *ModelCall, ModelHandler) (*model.Response, error) {
	panic("step exploded")
}

func (panicStep) AroundCapability(context.Context, *CapabilityCall, CapabilityHandler) (CapabilityResult, error) {
	panic("step exploded")
}

func textResponse(text string) ModelHandler {
	return func(context.Context, *ModelCall) (*model.Response, error) {
		return &model.Response{Content: core.NewTextContent("assistant", text), FinishReason: "stop"}, nil
	}
}

func weatherCap(fn capability.Func) *capability.FunctionCapability {
	return capability.NewFunction("get_weather", "weather service", "current weather", map[string]any{"type": "object"}, fn)
}

func TestPipeline_StepsNestInOrder(t *testing.T) {
	var trace []string
	p := New(traceStep{"outer", &trace}, traceStep{"inner", &trace})
	assert.Equal(t, []string{"outer", "inner"}, p.Steps())

	h := p.Model(func(ctx context.Context, call *ModelCall) (*model.Response, error) {
		trace = append(trace, "model")
		return textResponse("hi")(ctx, call)
	})
	_, err := h(context.Background(), &ModelCall{Request: &model.Request{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "model", "inner:after", "outer:after"}, trace)
}

func TestPipeline_PanickingStepAbortsAndIsLogged(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	p := New(NewLogging(logger), panicStep{})

	called := false
	h := p.Model(func(context.Context, *ModelCall) (*model.Response, error) {
		called = true
		return nil, nil
	})
	resp, err := h(context.Background(), &ModelCall{Agent: "supervisor", Request: &model.Request{}})
	assert.Nil(t, resp)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "boom", stepErr.Step)
	assert.False(t, called)
	assert.True(t, logger.Has("model.call.failed"), "logging still records the aborted attempt")
}

func TestPipeline_PanicInCapabilityStepIsNotTranslated(t *testing.T) {
	p := New(NewFailureTranslation(), panicStep{})
	h := p.Capability(Invoke)
	_, err := h(context.Background(), &CapabilityCall{Capability: weatherCap(func(context.Context, map[string]any) (string, error) {
		return "sunny", nil
	})})
	var stepErr *StepError
	assert.ErrorAs(t, err, &stepErr)
}

func TestLogging_RecordsShapeWithoutAltering(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	p := New(NewLogging(logger))
	req := testutil.NewContentBuilder().User("hi").Request()
	req.Tools = []model.ToolDefinition{model.NewFunctionTool("get_weather", "", nil)}

	h := p.Model(func(context.Context, *ModelCall) (*model.Response, error) {
		return &model.Response{Content: core.Content{Role: "assistant", Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "1", Name: "get_weather"}},
		}}}, nil
	})
	resp, err := h(context.Background(), &ModelCall{Agent: "weather", Model: "m", Request: req})
	require.NoError(t, err)
	assert.Len(t, resp.FunctionCalls(), 1)

	start := logger.Find("model.call.start")
	require.Len(t, start, 1)
	avail, _ := start[0].Attr("capabilities_available")
	assert.Equal(t, true, avail)

	done := logger.Find("model.call.completed")
	require.Len(t, done, 1)
	invoked, _ := done[0].Attr("capabilities_invoked")
	assert.Equal(t, []string{"get_weather"}, invoked)
}

func TestFailureTranslation_ApologizesWithServiceName(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	p := ForWorker(logger)
	h := p.Capability(Invoke)

	res, err := h(context.Background(), &CapabilityCall{
		Agent:  "weather",
		Logger: logger,
		Capability: weatherCap(func(context.Context, map[string]any) (string, error) {
			return "", errors.New("dial tcp 10.0.0.7:443: connection refused")
		}),
	})
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Contains(t, res.Output, "weather service")
	assert.NotContains(t, res.Output, "connection refused")
	assert.True(t, logger.Has("capability.call.translated"))
	assert.True(t, logger.Has("capability.call.degraded"))
}

func TestFailureTranslation_PassesSuccessThrough(t *testing.T) {
	h := New(NewFailureTranslation()).Capability(Invoke)
	res, err := h(context.Background(), &CapabilityCall{Capability: weatherCap(func(context.Context, map[string]any) (string, error) {
		return "Oslo: 12.3°C", nil
	})})
	require.NoError(t, err)
	assert.Equal(t, CapabilityResult{Output: "Oslo: 12.3°C"}, res)
}

func TestDefaultApology_ByCode(t *testing.T) {
	nf := DefaultApology("market data service", capability.NewError("get_quote", "unknown symbol", capability.CodeNotFound))
	assert.True(t, strings.HasPrefix(nf, "Sorry, the market data service"))
	assert.Contains(t, nf, "no information")

	generic := DefaultApology("weather service", errors.New("boom"))
	assert.Equal(t, "Sorry, the weather service is unavailable right now.", generic)
}

func TestGrounding_WarnsOnUnusedOutputAndInventedFigures(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	var got []Warning
	g := NewGrounding(logger, func(o *GroundingOptions) {
		o.OnWarning = func(w Warning) { got = append(got, w) }
	})
	req := testutil.NewContentBuilder().
		User("Weather in Oslo?").
		Call("c1", "ask-weather-specialist", `{}`).
		Response("c1", "ask-weather-specialist", "Oslo, Norway: 12.3°C, rain", false).
		Request()

	h := New(g).Model(textResponse("It is sunny and 25 degrees."))
	resp, err := h(context.Background(), &ModelCall{Agent: "supervisor", Request: req})
	require.NoError(t, err)
	assert.Equal(t, "It is sunny and 25 degrees.", resp.Text(), "grounding never rewrites")

	kinds := map[WarningKind]int{}
	for _, w := range got {
		kinds[w.Kind]++
		assert.Equal(t, "supervisor", w.Agent)
	}
	assert.Equal(t, 1, kinds[WarningUnusedOutput])
	assert.Equal(t, 1, kinds[WarningUngroundedFigure])
	assert.Len(t, logger.Find("grounding.warning"), 2)
}

func TestGrounding_QuietWhenGrounded(t *testing.T) {
	outputs := []core.FunctionResponse{{Name: "ask-weather-specialist", Response: "Oslo, Norway: 12.3°C, rain"}}
	assert.Empty(t, Check("Right now Oslo has 12.3°C with rain.", "What's the weather in Oslo?", outputs))
}

func TestGrounding_IgnoresFailedOutputsAndTurnsWithoutCapabilities(t *testing.T) {
	failed := []core.FunctionResponse{{Name: "ask-weather-specialist", Response: "Sorry, the weather service is unavailable right now.", Failed: true}}
	assert.Empty(t, Check("I'm sorry, I could not reach the weather service.", "weather?", failed))
	assert.Empty(t, Check("Paris has 2 million inhabitants.", "Tell me about Paris", nil))
}

func TestGrounding_FiguresFromUserTextAreKnown(t *testing.T) {
	outputs := []core.FunctionResponse{{Name: "ask-knowledge-specialist", Response: "Vacation policy: employees get 25 days of paid vacation."}}
	assert.Empty(t, Check("You get 25 days, so 2026 is covered.", "Is my 2026 vacation covered?", outputs))
}

func TestGrounding_SkipsResponsesWithFunctionCalls(t *testing.T) {
	var got []Warning
	g := NewGrounding(nil, func(o *GroundingOptions) { o.OnWarning = func(w Warning) { got = append(got, w) } })
	req := testutil.NewContentBuilder().User("x").Response("c1", "cap", "42 apples", false).Request()
	h := New(g).Model(func(context.Context, *ModelCall) (*model.Response, error) {
		return &model.Response{Content: core.Content{Role: "assistant", Parts: []core.Part{
			core.TextPart{Text: "99 pears"},
			core.FunctionCallPart{FunctionCall: core.FunctionCall{Name: "cap"}},
		}}}, nil
	})
	_, err := h(context.Background(), &ModelCall{Request: req})
	require.NoError(t, err)
	assert.Empty(t, got)
}

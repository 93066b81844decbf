package agent

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge/capability"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/internal/testutil"
	"github.com/hupe1980/concierge/model"
)

func TestNewWorker_ConfigurationErrors(t *testing.T) {
	c := fakeWeather(okWeather)

	_, err := NewWorker("", weatherWorkerModel(), c)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = NewWorker("weather", nil, c)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = NewWorker("weather", weatherWorkerModel(), nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	unnamed := capability.NewFunction("get_weather", "", "", nil, okWeather)
	_, err = NewWorker("weather", weatherWorkerModel(), unnamed)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestWorker_Identity(t *testing.T) {
	w := newTestWorker(t, "weather", weatherWorkerModel(), fakeWeather(okWeather))

	assert.Equal(t, "weather", w.Name())
	assert.Equal(t, "ask-weather-specialist", w.Tool())
	assert.Equal(t, "weather service", w.ServiceName())
	assert.Equal(t, "Current weather for a city.", w.Description())

	def := w.Definition()
	assert.Equal(t, "ask-weather-specialist", def.Function.Name)
	assert.Equal(t, []string{"request"}, def.Function.Parameters["required"])
}

func TestWorker_ResolveUsesCapability(t *testing.T) {
	w := newTestWorker(t, "weather", weatherWorkerModel(), fakeWeather(okWeather))

	ans, err := w.Resolve(context.Background(), "What is the weather in Oslo?")
	require.NoError(t, err)

	assert.Equal(t, "Oslo: 12°C, partly cloudy, wind 9 km/h", ans.Text)
	assert.True(t, ans.CapabilityCalled)
	assert.False(t, ans.CapabilityFailed)
}

func TestWorker_ResolveWithoutCapability(t *testing.T) {
	w := newTestWorker(t, "weather", weatherWorkerModel(), fakeWeather(okWeather))

	ans, err := w.Resolve(context.Background(), "Tell me a joke")
	require.NoError(t, err)

	assert.False(t, ans.CapabilityCalled)
	assert.NotEmpty(t, ans.Text)
}

func TestWorker_CapabilityFailureBecomesApology(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	w := newTestWorker(t, "weather", weatherWorkerModel(), fakeWeather(brokenWeather), func(o *WorkerOptions) {
		o.Logger = logger
	})

	ans, err := w.Resolve(context.Background(), "What is the weather in Oslo?")
	require.NoError(t, err)

	assert.True(t, ans.CapabilityCalled)
	assert.True(t, ans.CapabilityFailed)
	assert.Equal(t, "Sorry, the weather service is unavailable right now.", ans.Text)
	assert.NotContains(t, ans.Text, "502")
	assert.True(t, logger.Has("capability.call.translated"))
}

func TestWorker_AtMostOneCapabilityCall(t *testing.T) {
	var invocations atomic.Int32
	c := fakeWeather(func(ctx context.Context, args map[string]any) (string, error) {
		invocations.Add(1)
		return okWeather(ctx, args)
	})

	llm := &testutil.MockModel{}
	first := &model.Response{Content: core.Content{Role: "assistant", Parts: []core.Part{
		core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "get_weather", Arguments: `{"location":"Oslo"}`}},
		core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c2", Name: "get_weather", Arguments: `{"location":"Bergen"}`}},
	}}}
	var followUp model.Request
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req model.Request) bool { return req.HasTools() })).
		Return(first, nil).Once()
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req model.Request) bool { return !req.HasTools() })).
		Run(func(args mock.Arguments) { followUp = args.Get(1).(model.Request) }).
		Return(&model.Response{Content: core.NewTextContent("assistant", "Oslo is 12°C.")}, nil).Once()

	w := newTestWorker(t, "weather", weatherWorkerModel(), c)
	w.llm = llm

	ans, err := w.Resolve(context.Background(), "weather in Oslo and Bergen")
	require.NoError(t, err)

	assert.Equal(t, int32(1), invocations.Load())
	assert.Equal(t, "Oslo is 12°C.", ans.Text)

	responses := followUp.TurnResponses()
	require.Len(t, responses, 2)
	assert.False(t, responses[0].Failed)
	assert.True(t, responses[1].Failed)
	assert.Contains(t, responses[1].Response, "Not executed")
	llm.AssertExpectations(t)
}

func TestWorker_UnknownNameKeepsCapability(t *testing.T) {
	var invocations atomic.Int32
	c := fakeWeather(func(ctx context.Context, args map[string]any) (string, error) {
		invocations.Add(1)
		return okWeather(ctx, args)
	})

	var retry model.Request
	llm := &testutil.MockModel{}
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req model.Request) bool { return req.HasTools() })).
		Return(&model.Response{Content: core.Content{Role: "assistant", Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "get_forecast", Arguments: `{"location":"Oslo"}`}},
		}}}, nil).Once()
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req model.Request) bool { return req.HasTools() })).
		Run(func(args mock.Arguments) { retry = args.Get(1).(model.Request) }).
		Return(&model.Response{Content: core.Content{Role: "assistant", Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c2", Name: "get_weather", Arguments: `{"location":"Oslo"}`}},
		}}}, nil).Once()
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req model.Request) bool { return !req.HasTools() })).
		Return(&model.Response{Content: core.NewTextContent("assistant", "Oslo is 12°C.")}, nil).Once()

	w := newTestWorker(t, "weather", weatherWorkerModel(), c)
	w.llm = llm

	ans, err := w.Resolve(context.Background(), "weather in Oslo")
	require.NoError(t, err)
	assert.Equal(t, int32(1), invocations.Load())
	assert.True(t, ans.CapabilityCalled)
	assert.Equal(t, "Oslo is 12°C.", ans.Text)

	responses := retry.TurnResponses()
	require.Len(t, responses, 1)
	assert.True(t, responses[0].Failed)
	assert.Contains(t, responses[0].Response, "Unknown capability get_forecast")
	assert.NotContains(t, responses[0].Response, "Not executed")
	llm.AssertExpectations(t)
}

func TestWorker_RepeatedUnknownNamesWithdrawCapability(t *testing.T) {
	unknown := &model.Response{Content: core.Content{Role: "assistant", Parts: []core.Part{
		core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "get_forecast", Arguments: `{}`}},
	}}}
	llm := &testutil.MockModel{}
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req model.Request) bool { return req.HasTools() })).
		Return(unknown, nil).Twice()
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req model.Request) bool { return !req.HasTools() })).
		Return(&model.Response{Content: core.NewTextContent("assistant", "I could not look that up.")}, nil).Once()

	w := newTestWorker(t, "weather", weatherWorkerModel(), fakeWeather(okWeather))
	w.llm = llm

	ans, err := w.Resolve(context.Background(), "weather in Oslo")
	require.NoError(t, err)
	assert.False(t, ans.CapabilityCalled)
	assert.Equal(t, "I could not look that up.", ans.Text)
	llm.AssertExpectations(t)
}

func TestWorker_EmptyAnswerFallsBackToOutput(t *testing.T) {
	llm := &testutil.MockModel{}
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req model.Request) bool { return req.HasTools() })).
		Return(&model.Response{Content: core.Content{Role: "assistant", Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "get_weather", Arguments: `{"location":"Oslo"}`}},
		}}}, nil).Once()
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(&model.Response{Content: core.NewTextContent("assistant", "  ")}, nil).Once()

	w := newTestWorker(t, "weather", weatherWorkerModel(), fakeWeather(okWeather))
	w.llm = llm

	ans, err := w.Resolve(context.Background(), "weather in Oslo")
	require.NoError(t, err)
	assert.Equal(t, "Oslo: 12°C, partly cloudy, wind 9 km/h", ans.Text)
}

func TestWorker_EmptyAnswerIsGenerationError(t *testing.T) {
	llm := &testutil.MockModel{}
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(&model.Response{Content: core.NewTextContent("assistant", "")}, nil)

	w := newTestWorker(t, "weather", weatherWorkerModel(), fakeWeather(okWeather))
	w.llm = llm

	_, err := w.Resolve(context.Background(), "hello")
	assert.ErrorIs(t, err, core.ErrGeneration)
}

func TestWorker_ModelErrorIsGenerationError(t *testing.T) {
	llm := &testutil.MockModel{}
	llm.On("Generate", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	w := newTestWorker(t, "weather", weatherWorkerModel(), fakeWeather(okWeather))
	w.llm = llm

	_, err := w.Resolve(context.Background(), "weather in Oslo")
	assert.ErrorIs(t, err, core.ErrGeneration)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWorker_ModelCallLimit(t *testing.T) {
	w := newTestWorker(t, "weather", weatherWorkerModel(), fakeWeather(okWeather), func(o *WorkerOptions) {
		o.MaxModelCalls = 1
	})

	_, err := w.Resolve(context.Background(), "What is the weather in Oslo?")
	assert.ErrorIs(t, err, core.ErrGeneration)
}

func TestWorker_AsCapability(t *testing.T) {
	w := newTestWorker(t, "weather", weatherWorkerModel(), fakeWeather(okWeather))
	c := w.AsCapability()

	assert.Equal(t, "ask-weather-specialist", c.Name())
	assert.Equal(t, "weather service", c.ServiceName())

	out, err := c.Invoke(context.Background(), map[string]any{"request": "weather in Oslo"})
	require.NoError(t, err)
	assert.Contains(t, out, "12°C")
}

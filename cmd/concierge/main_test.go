package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge"
	"github.com/hupe1980/concierge/config"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/internal/testutil"
)

func offlineApp(t *testing.T) *concierge.Concierge {
	t.Helper()
	cfg := config.Default()
	cfg.Capabilities.Weather.Enabled = false
	cfg.Metrics.Enabled = false

	app, err := concierge.New(context.Background(), cfg, func(o *concierge.Options) {
		o.Logger = testutil.NewRecordingLogger()
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func TestAsk_StreamsAnswer(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := &AskCmd{Session: "cli", Question: []string{"What", "is", "the", "stock", "price", "of", "ACME?"}, out: &out, errOut: &errOut}

	require.NoError(t, cmd.ask(context.Background(), offlineApp(t)))

	assert.Contains(t, out.String(), "123.45")
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
	assert.Contains(t, errOut.String(), "-> prices")
	assert.Contains(t, errOut.String(), "<- prices (ok)")
}

func TestAsk_JSONLines(t *testing.T) {
	var out bytes.Buffer
	cmd := &AskCmd{Session: "cli", JSON: true, Question: []string{"hello"}, out: &out, errOut: &bytes.Buffer{}}

	require.NoError(t, cmd.ask(context.Background(), offlineApp(t)))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)
	var last core.TurnEvent
	require.NoError(t, json.UnmarshalFromString(lines[len(lines)-1], &last))
	assert.Equal(t, core.EventTurnDone, last.Type)
}

func TestAsk_InvalidRequest(t *testing.T) {
	cmd := &AskCmd{Session: "cli", Question: nil, out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}

	err := cmd.ask(context.Background(), offlineApp(t))
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestCLI_LoadOverrides(t *testing.T) {
	cli := &CLI{Provider: "gemini", LogLevel: "debug"}
	cfg, err := cli.load()
	require.NoError(t, err)
	assert.Equal(t, config.ProviderGemini, cfg.Model.Provider)
	assert.Equal(t, "debug", cfg.Logging.Level)

	cli = &CLI{Provider: "llama"}
	_, err = cli.load()
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, version())
}

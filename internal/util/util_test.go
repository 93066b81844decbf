package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherArgs struct {
	Location string  `json:"location" description:"City name"`
	Units    string  `json:"units,omitempty" enum:"metric,imperial"`
	Days     *int    `json:"days"`
	Ignored  string  `json:"-"`
	Lat      float64 `json:"lat,omitempty"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(weatherArgs{})
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "location")
	assert.Contains(t, props, "units")
	assert.NotContains(t, props, "Ignored")
	assert.Equal(t, []string{"metric", "imperial"}, props["units"].(map[string]any)["enum"])
	assert.Equal(t, []string{"location"}, RequiredFields(schema))
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"location": map[string]any{"type": "string"},
			"units":    map[string]any{"type": "string", "enum": []any{"metric", "imperial"}},
			"days":     map[string]any{"type": "integer"},
		},
		"required": []any{"location"},
	}

	require.NoError(t, ValidateParameters(map[string]any{"location": "Oslo", "days": float64(3)}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "location", vErr.Field)

	err = ValidateParameters(map[string]any{"location": "  "}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "empty")

	err = ValidateParameters(map[string]any{"location": "Oslo", "days": 1.5}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "days", vErr.Field)

	err = ValidateParameters(map[string]any{"location": "Oslo", "units": "kelvin"}, schema)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "metric")
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)

	out, err = RenderTemplate(`You route to: {{join ", " .workers}}. Today is {{default "unknown" .date}}.`, map[string]any{
		"workers": []string{"weather", "prices"},
	})
	require.NoError(t, err)
	assert.Equal(t, "You route to: weather, prices. Today is unknown.", out)

	_, err = RenderTemplate("{{ .broken", nil)
	assert.Error(t, err)
}

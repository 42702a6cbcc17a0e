package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherArgs struct {
	Location string `json:"location" required:"true" description:"The location to get the weather for"`
	Unit     string `json:"unit,omitempty" enum:"celsius,fahrenheit"`
	Days     int    `json:"days,omitempty" minimum:"1"`
}

type tripArgs struct {
	Traveller struct {
		Name string `json:"name" required:"true"`
	} `json:"traveller" required:"true"`
	Stops []string `json:"stops"`
}

func TestFromStruct(t *testing.T) {
	t.Parallel()

	p, err := FromStruct(weatherArgs{})
	require.NoError(t, err)

	obj, ok := p.(Object)
	require.True(t, ok, "expected object, got %T", p)
	assert.Equal(t, []string{"location"}, obj.Required)

	location, ok := obj.Properties["location"].(String)
	require.True(t, ok)
	assert.Equal(t, "The location to get the weather for", location.Description)

	assert.Equal(t, KindInteger, obj.Properties["days"].Kind())

	require.NoError(t, NewFunction("weather", "", p).Validate())
}

func TestFromStructNested(t *testing.T) {
	t.Parallel()

	p, err := FromStruct(tripArgs{})
	require.NoError(t, err)

	obj := p.(Object)
	traveller, ok := obj.Properties["traveller"].(Object)
	require.True(t, ok, "expected inlined object, got %T", obj.Properties["traveller"])
	assert.True(t, traveller.IsRequired("name"))

	stops, ok := obj.Properties["stops"].(Array)
	require.True(t, ok)
	assert.Equal(t, KindString, stops.Items.Kind())
}

func TestFromStructRejectsScalars(t *testing.T) {
	t.Parallel()

	_, err := FromStruct("not a struct")
	assert.Error(t, err)
}

func TestToMap(t *testing.T) {
	t.Parallel()

	m, err := ToMap(weatherTool().Function.Parameters)
	require.NoError(t, err)

	assert.Equal(t, "object", m["type"])
	assert.Equal(t, []any{"location"}, m["required"])
	props, ok := m["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "location")
}

func TestCompile(t *testing.T) {
	t.Parallel()

	compiled, err := Compile(Object{
		Properties: map[string]Parameter{
			"location": String{},
			"unit":     String{Enum: []string{"celsius", "fahrenheit"}},
		},
		Required: []string{"location"},
	})
	require.NoError(t, err)

	assert.NoError(t, compiled.Validate(map[string]any{"location": "Paris", "unit": "celsius"}))
	assert.Error(t, compiled.Validate(map[string]any{"unit": "celsius"}))
	assert.Error(t, compiled.Validate(map[string]any{"location": "Paris", "unit": "kelvin"}))
}

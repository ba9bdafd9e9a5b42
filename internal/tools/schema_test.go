package tools

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaForStruct(t *testing.T) {
	type args struct {
		Location string   `json:"location" desc:"City name"`
		Days     int      `json:"days,omitempty" desc:"Forecast window"`
		Units    *string  `json:"units"`
		Tags     []string `json:"tags,omitempty"`
		hidden   bool
		Skipped  string `json:"-"`
	}
	_ = args{hidden: false}

	schema, err := SchemaFor(reflect.TypeFor[args]())
	require.NoError(t, err)

	assert.Equal(t, "object", schema.Type)
	assert.Len(t, schema.Properties, 4)
	assert.Equal(t, []string{"location"}, schema.Required)

	assert.Equal(t, "string", schema.Properties["location"].Type)
	assert.Equal(t, "City name", schema.Properties["location"].Description)
	assert.Equal(t, "integer", schema.Properties["days"].Type)
	assert.Equal(t, "string", schema.Properties["units"].Type)
	assert.Equal(t, "array", schema.Properties["tags"].Type)
	assert.Equal(t, "string", schema.Properties["tags"].Items.Type)

	assert.NotContains(t, schema.Properties, "hidden")
	assert.NotContains(t, schema.Properties, "Skipped")
}

func TestSchemaForScalars(t *testing.T) {
	tests := []struct {
		typ  reflect.Type
		want string
	}{
		{reflect.TypeFor[string](), "string"},
		{reflect.TypeFor[int64](), "integer"},
		{reflect.TypeFor[float64](), "number"},
		{reflect.TypeFor[bool](), "boolean"},
	}
	for _, tt := range tests {
		schema, err := SchemaFor(tt.typ)
		require.NoError(t, err)
		assert.Equal(t, tt.want, schema.Type)
	}
}

func TestSchemaForMap(t *testing.T) {
	schema, err := SchemaFor(reflect.TypeFor[map[string]int]())
	require.NoError(t, err)
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, "integer", schema.AdditionalProperties.Type)

	_, err = SchemaFor(reflect.TypeFor[map[int]string]())
	assert.ErrorContains(t, err, "map keys must be strings")
}

func TestSchemaForUnsupportedTypes(t *testing.T) {
	_, err := SchemaFor(reflect.TypeFor[chan int]())
	assert.ErrorContains(t, err, "unsupported parameter type")

	type bad struct {
		F func() `json:"f"`
	}
	_, err = SchemaFor(reflect.TypeFor[bad]())
	assert.ErrorContains(t, err, "field F")
}

func TestSchemaForNestedStruct(t *testing.T) {
	type inner struct {
		Street string `json:"street"`
	}
	type outer struct {
		Address inner `json:"address"`
	}

	schema, err := SchemaFor(reflect.TypeFor[outer]())
	require.NoError(t, err)
	require.Contains(t, schema.Properties, "address")
	assert.Equal(t, "object", schema.Properties["address"].Type)
	assert.Equal(t, "string", schema.Properties["address"].Properties["street"].Type)
}

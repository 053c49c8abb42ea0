package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	return &Schema{
		Name: "test_output",
		Root: Object(map[string]*Property{
			"name":  {Type: "string"},
			"score": {Type: "number", Minimum: Float(0), Maximum: Float(1)},
			"count": {Type: "integer", Minimum: Float(1)},
			"tags": {Type: "array", Items: &Property{
				Type: "string",
			}},
		}),
	}
}

func TestSchemaNormalize(t *testing.T) {
	t.Run("passes well-formed output through", func(t *testing.T) {
		out, err := testSchema().Normalize([]byte(
			`{"name":"rates","score":0.7,"count":3,"tags":["a","b"]}`))
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(out, &doc))
		assert.Equal(t, "rates", doc["name"])
		assert.Equal(t, 0.7, doc["score"])
		assert.Equal(t, float64(3), doc["count"])
	})

	t.Run("coerces numeric strings", func(t *testing.T) {
		out, err := testSchema().Normalize([]byte(
			`{"name":"x","score":"0.45","count":"2","tags":[]}`))
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(out, &doc))
		assert.Equal(t, 0.45, doc["score"])
		assert.Equal(t, float64(2), doc["count"])
	})

	t.Run("clamps to declared bounds", func(t *testing.T) {
		out, err := testSchema().Normalize([]byte(
			`{"name":"x","score":1.8,"count":0,"tags":[]}`))
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(out, &doc))
		assert.Equal(t, 1.0, doc["score"])
		assert.Equal(t, float64(1), doc["count"])
	})

	t.Run("rounds integers", func(t *testing.T) {
		out, err := testSchema().Normalize([]byte(
			`{"name":"x","score":0.5,"count":2.6,"tags":[]}`))
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(out, &doc))
		assert.Equal(t, float64(3), doc["count"])
	})

	t.Run("drops unknown fields", func(t *testing.T) {
		out, err := testSchema().Normalize([]byte(
			`{"name":"x","score":0.5,"count":1,"tags":[],"extra":"ignored"}`))
		require.NoError(t, err)
		assert.NotContains(t, string(out), "extra")
	})

	t.Run("rejects missing required field", func(t *testing.T) {
		_, err := testSchema().Normalize([]byte(`{"name":"x","score":0.5,"tags":[]}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "count")
	})

	t.Run("rejects wrong types", func(t *testing.T) {
		_, err := testSchema().Normalize([]byte(
			`{"name":42,"score":0.5,"count":1,"tags":[]}`))
		require.Error(t, err)

		_, err = testSchema().Normalize([]byte(
			`{"name":"x","score":"not a number","count":1,"tags":[]}`))
		require.Error(t, err)
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		_, err := testSchema().Normalize([]byte(`{`))
		require.Error(t, err)
	})

	t.Run("validates enum strings", func(t *testing.T) {
		s := &Schema{Root: Object(map[string]*Property{
			"kind": {Type: "string", Enum: []string{"yes", "no"}},
		})}
		_, err := s.Normalize([]byte(`{"kind":"maybe"}`))
		require.Error(t, err)

		out, err := s.Normalize([]byte(`{"kind":"yes"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"kind":"yes"}`, string(out))
	})
}

func TestSchemaRender(t *testing.T) {
	doc := testSchema().JSONSchema()
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, false, doc["additionalProperties"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "score")

	score := props["score"].(map[string]any)
	assert.Equal(t, 0.0, score["minimum"])
	assert.Equal(t, 1.0, score["maximum"])

	required, ok := doc["required"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"name", "score", "count", "tags"}, required)
}

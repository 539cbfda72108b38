package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetFieldsCreatesIntermediateObjects(t *testing.T) {
	doc := map[string]any{"score": float64(1)}

	err := SetFields(doc, map[string]any{"a.b.c": "x"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"score": float64(1),
		"a": map[string]any{
			"b": map[string]any{"c": "x"},
		},
	}, doc)
}

func TestSetFieldsMergesIntoExistingObjects(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{"keep": true, "b": map[string]any{"old": "v"}},
	}

	require.NoError(t, SetFields(doc, map[string]any{
		"a.b.new": float64(2),
		"top":     "level",
	}))

	a := doc["a"].(map[string]any)
	assert.Equal(t, true, a["keep"])
	assert.Equal(t, map[string]any{"old": "v", "new": float64(2)}, a["b"])
	assert.Equal(t, "level", doc["top"])
}

func TestSetFieldsReplacesWholeValue(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": "c"}}

	require.NoError(t, SetFields(doc, map[string]any{"a": []any{"x"}}))
	assert.Equal(t, []any{"x"}, doc["a"])
}

func TestSetFieldsPathConflict(t *testing.T) {
	doc := map[string]any{"a": float64(1)}

	err := SetFields(doc, map[string]any{"a.b": "x"})
	assert.ErrorIs(t, err, ErrPathConflict)
	assert.Equal(t, float64(1), doc["a"])
}

func TestSetFieldsInvalidPath(t *testing.T) {
	for _, path := range []string{"a..b", ".a", "a.", ""} {
		t.Run(path, func(t *testing.T) {
			err := SetFields(map[string]any{}, map[string]any{path: 1})
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestSetFieldsIgnoresKeyField(t *testing.T) {
	doc := map[string]any{}
	require.NoError(t, SetFields(doc, map[string]any{KeyField: "other|key", "x": "y"}))
	assert.Equal(t, map[string]any{"x": "y"}, doc)
}

func TestSetFieldsIgnoresPathsBelowKeyField(t *testing.T) {
	doc := map[string]any{"v": 1}
	require.NoError(t, SetFields(doc, map[string]any{KeyField + ".x": "leak", "_idx": "kept"}))
	assert.Equal(t, map[string]any{"v": 1, "_idx": "kept"}, doc)
	assert.True(t, IsKeyPath(KeyField))
	assert.True(t, IsKeyPath(KeyField+".a.b"))
	assert.False(t, IsKeyPath("_idx"))
}

func TestStripKey(t *testing.T) {
	src := map[string]any{KeyField: "app|k1", "nested": map[string]any{"n": float64(1)}}

	out := StripKey(src)
	assert.Equal(t, map[string]any{"nested": map[string]any{"n": float64(1)}}, out)

	// deep copy: mutating the result leaves the source alone
	out["nested"].(map[string]any)["n"] = float64(2)
	assert.Equal(t, float64(1), src["nested"].(map[string]any)["n"])
	assert.Contains(t, src, KeyField)

	assert.Equal(t, map[string]any{}, StripKey(nil))
}

func TestClone(t *testing.T) {
	assert.Nil(t, Clone(nil))
	src := map[string]any{"list": []any{"a", map[string]any{"b": true}}}
	assert.Equal(t, src, Clone(src))
}

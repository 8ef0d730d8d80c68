package schema

import (
	"testing"

	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnionOrder(t *testing.T) {
	tests := []struct {
		name         string
		typ          string
		wantKind     Kind
		wantNullable bool
	}{
		{"null first", `["null", "integer"]`, KindInteger, true},
		{"null last", `["string", "null"]`, KindString, true},
		{"single element list", `["boolean"]`, KindBoolean, false},
		{"plain string", `"number"`, KindNumber, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, err := Parse([]byte(`{"type": "object", "properties": {"f": {"type": ` + tt.typ + `}}}`))
			require.NoError(t, err)
			require.Len(t, root.Properties, 1)
			assert.Equal(t, tt.wantKind, root.Properties[0].Kind)
			assert.Equal(t, tt.wantNullable, root.Properties[0].Nullable)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		schema   string
		wantPath string
	}{
		{
			name:     "two types without null",
			schema:   `{"properties": {"a": {"type": ["string", "integer"]}}}`,
			wantPath: "a",
		},
		{
			name:     "unknown type token",
			schema:   `{"properties": {"o": {"type": "object", "properties": {"x": {"type": "decimal"}}}}}`,
			wantPath: "o.x",
		},
		{
			name:     "missing type",
			schema:   `{"properties": {"a": {"format": "date-time"}}}`,
			wantPath: "a",
		},
		{
			name:     "array without items",
			schema:   `{"properties": {"tags": {"type": "array"}}}`,
			wantPath: "tags",
		},
		{
			name:     "nested arrays",
			schema:   `{"properties": {"m": {"type": "array", "items": {"type": "array", "items": {"type": "integer"}}}}}`,
			wantPath: "m",
		},
		{
			name:     "anyOf disagreement",
			schema:   `{"properties": {"v": {"anyOf": [{"type": "string"}, {"type": "integer"}]}}}`,
			wantPath: "v",
		},
		{
			name:     "only null",
			schema:   `{"properties": {"n": {"type": "null"}}}`,
			wantPath: "n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.schema))
			require.Error(t, err)
			assert.True(t, targeterrors.IsType(err, targeterrors.ErrorTypeStructural))

			var terr *targeterrors.Error
			require.ErrorAs(t, err, &terr)
			path, _ := terr.Detail("path")
			assert.Equal(t, tt.wantPath, path)
			assert.Contains(t, err.Error(), tt.wantPath)
		})
	}
}

func TestParseAnyOf(t *testing.T) {
	root, err := Parse([]byte(`{
		"properties": {
			"updated_at": {"anyOf": [{"type": "string", "format": "date-time"}, {"type": "null"}]},
			"created": {"anyOf": [{"type": "null"}, {"type": "string", "format": "date-time"}, {"type": "string"}]}
		}
	}`))
	require.NoError(t, err)

	updated, ok := root.Property("updated_at")
	require.True(t, ok)
	assert.Equal(t, KindString, updated.Kind)
	assert.True(t, updated.Nullable)
	assert.Equal(t, FormatDateTime, updated.Format)

	created, ok := root.Property("created")
	require.True(t, ok)
	assert.True(t, created.Nullable)
	assert.Empty(t, created.Format)
}

func TestParsePreservesPropertyOrder(t *testing.T) {
	root, err := Parse([]byte(`{"type": ["null", "object"], "properties": {"z": {"type": "string"}, "a": {"type": "string"}, "m": {"type": "string"}}}`))
	require.NoError(t, err)

	var names []string
	for _, p := range root.Properties {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"z", "a", "m"}, names)
}

func TestNodeEqual(t *testing.T) {
	a, err := Parse([]byte(`{"properties": {"id": {"type": ["null", "integer"]}, "name": {"type": "string"}}}`))
	require.NoError(t, err)
	b, err := Parse([]byte(`{"properties": {"id": {"type": ["integer", "null"]}, "name": {"type": "string"}}}`))
	require.NoError(t, err)
	c, err := Parse([]byte(`{"properties": {"id": {"type": ["null", "number"]}, "name": {"type": "string"}}}`))
	require.NoError(t, err)
	d, err := Parse([]byte(`{"properties": {"name": {"type": "string"}, "id": {"type": ["null", "integer"]}}}`))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.False(t, a.Equal(nil))
}

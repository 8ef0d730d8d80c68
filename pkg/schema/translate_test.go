package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *Node {
	t.Helper()
	n, err := Parse([]byte(raw))
	require.NoError(t, err)
	return n
}

func TestTranslate(t *testing.T) {
	root := mustParse(t, `{
		"type": "object",
		"properties": {
			"id": {"type": ["null", "integer"]},
			"name": {"type": "string"},
			"price": {"type": ["number", "null"]},
			"active": {"type": "boolean"},
			"updated_at": {"type": ["null", "string"], "format": "date-time"},
			"payload": {"type": "string", "format": "json"},
			"tags": {"type": "array", "items": {"type": ["null", "string"]}},
			"address": {"type": ["null", "object"], "properties": {"city": {"type": "string"}}},
			"lines": {"type": "array", "items": {"type": "object", "properties": {"sku": {"type": "string"}, "qty": {"type": "integer"}}}},
			"meta": {"type": "object", "properties": {}}
		}
	}`)

	cols, err := Translate(root, "", "")
	require.NoError(t, err)

	want := ColumnSchema{
		{Name: "id", Type: FieldTypeInteger, Mode: ModeNullable},
		{Name: "name", Type: FieldTypeString, Mode: ModeRequired},
		{Name: "price", Type: FieldTypeNumeric, Mode: ModeNullable},
		{Name: "active", Type: FieldTypeBoolean, Mode: ModeRequired},
		{Name: "updated_at", Type: FieldTypeTimestamp, Mode: ModeNullable},
		{Name: "payload", Type: FieldTypeJSON, Mode: ModeRequired},
		{Name: "tags", Type: FieldTypeString, Mode: ModeRepeated},
		{Name: "address", Type: FieldTypeRecord, Mode: ModeNullable, Fields: ColumnSchema{
			{Name: "city", Type: FieldTypeString, Mode: ModeRequired},
		}},
		{Name: "lines", Type: FieldTypeRecord, Mode: ModeRepeated, Fields: ColumnSchema{
			{Name: "sku", Type: FieldTypeString, Mode: ModeRequired},
			{Name: "qty", Type: FieldTypeInteger, Mode: ModeRequired},
		}},
		{Name: "meta", Type: FieldTypeRecord, Mode: ModeRequired, Fields: ColumnSchema{
			{Name: PlaceholderColumn, Type: FieldTypeString, Mode: ModeNullable},
		}},
	}
	assert.Equal(t, want, cols)
	assert.True(t, want.Equal(cols))
}

func TestTranslateConfiguredTypes(t *testing.T) {
	root := mustParse(t, `{"properties": {"n": {"type": "number"}, "i": {"type": "integer"}}}`)

	cols, err := Translate(root, FieldTypeFloat, FieldTypeNumeric)
	require.NoError(t, err)
	assert.Equal(t, FieldTypeFloat, cols[0].Type)
	assert.Equal(t, FieldTypeNumeric, cols[1].Type)
}

func TestTranslateNeverEmpty(t *testing.T) {
	for _, raw := range []string{`{}`, `{"type": "object"}`, `{"properties": {}}`} {
		cols, err := Translate(mustParse(t, raw), "", "")
		require.NoError(t, err)
		assert.Equal(t, ColumnSchema{{Name: PlaceholderColumn, Type: FieldTypeString, Mode: ModeNullable}}, cols)
	}
}

func TestTranslateNil(t *testing.T) {
	_, err := Translate(nil, "", "")
	assert.Error(t, err)
}

func TestNumericAndIntegerFieldType(t *testing.T) {
	tests := []struct {
		in      string
		numeric FieldType
		integer FieldType
	}{
		{"", FieldTypeNumeric, FieldTypeInteger},
		{"FLOAT64", FieldTypeFloat, FieldTypeFloat},
		{"bignumeric", FieldTypeBigNumeric, FieldTypeBigNumeric},
		{"DECIMAL", FieldTypeNumeric, FieldTypeNumeric},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			n, err := NumericFieldType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.numeric, n)

			i, err := IntegerFieldType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.integer, i)
		})
	}

	_, err := NumericFieldType("INT64")
	assert.Error(t, err)
	i, err := IntegerFieldType("INT64")
	require.NoError(t, err)
	assert.Equal(t, FieldTypeInteger, i)
	_, err = IntegerFieldType("STRING")
	assert.Error(t, err)
}

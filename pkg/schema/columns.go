package schema

import (
	"fmt"
	"strings"
)

// FieldType is a BigQuery column type in its legacy SQL spelling, which is
// what the BigQuery API reports back for existing tables.
type FieldType string

const (
	FieldTypeString     FieldType = "STRING"
	FieldTypeInteger    FieldType = "INTEGER"
	FieldTypeFloat      FieldType = "FLOAT"
	FieldTypeNumeric    FieldType = "NUMERIC"
	FieldTypeBigNumeric FieldType = "BIGNUMERIC"
	FieldTypeBoolean    FieldType = "BOOLEAN"
	FieldTypeTimestamp  FieldType = "TIMESTAMP"
	FieldTypeRecord     FieldType = "RECORD"
	FieldTypeJSON       FieldType = "JSON"
)

// Mode is a BigQuery column mode.
type Mode string

const (
	ModeNullable Mode = "NULLABLE"
	ModeRequired Mode = "REQUIRED"
	ModeRepeated Mode = "REPEATED"
)

// PlaceholderColumn is the single column given to objects without properties.
// BigQuery tables and RECORD columns cannot be empty.
const PlaceholderColumn = "_placeholder"

// Column describes one BigQuery column. The JSON form matches the schema
// files accepted by the bq command line tool.
type Column struct {
	Name   string       `json:"name"`
	Type   FieldType    `json:"type"`
	Mode   Mode         `json:"mode"`
	Fields ColumnSchema `json:"fields,omitempty"`
}

// ColumnSchema is an ordered list of columns.
type ColumnSchema []Column

// Equal compares two column schemas, including column order and nested fields.
func (cs ColumnSchema) Equal(other ColumnSchema) bool {
	if len(cs) != len(other) {
		return false
	}
	for i := range cs {
		if !cs[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// Equal compares two columns recursively.
func (c Column) Equal(other Column) bool {
	return c.Name == other.Name &&
		c.Type == other.Type &&
		c.Mode == other.Mode &&
		c.Fields.Equal(other.Fields)
}

// Find returns the column with the given name.
func (cs ColumnSchema) Find(name string) (Column, bool) {
	for _, c := range cs {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns the top-level column names in order.
func (cs ColumnSchema) Names() []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name
	}
	return names
}

// ParseFieldType normalizes a BigQuery type name, accepting the standard SQL
// aliases (INT64, FLOAT64, BOOL, DECIMAL, BIGDECIMAL, STRUCT).
func ParseFieldType(name string) (FieldType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "STRING":
		return FieldTypeString, nil
	case "INTEGER", "INT64", "INT":
		return FieldTypeInteger, nil
	case "FLOAT", "FLOAT64":
		return FieldTypeFloat, nil
	case "NUMERIC", "DECIMAL":
		return FieldTypeNumeric, nil
	case "BIGNUMERIC", "BIGDECIMAL":
		return FieldTypeBigNumeric, nil
	case "BOOLEAN", "BOOL":
		return FieldTypeBoolean, nil
	case "TIMESTAMP":
		return FieldTypeTimestamp, nil
	case "RECORD", "STRUCT":
		return FieldTypeRecord, nil
	case "JSON":
		return FieldTypeJSON, nil
	default:
		return "", fmt.Errorf("unknown BigQuery type %q", name)
	}
}

// NumericFieldType resolves the configured column type for JSON numbers.
// Empty means NUMERIC.
func NumericFieldType(name string) (FieldType, error) {
	if strings.TrimSpace(name) == "" {
		return FieldTypeNumeric, nil
	}
	t, err := ParseFieldType(name)
	if err != nil {
		return "", err
	}
	switch t {
	case FieldTypeNumeric, FieldTypeBigNumeric, FieldTypeFloat:
		return t, nil
	default:
		return "", fmt.Errorf("numeric_type must be NUMERIC, BIGNUMERIC or FLOAT, got %q", name)
	}
}

// IntegerFieldType resolves the configured column type for JSON integers.
// Empty means INTEGER.
func IntegerFieldType(name string) (FieldType, error) {
	if strings.TrimSpace(name) == "" {
		return FieldTypeInteger, nil
	}
	t, err := ParseFieldType(name)
	if err != nil {
		return "", err
	}
	switch t {
	case FieldTypeInteger, FieldTypeNumeric, FieldTypeBigNumeric, FieldTypeFloat:
		return t, nil
	default:
		return "", fmt.Errorf("integer_type must be INTEGER, NUMERIC, BIGNUMERIC or FLOAT, got %q", name)
	}
}

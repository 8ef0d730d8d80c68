package schema

import (
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
)

// Translate maps a resolved object node to a BigQuery column schema. Numbers
// become numericType and integers become integerType; empty values fall back
// to NUMERIC and INTEGER. The result is never empty.
func Translate(node *Node, numericType, integerType FieldType) (ColumnSchema, error) {
	if node == nil {
		return nil, targeterrors.New(targeterrors.ErrorTypeStructural, "no schema to translate")
	}
	if node.Kind != KindObject {
		return nil, schemaError(node.Name, "cannot translate %s as a table", node.Kind)
	}
	if numericType == "" {
		numericType = FieldTypeNumeric
	}
	if integerType == "" {
		integerType = FieldTypeInteger
	}

	t := translator{numeric: numericType, integer: integerType}
	return t.fields(node, "")
}

type translator struct {
	numeric FieldType
	integer FieldType
}

func (t translator) fields(node *Node, path string) (ColumnSchema, error) {
	cols := make(ColumnSchema, 0, len(node.Properties))
	for _, prop := range node.Properties {
		col, err := t.column(prop, joinPath(path, prop.Name))
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		cols = append(cols, Column{Name: PlaceholderColumn, Type: FieldTypeString, Mode: ModeNullable})
	}
	return cols, nil
}

func (t translator) column(node *Node, path string) (Column, error) {
	col := Column{Name: node.Name, Mode: ModeRequired}
	if node.Nullable {
		col.Mode = ModeNullable
	}

	target := node
	if node.Kind == KindArray {
		col.Mode = ModeRepeated
		target = node.Items
		if target == nil {
			return Column{}, schemaError(path, "array without items")
		}
		if target.Kind == KindArray {
			return Column{}, schemaError(path, "nested arrays are not supported")
		}
	}

	typ, err := t.leafType(target, path)
	if err != nil {
		return Column{}, err
	}
	col.Type = typ

	if typ == FieldTypeRecord {
		col.Fields, err = t.fields(target, path)
		if err != nil {
			return Column{}, err
		}
	}
	return col, nil
}

func (t translator) leafType(node *Node, path string) (FieldType, error) {
	switch node.Kind {
	case KindObject:
		return FieldTypeRecord, nil
	case KindString:
		switch node.Format {
		case FormatDateTime:
			return FieldTypeTimestamp, nil
		case FormatJSON:
			return FieldTypeJSON, nil
		default:
			return FieldTypeString, nil
		}
	case KindInteger:
		return t.integer, nil
	case KindNumber:
		return t.numeric, nil
	case KindBoolean:
		return FieldTypeBoolean, nil
	default:
		return "", schemaError(path, "unmapped type %q", node.Kind)
	}
}

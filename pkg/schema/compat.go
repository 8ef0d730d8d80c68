package schema

import (
	"sort"
)

// ChangeType classifies a difference between a live table and a desired schema.
type ChangeType string

const (
	// ChangeTypeAddField is a column present only in the desired schema.
	ChangeTypeAddField ChangeType = "ADD_FIELD"
	// ChangeTypeModifyType is a column whose type differs.
	ChangeTypeModifyType ChangeType = "MODIFY_TYPE"
	// ChangeTypeModifyMode is a column whose mode differs.
	ChangeTypeModifyMode ChangeType = "MODIFY_MODE"
	// ChangeTypeModifyFields is a RECORD column whose nested fields differ.
	ChangeTypeModifyFields ChangeType = "MODIFY_FIELDS"
)

// SchemaChange is one difference found by DetectChanges.
type SchemaChange struct {
	Type     ChangeType `json:"type"`
	Field    string     `json:"field"`
	OldField *Column    `json:"old_field,omitempty"`
	NewField *Column    `json:"new_field,omitempty"`
}

// Compatible reports whether the change can be applied to a live table
// without dropping or retyping data. Only additions qualify.
func (c SchemaChange) Compatible() bool {
	return c.Type == ChangeTypeAddField
}

// DetectChanges compares the top-level columns of a live table with a desired
// schema. Columns that exist only in the live table are not reported: nothing
// is ever dropped. Additions keep desired order; the rest are sorted by field.
func DetectChanges(live, desired ColumnSchema) []SchemaChange {
	var added, modified []SchemaChange

	for i := range desired {
		want := desired[i]
		have, ok := live.Find(want.Name)
		if !ok {
			added = append(added, SchemaChange{
				Type:     ChangeTypeAddField,
				Field:    want.Name,
				NewField: &want,
			})
			continue
		}

		var kind ChangeType
		switch {
		case !AreTypesCompatible(have.Type, want.Type):
			kind = ChangeTypeModifyType
		case have.Mode != want.Mode:
			kind = ChangeTypeModifyMode
		case have.Type == FieldTypeRecord && !have.Fields.Equal(want.Fields):
			kind = ChangeTypeModifyFields
		default:
			continue
		}
		modified = append(modified, SchemaChange{
			Type:     kind,
			Field:    want.Name,
			OldField: &have,
			NewField: &want,
		})
	}

	sort.Slice(modified, func(i, j int) bool {
		if modified[i].Type != modified[j].Type {
			return modified[i].Type < modified[j].Type
		}
		return modified[i].Field < modified[j].Field
	})

	return append(added, modified...)
}

// AreTypesCompatible reports whether a live column of type oldType can hold
// values translated as newType. Aliases are normalized first.
func AreTypesCompatible(oldType, newType FieldType) bool {
	if o, err := ParseFieldType(string(oldType)); err == nil {
		oldType = o
	}
	if n, err := ParseFieldType(string(newType)); err == nil {
		newType = n
	}
	return oldType == newType
}

// AdditionMode returns the mode a new column can be added with. BigQuery
// rejects REQUIRED columns on existing tables, so they are relaxed.
func AdditionMode(c Column) Column {
	if c.Mode == ModeRequired {
		c.Mode = ModeNullable
	}
	return c
}

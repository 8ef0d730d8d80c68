package schema

// ColumnMap renames top-level source fields to target column names. It is
// applied where rows and schemas cross into the warehouse, after validation.
type ColumnMap map[string]string

// Target returns the column name for a source field.
func (m ColumnMap) Target(field string) string {
	if to, ok := m[field]; ok && to != "" {
		return to
	}
	return field
}

// ApplySchema returns a copy of cols with mapped columns renamed.
func (m ColumnMap) ApplySchema(cols ColumnSchema) ColumnSchema {
	if len(m) == 0 {
		return cols
	}
	out := make(ColumnSchema, len(cols))
	for i, c := range cols {
		c.Name = m.Target(c.Name)
		out[i] = c
	}
	return out
}

// ApplyRow returns row with mapped keys renamed. The input map is not
// modified; when nothing is mapped it is returned as is.
func (m ColumnMap) ApplyRow(row map[string]interface{}) map[string]interface{} {
	if len(m) == 0 {
		return row
	}
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[m.Target(k)] = v
	}
	return out
}

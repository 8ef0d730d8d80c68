package bigquery

import (
	"cloud.google.com/go/bigquery"

	"github.com/ajitpratap0/target-bigquery/pkg/schema"
	"github.com/ajitpratap0/target-bigquery/pkg/warehouse"
)

// ToBigQuery converts a column schema to the client library's schema.
func ToBigQuery(cols schema.ColumnSchema) bigquery.Schema {
	out := make(bigquery.Schema, 0, len(cols))
	for _, c := range cols {
		field := &bigquery.FieldSchema{
			Name:     c.Name,
			Type:     mapFieldTypeToBigQuery(c.Type),
			Required: c.Mode == schema.ModeRequired,
			Repeated: c.Mode == schema.ModeRepeated,
		}
		if len(c.Fields) > 0 {
			field.Schema = ToBigQuery(c.Fields)
		}
		out = append(out, field)
	}
	return out
}

// FromBigQuery converts a live table schema back into columns.
func FromBigQuery(s bigquery.Schema) schema.ColumnSchema {
	out := make(schema.ColumnSchema, 0, len(s))
	for _, f := range s {
		col := schema.Column{
			Name: f.Name,
			Type: schema.FieldType(f.Type),
			Mode: schema.ModeNullable,
		}
		if t, err := schema.ParseFieldType(string(f.Type)); err == nil {
			col.Type = t
		}
		switch {
		case f.Repeated:
			col.Mode = schema.ModeRepeated
		case f.Required:
			col.Mode = schema.ModeRequired
		}
		if len(f.Schema) > 0 {
			col.Fields = FromBigQuery(f.Schema)
		}
		out = append(out, col)
	}
	return out
}

func mapFieldTypeToBigQuery(t schema.FieldType) bigquery.FieldType {
	switch t {
	case schema.FieldTypeString:
		return bigquery.StringFieldType
	case schema.FieldTypeInteger:
		return bigquery.IntegerFieldType
	case schema.FieldTypeFloat:
		return bigquery.FloatFieldType
	case schema.FieldTypeNumeric:
		return bigquery.NumericFieldType
	case schema.FieldTypeBigNumeric:
		return bigquery.BigNumericFieldType
	case schema.FieldTypeBoolean:
		return bigquery.BooleanFieldType
	case schema.FieldTypeTimestamp:
		return bigquery.TimestampFieldType
	case schema.FieldTypeRecord:
		return bigquery.RecordFieldType
	case schema.FieldTypeJSON:
		return bigquery.JSONFieldType
	default:
		return bigquery.FieldType(t)
	}
}

func toTimePartitioning(p *warehouse.Partitioning) *bigquery.TimePartitioning {
	if p == nil || p.Field == "" {
		return nil
	}
	tp := &bigquery.TimePartitioning{
		Field:      p.Field,
		Expiration: p.Expiration,
	}
	switch p.Type {
	case "HOUR":
		tp.Type = bigquery.HourPartitioningType
	case "MONTH":
		tp.Type = bigquery.MonthPartitioningType
	case "YEAR":
		tp.Type = bigquery.YearPartitioningType
	default:
		tp.Type = bigquery.DayPartitioningType
	}
	return tp
}

// rowSaver adapts a cleaned record to bigquery.ValueSaver.
type rowSaver struct {
	row      map[string]interface{}
	insertID string
}

func (r rowSaver) Save() (map[string]bigquery.Value, string, error) {
	out := make(map[string]bigquery.Value, len(r.row))
	for k, v := range r.row {
		out[k] = v
	}
	return out, r.insertID, nil
}

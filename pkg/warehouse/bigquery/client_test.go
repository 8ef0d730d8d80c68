package bigquery

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/ajitpratap0/target-bigquery/pkg/schema"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/ajitpratap0/target-bigquery/pkg/warehouse"
)

var testColumns = schema.ColumnSchema{
	{Name: "id", Type: schema.FieldTypeInteger, Mode: schema.ModeRequired},
	{Name: "name", Type: schema.FieldTypeString, Mode: schema.ModeNullable},
	{Name: "tags", Type: schema.FieldTypeString, Mode: schema.ModeRepeated},
	{Name: "addr", Type: schema.FieldTypeRecord, Mode: schema.ModeNullable, Fields: schema.ColumnSchema{
		{Name: "zip", Type: schema.FieldTypeNumeric, Mode: schema.ModeNullable},
	}},
	{Name: "payload", Type: schema.FieldTypeJSON, Mode: schema.ModeNullable},
}

func TestToBigQuery(t *testing.T) {
	bq := ToBigQuery(testColumns)
	require.Len(t, bq, 5)

	assert.Equal(t, bigquery.IntegerFieldType, bq[0].Type)
	assert.True(t, bq[0].Required)
	assert.False(t, bq[1].Required)
	assert.True(t, bq[2].Repeated)
	assert.Equal(t, bigquery.RecordFieldType, bq[3].Type)
	require.Len(t, bq[3].Schema, 1)
	assert.Equal(t, bigquery.NumericFieldType, bq[3].Schema[0].Type)
	assert.Equal(t, bigquery.JSONFieldType, bq[4].Type)
}

func TestFromBigQueryRoundTrip(t *testing.T) {
	assert.Equal(t, testColumns, FromBigQuery(ToBigQuery(testColumns)))
}

func TestFromBigQueryNormalizesAliases(t *testing.T) {
	cols := FromBigQuery(bigquery.Schema{
		{Name: "a", Type: "INT64"},
		{Name: "b", Type: "BOOL", Required: true},
	})
	assert.Equal(t, schema.FieldTypeInteger, cols[0].Type)
	assert.Equal(t, schema.ModeNullable, cols[0].Mode)
	assert.Equal(t, schema.FieldTypeBoolean, cols[1].Type)
	assert.Equal(t, schema.ModeRequired, cols[1].Mode)
}

func TestToTimePartitioning(t *testing.T) {
	assert.Nil(t, toTimePartitioning(nil))
	assert.Nil(t, toTimePartitioning(&warehouse.Partitioning{Type: "DAY"}))

	tests := []struct {
		in   string
		want bigquery.TimePartitioningType
	}{
		{"HOUR", bigquery.HourPartitioningType},
		{"DAY", bigquery.DayPartitioningType},
		{"MONTH", bigquery.MonthPartitioningType},
		{"YEAR", bigquery.YearPartitioningType},
		{"", bigquery.DayPartitioningType},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tp := toTimePartitioning(&warehouse.Partitioning{Field: "ts", Type: tt.in, Expiration: time.Hour})
			require.NotNil(t, tp)
			assert.Equal(t, "ts", tp.Field)
			assert.Equal(t, tt.want, tp.Type)
			assert.Equal(t, time.Hour, tp.Expiration)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want targeterrors.ErrorType
	}{
		{http.StatusNotFound, targeterrors.ErrorTypeNotFound},
		{http.StatusConflict, targeterrors.ErrorTypeConflict},
		{http.StatusBadRequest, targeterrors.ErrorTypeWarehouse},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &googleapi.Error{Code: tt.code})
			assert.True(t, targeterrors.IsType(classify(err, "op"), tt.want))
		})
	}

	assert.True(t, isConflict(&googleapi.Error{Code: http.StatusConflict}))
	assert.False(t, isNotFound(fmt.Errorf("plain")))
}

func TestNewJobID(t *testing.T) {
	id := newJobID("public.users")
	assert.True(t, strings.HasPrefix(id, "target_bigquery_public_users_"))
	assert.NotEqual(t, id, newJobID("public.users"))
}

func TestLoadSource(t *testing.T) {
	src, err := loadSource(testColumns, warehouse.DataSource{URI: "gs://bucket/obj.json.gz", Compressed: true})
	require.NoError(t, err)
	ref, ok := src.(*bigquery.GCSReference)
	require.True(t, ok)
	assert.Equal(t, []string{"gs://bucket/obj.json.gz"}, ref.URIs)
	assert.Equal(t, bigquery.JSON, ref.SourceFormat)

	src, err = loadSource(testColumns, warehouse.DataSource{Reader: strings.NewReader("{}\n")})
	require.NoError(t, err)
	_, ok = src.(*bigquery.ReaderSource)
	assert.True(t, ok)

	_, err = loadSource(testColumns, warehouse.DataSource{})
	assert.Error(t, err)
}

func TestRowSaver(t *testing.T) {
	row, id, err := rowSaver{row: map[string]interface{}{"id": 1}, insertID: "x"}.Save()
	require.NoError(t, err)
	assert.Equal(t, "x", id)
	assert.Equal(t, bigquery.Value(1), row["id"])
}

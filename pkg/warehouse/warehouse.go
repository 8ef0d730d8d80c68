// Package warehouse defines the operations the target needs from a data
// warehouse. The BigQuery implementation lives in the bigquery subpackage;
// tests use the in-memory implementation from pkg/testutil.
package warehouse

import (
	"context"
	"io"
	"time"

	"github.com/ajitpratap0/target-bigquery/pkg/schema"
)

// Partitioning is a time partitioning directive applied when a table is
// created. Existing tables are never repartitioned.
type Partitioning struct {
	Field      string
	Type       string // YEAR, MONTH, DAY or HOUR
	Expiration time.Duration
}

// Table is a resolved warehouse table.
type Table struct {
	Name    string
	Columns schema.ColumnSchema
	// Created is true when this call created the table.
	Created bool
}

// DataSource is staged newline-delimited JSON for a load job. Exactly one of
// Reader and URI is set.
type DataSource struct {
	Reader     io.Reader
	URI        string
	Compressed bool
	Rows       int64
	// Sample holds the first staged lines for diagnostics.
	Sample []string
}

// JobOutcome summarizes a finished load job.
type JobOutcome struct {
	JobID      string
	OutputRows int64
	InputBytes int64
}

// Warehouse is the warehouse collaborator. Calls are synchronous and not
// retried, except for the single get after a create conflict.
type Warehouse interface {
	GetOrCreateDataset(ctx context.Context) error
	GetOrCreateTable(ctx context.Context, name string, columns schema.ColumnSchema, partitioning *Partitioning, clustering []string) (*Table, error)
	TableSchema(ctx context.Context, name string) (schema.ColumnSchema, error)
	SubmitLoadJob(ctx context.Context, table *Table, columns schema.ColumnSchema, source DataSource) (JobOutcome, error)
	AppendRow(ctx context.Context, table *Table, row map[string]interface{}) error
	AlterTableAddColumns(ctx context.Context, name string, columns schema.ColumnSchema) error
	Close() error
}

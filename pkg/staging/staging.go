// Package staging buffers accepted rows as newline-delimited JSON until a
// stream is finalized with a load job.
package staging

import (
	"context"

	"github.com/ajitpratap0/target-bigquery/pkg/json"
	"github.com/ajitpratap0/target-bigquery/pkg/warehouse"
)

// SampleSize is the number of leading lines kept for load failure reports.
const SampleSize = 5

// Sink receives the rows of one stream.
type Sink interface {
	// Write appends one row.
	Write(row map[string]interface{}) error
	// Rows returns the number of rows written so far.
	Rows() int64
	// Seal finishes writing and returns the staged data as a load source.
	Seal(ctx context.Context) (warehouse.DataSource, error)
	// Discard removes the staged data. It is safe to call more than once.
	Discard(ctx context.Context) error
}

// Factory opens a sink per stream.
type Factory interface {
	Open(ctx context.Context, stream string) (Sink, error)
}

// lineEncoder counts rows and keeps the first SampleSize lines.
type lineEncoder struct {
	rows   int64
	sample []string
}

func (e *lineEncoder) encode(row map[string]interface{}) ([]byte, error) {
	line, err := json.MarshalLine(row)
	if err != nil {
		return nil, err
	}
	e.rows++
	if len(e.sample) < SampleSize {
		e.sample = append(e.sample, string(line[:len(line)-1]))
	}
	return line, nil
}

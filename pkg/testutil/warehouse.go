package testutil

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/ajitpratap0/target-bigquery/pkg/json"
	"github.com/ajitpratap0/target-bigquery/pkg/schema"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/ajitpratap0/target-bigquery/pkg/warehouse"
)

// MemoryTable is a table held by MemoryWarehouse.
type MemoryTable struct {
	Name         string
	Columns      schema.ColumnSchema
	Partitioning *warehouse.Partitioning
	Clustering   []string
	Rows         []map[string]interface{}
}

// LoadJob records one SubmitLoadJob call.
type LoadJob struct {
	Table   string
	Columns schema.ColumnSchema
	URI     string
	Rows    []map[string]interface{}
	Sample  []string
}

// MemoryWarehouse is an in-memory warehouse.Warehouse. Failure hooks let
// tests inject warehouse errors.
type MemoryWarehouse struct {
	mu sync.Mutex

	DatasetCreated bool
	Tables         map[string]*MemoryTable
	Loads          []LoadJob
	Appends        int
	Alterations    map[string]schema.ColumnSchema
	Closed         bool

	// FailLoad, when set, is returned by SubmitLoadJob for any table.
	FailLoad error
	// FailAppend, when set, is consulted for each appended row.
	FailAppend func(table string, row map[string]interface{}) error
	// FailCreate, when set, is returned by GetOrCreateTable for new tables.
	FailCreate error
	// Objects resolves load sources given by URI.
	Objects func(uri string) ([]byte, error)
}

var _ warehouse.Warehouse = (*MemoryWarehouse)(nil)

// NewMemoryWarehouse returns an empty warehouse.
func NewMemoryWarehouse() *MemoryWarehouse {
	return &MemoryWarehouse{
		Tables:      make(map[string]*MemoryTable),
		Alterations: make(map[string]schema.ColumnSchema),
	}
}

// AddTable seeds an existing table.
func (w *MemoryWarehouse) AddTable(name string, cols schema.ColumnSchema) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Tables[name] = &MemoryTable{Name: name, Columns: cols}
}

// Table returns the named table or nil.
func (w *MemoryWarehouse) Table(name string) *MemoryTable {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Tables[name]
}

// LoadCount returns the number of submitted load jobs.
func (w *MemoryWarehouse) LoadCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Loads)
}

func (w *MemoryWarehouse) GetOrCreateDataset(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.DatasetCreated = true
	return nil
}

func (w *MemoryWarehouse) GetOrCreateTable(_ context.Context, name string, cols schema.ColumnSchema, partitioning *warehouse.Partitioning, clustering []string) (*warehouse.Table, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.Tables[name]; ok {
		return &warehouse.Table{Name: name, Columns: t.Columns}, nil
	}
	if w.FailCreate != nil {
		return nil, w.FailCreate
	}
	w.Tables[name] = &MemoryTable{
		Name:         name,
		Columns:      cols,
		Partitioning: partitioning,
		Clustering:   clustering,
	}
	return &warehouse.Table{Name: name, Columns: cols, Created: true}, nil
}

func (w *MemoryWarehouse) TableSchema(_ context.Context, name string) (schema.ColumnSchema, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.Tables[name]
	if !ok {
		return nil, targeterrors.Newf(targeterrors.ErrorTypeNotFound, "table %s not found", name)
	}
	return t.Columns, nil
}

func (w *MemoryWarehouse) SubmitLoadJob(_ context.Context, table *warehouse.Table, cols schema.ColumnSchema, src warehouse.DataSource) (warehouse.JobOutcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.FailLoad != nil {
		return warehouse.JobOutcome{}, targeterrors.Wrap(w.FailLoad, targeterrors.ErrorTypeWarehouse, "load job failed").
			WithDetail("table", table.Name).
			WithDetail("schema", cols).
			WithDetail("sample", src.Sample)
	}

	t, ok := w.Tables[table.Name]
	if !ok {
		return warehouse.JobOutcome{}, targeterrors.Newf(targeterrors.ErrorTypeNotFound, "table %s not found", table.Name)
	}
	// WRITE_APPEND without schema update options rejects unknown columns.
	for _, c := range cols {
		if _, ok := t.Columns.Find(c.Name); !ok {
			return warehouse.JobOutcome{}, targeterrors.Newf(targeterrors.ErrorTypeWarehouse, "load job failed: no such field: %s", c.Name).
				WithDetail("table", table.Name).
				WithDetail("schema", cols).
				WithDetail("sample", src.Sample)
		}
	}

	data, err := w.sourceBytes(src)
	if err != nil {
		return warehouse.JobOutcome{}, targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, "load job failed")
	}
	rows, err := decodeLines(data)
	if err != nil {
		return warehouse.JobOutcome{}, targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, "load job failed")
	}

	t.Rows = append(t.Rows, rows...)
	w.Loads = append(w.Loads, LoadJob{
		Table:   table.Name,
		Columns: cols,
		URI:     src.URI,
		Rows:    rows,
		Sample:  src.Sample,
	})
	return warehouse.JobOutcome{
		JobID:      fmt.Sprintf("job_%d", len(w.Loads)),
		OutputRows: int64(len(rows)),
		InputBytes: int64(len(data)),
	}, nil
}

func (w *MemoryWarehouse) sourceBytes(src warehouse.DataSource) ([]byte, error) {
	var raw []byte
	switch {
	case src.Reader != nil:
		b, err := io.ReadAll(src.Reader)
		if err != nil {
			return nil, err
		}
		raw = b
	case src.URI != "" && w.Objects != nil:
		b, err := w.Objects(src.URI)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return nil, fmt.Errorf("no readable source")
	}

	if !src.Compressed {
		return raw, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func decodeLines(data []byte) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 64<<20)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var row map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, sc.Err()
}

func (w *MemoryWarehouse) AppendRow(_ context.Context, table *warehouse.Table, row map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.FailAppend != nil {
		if err := w.FailAppend(table.Name, row); err != nil {
			return targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, "insert failed").
				WithDetail("table", table.Name)
		}
	}
	t, ok := w.Tables[table.Name]
	if !ok {
		return targeterrors.Newf(targeterrors.ErrorTypeNotFound, "table %s not found", table.Name)
	}
	t.Rows = append(t.Rows, row)
	w.Appends++
	return nil
}

func (w *MemoryWarehouse) AlterTableAddColumns(_ context.Context, name string, cols schema.ColumnSchema) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.Tables[name]
	if !ok {
		return targeterrors.Newf(targeterrors.ErrorTypeNotFound, "table %s not found", name)
	}
	t.Columns = append(append(schema.ColumnSchema{}, t.Columns...), cols...)
	w.Alterations[name] = append(w.Alterations[name], cols...)
	return nil
}

func (w *MemoryWarehouse) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Closed = true
	return nil
}

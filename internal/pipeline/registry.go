package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/target-bigquery/pkg/config"
	"github.com/ajitpratap0/target-bigquery/pkg/logger"
	"github.com/ajitpratap0/target-bigquery/pkg/observability"
	"github.com/ajitpratap0/target-bigquery/pkg/schema"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/ajitpratap0/target-bigquery/pkg/warehouse"
)

// TableResolver obtains or creates the warehouse table for a stream and adds
// columns a widened schema introduces.
type TableResolver interface {
	GetOrCreateTable(ctx context.Context, name string, columns schema.ColumnSchema, partitioning *warehouse.Partitioning, clustering []string) (*warehouse.Table, error)
	AlterTableAddColumns(ctx context.Context, name string, columns schema.ColumnSchema) error
}

// StreamState is everything the run knows about one stream.
type StreamState struct {
	Name          string
	Schema        *schema.Node
	KeyProperties []string
	// Columns is the translated schema; TargetColumns has the column map applied.
	Columns       schema.ColumnSchema
	TargetColumns schema.ColumnSchema
	Table         *warehouse.Table

	RowCount     int64
	InvalidCount int64
	// Staged is true once the stream has been opened with the commit strategy
	// and not yet finalized.
	Staged bool
}

// Registered reports whether a schema has been registered for the stream.
func (s *StreamState) Registered() bool {
	return s != nil && s.Schema != nil
}

// Registry tracks per-stream state in order of first registration. It is used
// from the driver goroutine only.
type Registry struct {
	cfg       *config.Config
	resolver  TableResolver
	columnMap schema.ColumnMap
	logger    *zap.Logger

	streams map[string]*StreamState
	order   []string
	tables  map[string]*warehouse.Table
}

// NewRegistry creates an empty registry resolving tables through resolver.
func NewRegistry(cfg *config.Config, resolver TableResolver, log *zap.Logger) *Registry {
	return &Registry{
		cfg:       cfg,
		resolver:  resolver,
		columnMap: schema.ColumnMap(cfg.ColumnMap),
		logger:    logger.OrNop(log),
		streams:   make(map[string]*StreamState),
		tables:    make(map[string]*warehouse.Table),
	}
}

// Get returns the state of stream, or nil.
func (r *Registry) Get(stream string) *StreamState {
	return r.streams[stream]
}

// GetOrCreate returns the state of stream, creating an unregistered entry.
func (r *Registry) GetOrCreate(stream string) *StreamState {
	if s, ok := r.streams[stream]; ok {
		return s
	}
	s := &StreamState{Name: stream}
	r.streams[stream] = s
	r.order = append(r.order, stream)
	return s
}

// SchemaChanged reports whether node differs structurally from the schema
// registered for stream. An unregistered stream always counts as changed.
func (r *Registry) SchemaChanged(stream string, node *schema.Node) bool {
	s := r.streams[stream]
	if !s.Registered() {
		return true
	}
	return !s.Schema.Equal(node)
}

// Register translates node, resolves the stream's table and resets the
// stream's counters. Registering a structurally equal schema again returns
// the existing state untouched. A changed schema always confirms the table
// with the warehouse again; columns missing from a live table are added as
// NULLABLE.
func (r *Registry) Register(ctx context.Context, stream string, node *schema.Node) (*StreamState, error) {
	if node == nil {
		return nil, targeterrors.New(targeterrors.ErrorTypeStructural, "schema is empty").
			WithDetail("stream", stream)
	}
	if !r.SchemaChanged(stream, node) {
		return r.streams[stream], nil
	}

	cols, err := schema.Translate(node, r.cfg.NumericFieldType(), r.cfg.IntegerFieldType())
	if err != nil {
		return nil, targeterrors.Wrap(err, targeterrors.ErrorTypeStructural, "failed to translate schema").
			WithDetail("stream", stream)
	}
	targetCols := r.columnMap.ApplySchema(cols)

	refresh := r.streams[stream].Registered()
	table, err := r.resolveTable(ctx, stream, r.cfg.TableName(stream), targetCols, refresh)
	if err != nil {
		return nil, targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, "failed to resolve table").
			WithDetail("stream", stream)
	}

	s := r.GetOrCreate(stream)
	s.Schema = node
	s.Columns = cols
	s.TargetColumns = targetCols
	s.Table = table
	s.RowCount = 0
	s.InvalidCount = 0
	s.Staged = false

	r.logger.Info("registered stream",
		zap.String("stream", stream),
		zap.String("table", table.Name),
		zap.Bool("created", table.Created),
		zap.Int("columns", len(targetCols)))
	return s, nil
}

// resolveTable serves a cached handle unless refresh is set or the handle
// lacks one of cols. Handles served from the cache never report Created.
func (r *Registry) resolveTable(ctx context.Context, stream, name string, cols schema.ColumnSchema, refresh bool) (*warehouse.Table, error) {
	if t, ok := r.tables[name]; ok && !refresh && covers(t.Columns, cols) {
		cached := *t
		cached.Created = false
		return &cached, nil
	}

	var t *warehouse.Table
	err := observability.Trace(ctx, "registry.resolve_table", stream, func(ctx context.Context) error {
		var err error
		t, err = r.resolver.GetOrCreateTable(ctx, name, cols, r.partitioning(), r.clustering())
		if err != nil {
			return err
		}
		if t.Created {
			return nil
		}
		return r.addMissingColumns(ctx, t, cols)
	})
	if err != nil {
		return nil, err
	}
	r.tables[name] = t
	return t, nil
}

func covers(have, want schema.ColumnSchema) bool {
	for _, c := range want {
		if _, ok := have.Find(c.Name); !ok {
			return false
		}
	}
	return true
}

// addMissingColumns widens a live table with the columns of cols it lacks.
// Type and mode differences are left to the migration command.
func (r *Registry) addMissingColumns(ctx context.Context, t *warehouse.Table, cols schema.ColumnSchema) error {
	var added schema.ColumnSchema
	for _, c := range schema.DetectChanges(t.Columns, cols) {
		if c.Compatible() {
			added = append(added, schema.AdditionMode(*c.NewField))
		}
	}
	if len(added) == 0 {
		return nil
	}
	if err := r.resolver.AlterTableAddColumns(ctx, t.Name, added); err != nil {
		return err
	}
	r.logger.Info("added columns to table",
		zap.String("table", t.Name),
		zap.Strings("columns", added.Names()))
	t.Columns = append(append(schema.ColumnSchema{}, t.Columns...), added...)
	return nil
}

func (r *Registry) partitioning() *warehouse.Partitioning {
	if r.cfg.PartitionBy == "" {
		return nil
	}
	return &warehouse.Partitioning{
		Field:      r.columnMap.Target(r.cfg.PartitionBy),
		Type:       r.cfg.PartitionType,
		Expiration: r.cfg.PartitionExpiration.Std(),
	}
}

func (r *Registry) clustering() []string {
	if len(r.cfg.ClusteringFields) == 0 {
		return nil
	}
	out := make([]string, len(r.cfg.ClusteringFields))
	for i, f := range r.cfg.ClusteringFields {
		out[i] = r.columnMap.Target(f)
	}
	return out
}

// RecordRow counts one accepted row for stream.
func (r *Registry) RecordRow(stream string) {
	r.GetOrCreate(stream).RowCount++
}

// RecordInvalid counts one invalid record for stream.
func (r *Registry) RecordInvalid(stream string) {
	r.GetOrCreate(stream).InvalidCount++
}

// ForEach calls fn for every stream in order of first registration and stops
// at the first error.
func (r *Registry) ForEach(fn func(*StreamState) error) error {
	for _, name := range r.order {
		if err := fn(r.streams[name]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of known streams.
func (r *Registry) Len() int {
	return len(r.order)
}

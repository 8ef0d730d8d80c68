// Package migrate brings live BigQuery tables in line with a Singer catalog.
// Migrations only ever add columns: a column whose type or mode changed is
// reported as incompatible and left alone.
package migrate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/target-bigquery/pkg/config"
	"github.com/ajitpratap0/target-bigquery/pkg/logger"
	"github.com/ajitpratap0/target-bigquery/pkg/schema"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/ajitpratap0/target-bigquery/pkg/warehouse"
)

// Options controls a migration run.
type Options struct {
	// DryRun logs the plan without altering any table.
	DryRun bool
	// ContinueOnIncompatible applies additions even when other columns of the
	// same table are incompatible.
	ContinueOnIncompatible bool
	// Tables restricts the run to these stream or table names. Empty means all.
	Tables []string
}

// ParseTables splits a comma-separated --tables value.
func ParseTables(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// TablePlan is what the migration found for one stream.
type TablePlan struct {
	Stream       string
	Table        string
	Missing      bool
	Added        schema.ColumnSchema
	Incompatible []schema.SchemaChange
	Applied      bool
}

// Report lists one plan per processed stream in catalog order.
type Report struct {
	Plans []TablePlan
}

// Migrator compares catalog schemas with live tables.
type Migrator struct {
	cfg       *config.Config
	wh        warehouse.Warehouse
	columnMap schema.ColumnMap
	logger    *zap.Logger
}

// New creates a Migrator.
func New(cfg *config.Config, wh warehouse.Warehouse, log *zap.Logger) *Migrator {
	return &Migrator{
		cfg:       cfg,
		wh:        wh,
		columnMap: schema.ColumnMap(cfg.ColumnMap),
		logger:    logger.OrNop(log),
	}
}

// Run migrates every selected catalog stream. It stops at the first
// incompatible table unless ContinueOnIncompatible is set.
func (m *Migrator) Run(ctx context.Context, catalog *Catalog, opts Options) (*Report, error) {
	report := &Report{}
	filter := make(map[string]bool, len(opts.Tables))
	for _, t := range opts.Tables {
		filter[t] = true
	}

	for _, entry := range catalog.Streams {
		stream := entry.Name()
		table := m.cfg.TableName(stream)
		if len(filter) > 0 && !filter[stream] && !filter[table] {
			continue
		}

		plan, err := m.plan(ctx, stream, table, entry)
		if err != nil {
			return report, err
		}
		report.Plans = append(report.Plans, plan)
		if plan.Missing {
			continue
		}

		log := m.logger.With(zap.String("stream", stream), zap.String("table", table))
		for _, c := range plan.Incompatible {
			log.Warn("incompatible column change",
				zap.String("column", c.Field),
				zap.String("change", string(c.Type)),
				zap.String("live", describe(c.OldField)),
				zap.String("catalog", describe(c.NewField)))
		}
		if len(plan.Incompatible) > 0 && !opts.ContinueOnIncompatible {
			return report, targeterrors.Newf(targeterrors.ErrorTypeValidation,
				"table %s has %d incompatible column changes", table, len(plan.Incompatible)).
				WithDetail("stream", stream).
				WithDetail("changes", plan.Incompatible)
		}

		if len(plan.Added) == 0 {
			log.Info("table is up to date")
			continue
		}
		if opts.DryRun {
			log.Info("dry run: would add columns", zap.Strings("columns", plan.Added.Names()))
			continue
		}
		if err := m.wh.AlterTableAddColumns(ctx, table, plan.Added); err != nil {
			return report, targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, "failed to add columns").
				WithDetail("stream", stream).
				WithDetail("table", table)
		}
		report.Plans[len(report.Plans)-1].Applied = true
		log.Info("added columns", zap.Strings("columns", plan.Added.Names()))
	}
	return report, nil
}

func (m *Migrator) plan(ctx context.Context, stream, table string, entry CatalogStream) (TablePlan, error) {
	plan := TablePlan{Stream: stream, Table: table}

	node, err := schema.Parse(entry.Schema)
	if err != nil {
		return plan, targeterrors.Wrap(err, targeterrors.ErrorTypeStructural, "invalid catalog schema").
			WithDetail("stream", stream)
	}
	cols, err := schema.Translate(node, m.cfg.NumericFieldType(), m.cfg.IntegerFieldType())
	if err != nil {
		return plan, targeterrors.Wrap(err, targeterrors.ErrorTypeStructural, "failed to translate catalog schema").
			WithDetail("stream", stream)
	}
	desired := m.columnMap.ApplySchema(cols)

	live, err := m.wh.TableSchema(ctx, table)
	if targeterrors.HasType(err, targeterrors.ErrorTypeNotFound) {
		m.logger.Warn("table not found, skipping", zap.String("stream", stream), zap.String("table", table))
		plan.Missing = true
		return plan, nil
	}
	if err != nil {
		return plan, err
	}

	for _, c := range schema.DetectChanges(live, desired) {
		if c.Compatible() {
			plan.Added = append(plan.Added, schema.AdditionMode(*c.NewField))
			continue
		}
		plan.Incompatible = append(plan.Incompatible, c)
	}
	return plan, nil
}

func describe(c *schema.Column) string {
	if c == nil {
		return ""
	}
	return string(c.Type) + " " + string(c.Mode)
}

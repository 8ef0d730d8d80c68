// Package commit moves validated rows into the warehouse. Two strategies are
// available and one is chosen per run:
//
//   - Bulk stages rows per stream and submits one load job when the stream is
//     finalized.
//   - Append inserts each row as it arrives and reports collected insert
//     errors when the stream is finalized.
//
// Strategies are driven from a single goroutine and are not safe for
// concurrent use.
package commit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/target-bigquery/pkg/config"
	"github.com/ajitpratap0/target-bigquery/pkg/logger"
	"github.com/ajitpratap0/target-bigquery/pkg/metrics"
	"github.com/ajitpratap0/target-bigquery/pkg/schema"
	"github.com/ajitpratap0/target-bigquery/pkg/staging"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/ajitpratap0/target-bigquery/pkg/warehouse"
)

// Target is a stream bound to its resolved table.
type Target struct {
	Stream string
	Table  *warehouse.Table
	// Columns is the column schema after remapping.
	Columns schema.ColumnSchema
}

// Outcome reports what Finalize committed for one stream.
type Outcome struct {
	Stream string
	Table  string
	Rows   int64
	JobID  string
	// Skipped is true when there was nothing to commit.
	Skipped bool
}

// Strategy commits rows for a set of streams.
type Strategy interface {
	// Open prepares stream for rows. It replaces any previous binding of the
	// same stream, which must have been finalized first.
	Open(ctx context.Context, target Target) error
	// AcceptRow hands one validated row to the strategy.
	AcceptRow(ctx context.Context, stream string, row map[string]interface{}) error
	// Finalize commits everything accepted for stream since Open.
	Finalize(ctx context.Context, stream string) (Outcome, error)
	// Close releases staging left behind by streams that were never finalized.
	Close(ctx context.Context) error
}

// Rebinder is implemented by strategies that can move an open stream to a new
// target without committing it first. Rows and errors collected so far stay
// with the stream and are reported by its next Finalize.
type Rebinder interface {
	Rebind(ctx context.Context, target Target) error
}

// Options holds the collaborators shared by both strategies.
type Options struct {
	Warehouse warehouse.Warehouse
	ColumnMap schema.ColumnMap
	Logger    *zap.Logger
	Metrics   *metrics.Collector
}

// New builds the strategy selected by cfg. Bulk staging goes to factory.
func New(cfg *config.Config, factory staging.Factory, opts Options) (Strategy, error) {
	switch cfg.CommitMode {
	case config.CommitBulk, "":
		return NewBulk(factory, opts), nil
	case config.CommitAppend:
		return NewAppend(cfg.StreamDelay.Std(), opts), nil
	default:
		return nil, targeterrors.Newf(targeterrors.ErrorTypeConfig, "unknown commit mode %q", cfg.CommitMode)
	}
}

func (o Options) logger() *zap.Logger {
	return logger.OrNop(o.Logger)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func notOpen(stream string) error {
	return targeterrors.New(targeterrors.ErrorTypeInternal, "stream is not open").
		WithDetail("stream", stream)
}

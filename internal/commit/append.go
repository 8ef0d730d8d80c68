package commit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ajitpratap0/target-bigquery/pkg/observability"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
)

var _ Rebinder = (*Append)(nil)

// Append inserts rows one at a time. Insert errors do not stop the stream;
// they are collected and reported by Finalize.
type Append struct {
	opts    Options
	delay   time.Duration
	sleep   func(context.Context, time.Duration) error
	streams map[string]*appendStream
	// waited records streams whose table has already settled.
	waited map[string]bool
}

type appendStream struct {
	target   Target
	open     bool
	rows     int64
	failures int
	errs     error
}

// NewAppend returns an Append strategy that waits delay after a stream's
// table is first confirmed before inserting into it.
func NewAppend(delay time.Duration, opts Options) *Append {
	return &Append{
		opts:    opts,
		delay:   delay,
		sleep:   sleepContext,
		streams: make(map[string]*appendStream),
		waited:  make(map[string]bool),
	}
}

// Open binds target.Stream to its table.
func (a *Append) Open(ctx context.Context, target Target) error {
	if !a.waited[target.Stream] {
		a.opts.logger().Debug("waiting for table metadata to settle",
			zap.String("stream", target.Stream),
			zap.Duration("delay", a.delay))
		if err := a.sleep(ctx, a.delay); err != nil {
			return err
		}
		a.waited[target.Stream] = true
	}
	a.streams[target.Stream] = &appendStream{target: target, open: true}
	return nil
}

// Rebind points an open stream at a new target and keeps its collected insert
// errors, so a schema change never surfaces them before the end of the run.
// A stream that is not open is opened.
func (a *Append) Rebind(ctx context.Context, target Target) error {
	s, ok := a.streams[target.Stream]
	if !ok || !s.open {
		return a.Open(ctx, target)
	}
	a.opts.logger().Debug("rebinding stream",
		zap.String("stream", target.Stream),
		zap.String("table", target.Table.Name),
		zap.Int("pending_failures", s.failures))
	s.target = target
	return nil
}

// AcceptRow inserts row. A rejected insert is recorded and nil is returned.
func (a *Append) AcceptRow(ctx context.Context, stream string, row map[string]interface{}) error {
	s, ok := a.streams[stream]
	if !ok || !s.open {
		return notOpen(stream)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := a.opts.Warehouse.AppendRow(ctx, s.target.Table, a.opts.ColumnMap.ApplyRow(row)); err != nil {
		s.failures++
		s.errs = multierr.Append(s.errs, err)
		a.opts.Metrics.AppendErrors(stream, 1)
		a.opts.logger().Warn("row insert failed",
			zap.String("stream", stream),
			zap.String("table", s.target.Table.Name),
			zap.Error(err))
		return nil
	}
	s.rows++
	a.opts.Metrics.RowsCommitted(stream, 1)
	return nil
}

// Finalize reports the stream's collected insert errors, if any.
func (a *Append) Finalize(ctx context.Context, stream string) (out Outcome, err error) {
	s, ok := a.streams[stream]
	if !ok || !s.open {
		return Outcome{}, notOpen(stream)
	}
	s.open = false

	_, span := observability.StartSpan(ctx, "commit.finalize_append", stream,
		attribute.String("table", s.target.Table.Name),
		attribute.Int64("rows", s.rows),
		attribute.Int("failures", s.failures))
	defer func() { observability.EndSpan(span, err) }()

	out = Outcome{Stream: stream, Table: s.target.Table.Name, Rows: s.rows, Skipped: s.rows == 0 && s.failures == 0}
	if s.errs != nil {
		errs := multierr.Errors(s.errs)
		return out, targeterrors.Wrap(s.errs, targeterrors.ErrorTypeWarehouse, "row inserts failed").
			WithDetail("stream", stream).
			WithDetail("failed_rows", len(errs))
	}
	return out, nil
}

// Close drops per-stream bookkeeping.
func (a *Append) Close(context.Context) error {
	for stream := range a.streams {
		delete(a.streams, stream)
	}
	return nil
}

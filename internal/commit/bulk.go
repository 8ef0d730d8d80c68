package commit

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/target-bigquery/pkg/observability"
	"github.com/ajitpratap0/target-bigquery/pkg/staging"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
)

// Bulk stages rows per stream and loads them with one job per Finalize.
type Bulk struct {
	opts    Options
	factory staging.Factory
	streams map[string]*bulkStream
}

type bulkStream struct {
	target Target
	sink   staging.Sink
}

// NewBulk returns a Bulk strategy staging through factory.
func NewBulk(factory staging.Factory, opts Options) *Bulk {
	return &Bulk{
		opts:    opts,
		factory: factory,
		streams: make(map[string]*bulkStream),
	}
}

// Open opens a fresh staging sink for target.Stream.
func (b *Bulk) Open(ctx context.Context, target Target) error {
	if prev, ok := b.streams[target.Stream]; ok && prev.sink != nil {
		if err := prev.sink.Discard(ctx); err != nil {
			b.opts.logger().Warn("failed to discard staging", zap.String("stream", target.Stream), zap.Error(err))
		}
	}

	sink, err := b.factory.Open(ctx, target.Stream)
	if err != nil {
		return err
	}
	b.streams[target.Stream] = &bulkStream{target: target, sink: sink}
	return nil
}

// AcceptRow remaps row and appends it to the stream's staging sink.
func (b *Bulk) AcceptRow(_ context.Context, stream string, row map[string]interface{}) error {
	s, ok := b.streams[stream]
	if !ok || s.sink == nil {
		return notOpen(stream)
	}
	if err := s.sink.Write(b.opts.ColumnMap.ApplyRow(row)); err != nil {
		return targeterrors.Wrap(err, targeterrors.ErrorTypeData, "failed to stage row").
			WithDetail("stream", stream)
	}
	return nil
}

// Finalize submits the staged rows as one load job and waits for it. The
// staging is discarded whether or not the job succeeds.
func (b *Bulk) Finalize(ctx context.Context, stream string) (out Outcome, err error) {
	s, ok := b.streams[stream]
	if !ok || s.sink == nil {
		return Outcome{}, notOpen(stream)
	}
	log := b.opts.logger().With(zap.String("stream", stream), zap.String("table", s.target.Table.Name))
	out = Outcome{Stream: stream, Table: s.target.Table.Name, Rows: s.sink.Rows()}

	sink := s.sink
	s.sink = nil
	defer func() {
		if derr := sink.Discard(ctx); derr != nil {
			log.Warn("failed to discard staging", zap.Error(derr))
		}
	}()

	if out.Rows == 0 {
		out.Skipped = true
		log.Debug("no rows staged, skipping load job")
		return out, nil
	}

	ctx, span := observability.StartSpan(ctx, "commit.load_job", stream,
		attribute.String("table", out.Table),
		attribute.Int64("rows", out.Rows),
	)
	defer func() { observability.EndSpan(span, err) }()

	src, err := sink.Seal(ctx)
	if err != nil {
		return out, targeterrors.Wrap(err, targeterrors.ErrorTypeData, "failed to seal staging").
			WithDetail("stream", stream)
	}

	timer := b.opts.Metrics.StartLoad(stream)
	job, err := b.opts.Warehouse.SubmitLoadJob(ctx, s.target.Table, s.target.Columns, src)
	elapsed := timer.Stop(err)
	if err != nil {
		log.Error("load job failed",
			zap.Int64("rows", out.Rows),
			zap.Any("schema", s.target.Columns),
			zap.Strings("sample", src.Sample),
			zap.Error(err))
		return out, targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, "load job failed").
			WithDetail("stream", stream).
			WithDetail("schema", s.target.Columns).
			WithDetail("sample", src.Sample)
	}

	out.JobID = job.JobID
	b.opts.Metrics.RowsCommitted(stream, out.Rows)
	log.Info("load job completed",
		zap.String("job_id", job.JobID),
		zap.Int64("rows", out.Rows),
		zap.Int64("output_rows", job.OutputRows),
		zap.Duration("duration", elapsed))
	return out, nil
}

// Close discards any staging that was never finalized.
func (b *Bulk) Close(ctx context.Context) error {
	var firstErr error
	for stream, s := range b.streams {
		if s.sink == nil {
			continue
		}
		if err := s.sink.Discard(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		s.sink = nil
		delete(b.streams, stream)
	}
	return firstErr
}

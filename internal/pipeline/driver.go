// Package pipeline runs a Singer message stream into BigQuery. The Driver
// reads one envelope at a time, keeps per-stream state in a Registry and
// hands accepted rows to a commit strategy. The latest STATE message is
// released as the run's checkpoint only after every stream has been
// committed.
package pipeline

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ajitpratap0/target-bigquery/internal/commit"
	"github.com/ajitpratap0/target-bigquery/pkg/config"
	"github.com/ajitpratap0/target-bigquery/pkg/json"
	"github.com/ajitpratap0/target-bigquery/pkg/logger"
	"github.com/ajitpratap0/target-bigquery/pkg/metrics"
	"github.com/ajitpratap0/target-bigquery/pkg/observability"
	"github.com/ajitpratap0/target-bigquery/pkg/protocol"
	"github.com/ajitpratap0/target-bigquery/pkg/schema"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/ajitpratap0/target-bigquery/pkg/validation"
)

// State is the driver's lifecycle phase.
type State int

const (
	StateAwaitingInput State = iota
	StateDispatching
	StateDraining
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingInput:
		return "awaiting_input"
	case StateDispatching:
		return "dispatching"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Driver processes one input stream. It is single-use and not safe for
// concurrent use.
type Driver struct {
	cfg       *config.Config
	registry  *Registry
	validator *validation.Validator
	strategy  commit.Strategy
	logger    *zap.Logger
	metrics   *metrics.Collector

	state      State
	// checkpoint is the pending STATE value. An accepted record clears it.
	checkpoint json.RawMessage
	warnings   int
	capped     bool
	committed  map[string]int64
}

// NewDriver wires a driver. m may be nil.
func NewDriver(cfg *config.Config, registry *Registry, validator *validation.Validator, strategy commit.Strategy, log *zap.Logger, m *metrics.Collector) *Driver {
	return &Driver{
		cfg:       cfg,
		registry:  registry,
		validator: validator,
		strategy:  strategy,
		logger:    logger.OrNop(log),
		metrics:   m,
		state:     StateAwaitingInput,
		committed: make(map[string]int64),
	}
}

// State returns the current lifecycle phase.
func (d *Driver) State() State {
	return d.state
}

// Run consumes r until EOF, commits every stream and returns the latest
// checkpoint, or nil when no STATE message was seen. On error no checkpoint
// is returned.
func (d *Driver) Run(ctx context.Context, r io.Reader) (checkpoint json.RawMessage, err error) {
	ctx, span := observability.Tracer().Start(ctx, "pipeline.run")
	defer func() {
		span.SetAttributes(attribute.Int("streams", d.registry.Len()))
		observability.EndSpan(span, err)
	}()

	defer func() {
		if cerr := d.strategy.Close(context.WithoutCancel(ctx)); cerr != nil {
			d.logger.Warn("failed to release staging", zap.Error(cerr))
		}
	}()

	if err := d.consume(ctx, protocol.NewReader(r)); err != nil {
		return nil, d.fail(err)
	}

	d.state = StateDraining
	if err := d.drain(ctx); err != nil {
		return nil, d.fail(err)
	}

	d.state = StateDone
	d.summarize()
	return d.checkpoint, nil
}

func (d *Driver) fail(err error) error {
	d.state = StateFailed
	d.logger.Error("run failed, checkpoint withheld", zap.Error(err))
	return err
}

func (d *Driver) consume(ctx context.Context, reader *protocol.Reader) error {
	for {
		if err := ctx.Err(); err != nil {
			return targeterrors.Wrap(err, targeterrors.ErrorTypeInternal, "run cancelled").
				WithDetail("line_number", reader.Line())
		}

		d.state = StateAwaitingInput
		msg, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		d.state = StateDispatching
		d.metrics.Message(string(msg.Type()))
		if err := d.dispatch(ctx, msg); err != nil {
			var terr *targeterrors.Error
			if errors.As(err, &terr) {
				terr.WithDetail("line_number", reader.Line())
			}
			return err
		}
	}
}

func (d *Driver) dispatch(ctx context.Context, msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.SchemaMessage:
		return d.handleSchema(ctx, m)
	case protocol.RecordMessage:
		return d.handleRecord(ctx, m)
	case protocol.StateMessage:
		d.checkpoint = append(json.RawMessage(nil), m.Value...)
		return nil
	case protocol.ActivateVersionMessage:
		d.logger.Debug("ignoring ACTIVATE_VERSION",
			zap.String("stream", m.Stream),
			zap.Int64("version", m.Version))
		return nil
	default:
		return targeterrors.Newf(targeterrors.ErrorTypeStructural, "unrecognized message type %q", msg.Type())
	}
}

func (d *Driver) handleSchema(ctx context.Context, m protocol.SchemaMessage) error {
	node, err := schema.Parse(m.Schema)
	if err != nil {
		return targeterrors.Wrap(err, targeterrors.ErrorTypeStructural, "invalid schema").
			WithDetail("stream", m.Stream)
	}

	if !d.registry.SchemaChanged(m.Stream, node) {
		d.logger.Debug("schema unchanged", zap.String("stream", m.Stream))
		return nil
	}

	// Strategies that commit as they go keep the stream open across the
	// change; staged rows are committed under the previous schema first.
	rebinder, canRebind := d.strategy.(commit.Rebinder)
	prev := d.registry.Get(m.Stream)
	rebind := canRebind && prev != nil && prev.Staged
	if prev != nil && prev.Staged && !rebind {
		d.logger.Info("schema changed, committing rows staged under the previous schema",
			zap.String("stream", m.Stream),
			zap.Int64("rows", prev.RowCount))
		if err := d.finalize(ctx, prev); err != nil {
			return err
		}
	}

	state, err := d.registry.Register(ctx, m.Stream, node)
	if err != nil {
		return err
	}
	state.KeyProperties = m.KeyProperties

	target := commit.Target{
		Stream:  m.Stream,
		Table:   state.Table,
		Columns: state.TargetColumns,
	}
	if rebind {
		err = rebinder.Rebind(ctx, target)
	} else {
		err = d.strategy.Open(ctx, target)
	}
	if err != nil {
		return err
	}
	state.Staged = true
	d.metrics.StreamRegistered(d.registry.Len())
	return nil
}

func (d *Driver) handleRecord(ctx context.Context, m protocol.RecordMessage) error {
	state := d.registry.Get(m.Stream)
	if !state.Registered() {
		return targeterrors.New(targeterrors.ErrorTypeStructural, "record before schema").
			WithDetail("stream", m.Stream)
	}

	row, verdict, err := d.validator.Validate(m.Record, state.Schema)
	if err != nil {
		return err
	}

	if !verdict.Valid {
		switch d.cfg.OnInvalidRecord {
		case config.PolicySkip:
			d.invalid(m.Stream, verdict)
			return nil
		case config.PolicyForce:
			d.invalid(m.Stream, verdict)
		default:
			return targeterrors.Newf(targeterrors.ErrorTypeValidation, "record failed validation: %s", verdict.Message).
				WithDetail("stream", m.Stream).
				WithDetail("field", verdict.Field).
				WithDetail("type", verdict.Type).
				WithDetail("record", verdict.Snapshot)
		}
	}

	if err := d.strategy.AcceptRow(ctx, m.Stream, row); err != nil {
		return err
	}
	d.registry.RecordRow(m.Stream)
	d.metrics.RowsAccepted(m.Stream, 1)
	d.checkpoint = nil
	return nil
}

func (d *Driver) invalid(stream string, v validation.Verdict) {
	d.registry.RecordInvalid(stream)
	d.metrics.RowInvalid(stream, string(d.cfg.OnInvalidRecord))

	if d.warnings < d.cfg.MaxValidationWarnings {
		d.warnings++
		d.logger.Warn("invalid record",
			zap.String("stream", stream),
			zap.String("policy", string(d.cfg.OnInvalidRecord)),
			zap.String("field", v.Field),
			zap.String("type", v.Type),
			zap.String("error", v.Message),
			zap.Any("record", v.Snapshot))
		return
	}
	if !d.capped {
		d.capped = true
		d.logger.Warn("max validation warnings reached",
			zap.Int("max_validation_warnings", d.cfg.MaxValidationWarnings))
	}
}

// finalize commits one stream and closes its staging.
func (d *Driver) finalize(ctx context.Context, s *StreamState) error {
	out, err := d.strategy.Finalize(ctx, s.Name)
	s.Staged = false
	if err != nil {
		return err
	}
	d.committed[s.Name] += out.Rows
	return nil
}

// drain finalizes every staged stream in registration order. All streams are
// attempted; any failure fails the run.
func (d *Driver) drain(ctx context.Context) error {
	var errs error
	_ = d.registry.ForEach(func(s *StreamState) error {
		if !s.Staged {
			return nil
		}
		errs = multierr.Append(errs, d.finalize(ctx, s))
		return nil
	})
	return errs
}

func (d *Driver) summarize() {
	_ = d.registry.ForEach(func(s *StreamState) error {
		if !s.Registered() {
			return nil
		}
		d.logger.Info("stream committed",
			zap.String("stream", s.Name),
			zap.String("table", s.Table.Name),
			zap.Int64("rows", s.RowCount),
			zap.Int64("invalid", s.InvalidCount),
			zap.Int64("committed", d.committed[s.Name]))
		return nil
	})
}

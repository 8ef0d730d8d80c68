package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/target-bigquery/internal/commit"
	"github.com/ajitpratap0/target-bigquery/pkg/config"
	"github.com/ajitpratap0/target-bigquery/pkg/json"
	"github.com/ajitpratap0/target-bigquery/pkg/metrics"
	"github.com/ajitpratap0/target-bigquery/pkg/staging"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/ajitpratap0/target-bigquery/pkg/testutil"
	"github.com/ajitpratap0/target-bigquery/pkg/validation"
)

type harness struct {
	cfg    *config.Config
	wh     *testutil.MemoryWarehouse
	driver *Driver
}

func newHarness(t *testing.T, cfg *config.Config, log *zap.Logger) *harness {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = testutil.TestLogger(t)
	}
	wh := testutil.NewMemoryWarehouse()
	opts := commit.Options{Warehouse: wh, ColumnMap: cfg.ColumnMap, Logger: log, Metrics: metrics.New()}
	strategy, err := commit.New(cfg, staging.FileFactory{Dir: t.TempDir()}, opts)
	require.NoError(t, err)

	d := NewDriver(cfg,
		NewRegistry(cfg, wh, log),
		validation.New(log, cfg.UnknownColumn),
		strategy, log, opts.Metrics)
	return &harness{cfg: cfg, wh: wh, driver: d}
}

func (h *harness) run(t *testing.T, msgs ...string) (json.RawMessage, error) {
	t.Helper()
	return h.driver.Run(testutil.TestContext(t), testutil.Lines(msgs...))
}

func TestEndToEndUsers(t *testing.T) {
	h := newHarness(t, nil, nil)

	cp, err := h.run(t,
		testutil.SchemaLine("users", usersSchema, "id"),
		testutil.RecordLine("users", `{"id":"1","name":"Ann"}`),
		testutil.StateLine(`{"users":1}`),
	)
	require.NoError(t, err)
	assert.Equal(t, `{"users":1}`, string(cp))
	assert.Equal(t, StateDone, h.driver.State())

	require.Equal(t, 1, h.wh.LoadCount())
	load := h.wh.Loads[0]
	assert.Equal(t, "users", load.Table)
	assert.Equal(t, []string{"id", "name"}, load.Columns.Names())
	require.Len(t, load.Rows, 1)
	assert.Equal(t, map[string]interface{}{"id": json.Number("1"), "name": "Ann"}, load.Rows[0])

	users := h.driver.registry.Get("users")
	assert.Equal(t, []string{"id"}, users.KeyProperties)
	assert.Equal(t, int64(1), users.RowCount)
}

func TestNoStateMeansNilCheckpoint(t *testing.T) {
	h := newHarness(t, nil, nil)
	cp, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		testutil.RecordLine("users", `{"id":1}`),
	)
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.Equal(t, 1, h.wh.LoadCount())
}

func TestLatestCheckpointWins(t *testing.T) {
	h := newHarness(t, nil, nil)
	cp, err := h.run(t,
		testutil.StateLine(`{"users":0}`),
		testutil.SchemaLine("users", usersSchema),
		testutil.RecordLine("users", `{"id":1}`),
		testutil.StateLine(`{"users":1}`),
		testutil.ActivateVersionLine("users", 7),
		testutil.RecordLine("users", `{"id":2}`),
		testutil.StateLine(`{"users":2}`),
	)
	require.NoError(t, err)
	assert.Equal(t, `{"users":2}`, string(cp))
	assert.Len(t, h.wh.Loads[0].Rows, 2)
}

func TestRecordClearsPendingCheckpoint(t *testing.T) {
	h := newHarness(t, nil, nil)
	cp, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		testutil.StateLine(`{"users":0}`),
		testutil.RecordLine("users", `{"id":1}`),
	)
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.Equal(t, 1, h.wh.LoadCount())
}

func TestForcedRecordClearsPendingCheckpoint(t *testing.T) {
	cfg := config.Default()
	cfg.OnInvalidRecord = config.PolicyForce
	h := newHarness(t, cfg, nil)

	cp, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		testutil.StateLine(`{"users":0}`),
		testutil.RecordLine("users", `{"id":"abc"}`),
	)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestRecordBeforeSchema(t *testing.T) {
	h := newHarness(t, nil, nil)
	cp, err := h.run(t,
		testutil.StateLine(`{"users":1}`),
		testutil.RecordLine("users", `{"id":1}`),
	)
	require.Error(t, err)
	assert.Nil(t, cp)
	assert.True(t, targeterrors.IsType(err, targeterrors.ErrorTypeStructural))
	assert.Contains(t, err.Error(), "record before schema")
	assert.Equal(t, StateFailed, h.driver.State())
}

func TestMalformedLineIsFatal(t *testing.T) {
	h := newHarness(t, nil, nil)
	cp, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		`{"type":"RECORD",`,
	)
	require.Error(t, err)
	assert.Nil(t, cp)
	assert.True(t, targeterrors.IsType(err, targeterrors.ErrorTypeStructural))
	assert.Equal(t, 0, h.wh.LoadCount())
}

func TestUnknownMessageTypeIsFatal(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.run(t, `{"type":"BATCH","stream":"users"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unrecognized message type "BATCH"`)
}

func TestBlankLinesSkipped(t *testing.T) {
	h := newHarness(t, nil, nil)
	cp, err := h.run(t,
		"",
		testutil.SchemaLine("users", usersSchema),
		"   ",
		testutil.StateLine(`{"ok":true}`),
	)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(cp))
}

func TestPolicyAbort(t *testing.T) {
	h := newHarness(t, nil, nil)
	cp, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		testutil.RecordLine("users", `{"id":1}`),
		testutil.StateLine(`{"users":1}`),
		testutil.RecordLine("users", `{"id":"abc"}`),
	)
	require.Error(t, err)
	assert.Nil(t, cp)
	assert.True(t, targeterrors.IsType(err, targeterrors.ErrorTypeValidation))
	assert.True(t, targeterrors.IsFatal(err))

	var te *targeterrors.Error
	require.ErrorAs(t, err, &te)
	field, _ := te.Detail("field")
	assert.Equal(t, "id", field)
	assert.Equal(t, 0, h.wh.LoadCount())
}

func TestPolicySkip(t *testing.T) {
	cfg := config.Default()
	cfg.OnInvalidRecord = config.PolicySkip
	h := newHarness(t, cfg, nil)

	cp, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		testutil.RecordLine("users", `{"id":1}`),
		testutil.StateLine(`{"users":1}`),
		testutil.RecordLine("users", `{"id":"abc"}`),
	)
	require.NoError(t, err)
	assert.Equal(t, `{"users":1}`, string(cp))

	users := h.driver.registry.Get("users")
	assert.Equal(t, int64(1), users.RowCount)
	assert.Equal(t, int64(1), users.InvalidCount)
	assert.Len(t, h.wh.Loads[0].Rows, 1)
}

func TestPolicyForce(t *testing.T) {
	cfg := config.Default()
	cfg.OnInvalidRecord = config.PolicyForce
	h := newHarness(t, cfg, nil)

	cp, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		testutil.RecordLine("users", `{"id":"abc","name":"Bo"}`),
		testutil.StateLine(`{"users":1}`),
	)
	require.NoError(t, err)
	assert.Equal(t, `{"users":1}`, string(cp))

	users := h.driver.registry.Get("users")
	assert.Equal(t, int64(1), users.RowCount)
	assert.Equal(t, int64(1), users.InvalidCount)

	rows := h.wh.Loads[0].Rows
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0]["id"])
	assert.Equal(t, "Bo", rows[0]["name"])
}

func TestRepairCoercion(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		testutil.RecordLine("users", `{"id":"42"}`),
	)
	require.NoError(t, err)
	assert.Equal(t, json.Number("42"), h.wh.Loads[0].Rows[0]["id"])
	assert.Zero(t, h.driver.registry.Get("users").InvalidCount)
}

func TestCheckpointWithheldOnFinalizeFailure(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.wh.FailLoad = errors.New("quota exceeded")

	cp, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		testutil.SchemaLine("orders", usersSchema),
		testutil.RecordLine("users", `{"id":1}`),
		testutil.RecordLine("orders", `{"id":2}`),
		testutil.StateLine(`{"users":1,"orders":2}`),
	)
	require.Error(t, err)
	assert.Nil(t, cp)
	assert.True(t, targeterrors.HasType(err, targeterrors.ErrorTypeWarehouse))
	assert.Equal(t, StateFailed, h.driver.State())
}

func TestCheckpointWithheldWhenOneStreamFails(t *testing.T) {
	cfg := config.Default()
	cfg.CommitMode = config.CommitAppend
	cfg.StreamDelay = 0
	h := newHarness(t, cfg, nil)
	h.wh.FailAppend = func(table string, _ map[string]interface{}) error {
		if table == "orders" {
			return errors.New("no such field")
		}
		return nil
	}

	cp, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		testutil.SchemaLine("orders", usersSchema),
		testutil.RecordLine("users", `{"id":1}`),
		testutil.RecordLine("orders", `{"id":2}`),
		testutil.RecordLine("orders", `{"id":3}`),
		testutil.StateLine(`{"users":1,"orders":2}`),
	)
	require.Error(t, err)
	assert.Nil(t, cp)
	// users committed before the failure was reported
	assert.Len(t, h.wh.Table("users").Rows, 1)
	assert.Empty(t, h.wh.Table("orders").Rows)
}

func TestZeroRowStreamSkipsLoad(t *testing.T) {
	h := newHarness(t, nil, nil)
	cp, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		testutil.SchemaLine("orders", usersSchema),
		testutil.RecordLine("users", `{"id":1}`),
		testutil.StateLine(`{"done":true}`),
	)
	require.NoError(t, err)
	assert.Equal(t, `{"done":true}`, string(cp))
	require.Equal(t, 1, h.wh.LoadCount())
	assert.Equal(t, "users", h.wh.Loads[0].Table)
	assert.NotNil(t, h.wh.Table("orders"))
}

func TestSchemaChangeCommitsPreviousRows(t *testing.T) {
	h := newHarness(t, nil, nil)
	widened := `{"type":"object","properties":{"id":{"type":["null","integer"]},"name":{"type":["null","string"]},"email":{"type":["null","string"]}}}`

	_, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		testutil.RecordLine("users", `{"id":1,"name":"a"}`),
		testutil.SchemaLine("users", usersSchema),
		testutil.RecordLine("users", `{"id":2,"name":"b"}`),
		testutil.SchemaLine("users", widened),
		testutil.RecordLine("users", `{"id":3,"email":"c@x"}`),
	)
	require.NoError(t, err)

	require.Equal(t, 2, h.wh.LoadCount())
	assert.Len(t, h.wh.Loads[0].Rows, 2)
	assert.Equal(t, []string{"id", "name"}, h.wh.Loads[0].Columns.Names())
	assert.Len(t, h.wh.Loads[1].Rows, 1)
	assert.Equal(t, []string{"id", "name", "email"}, h.wh.Loads[1].Columns.Names())
	assert.Equal(t, []string{"id", "name", "email"}, h.wh.Table("users").Columns.Names())
	assert.Equal(t, []string{"email"}, h.wh.Alterations["users"].Names())
}

func TestAppendSchemaChangeDefersInsertErrors(t *testing.T) {
	cfg := config.Default()
	cfg.CommitMode = config.CommitAppend
	cfg.StreamDelay = 0
	h := newHarness(t, cfg, nil)
	h.wh.FailAppend = func(_ string, row map[string]interface{}) error {
		if row["id"] == json.Number("1") {
			return errors.New("quota exceeded")
		}
		return nil
	}
	widened := `{"type":"object","properties":{"id":{"type":["null","integer"]},"name":{"type":["null","string"]},"email":{"type":["null","string"]}}}`

	cp, err := h.run(t,
		testutil.SchemaLine("users", usersSchema),
		testutil.RecordLine("users", `{"id":1}`),
		testutil.SchemaLine("users", widened),
		testutil.RecordLine("users", `{"id":2,"email":"b@x"}`),
		testutil.StateLine(`{"users":2}`),
	)
	require.Error(t, err)
	assert.Nil(t, cp)
	assert.True(t, targeterrors.HasType(err, targeterrors.ErrorTypeWarehouse))

	// the failure surfaced at drain, after the rest of the input was consumed
	var te *targeterrors.Error
	require.ErrorAs(t, err, &te)
	_, atLine := te.Detail("line_number")
	assert.False(t, atLine)

	rows := h.wh.Table("users").Rows
	require.Len(t, rows, 1)
	assert.Equal(t, "b@x", rows[0]["email"])
}

func TestValidationWarningCap(t *testing.T) {
	log, logs := testutil.ObservedLogger(zapcore.WarnLevel)
	cfg := config.Default()
	cfg.OnInvalidRecord = config.PolicySkip
	cfg.MaxValidationWarnings = 2
	h := newHarness(t, cfg, log)

	msgs := []string{testutil.SchemaLine("users", usersSchema)}
	for i := 0; i < 5; i++ {
		msgs = append(msgs, testutil.RecordLine("users", `{"id":"nope"}`))
	}
	_, err := h.run(t, msgs...)
	require.NoError(t, err)

	assert.Equal(t, 2, logs.FilterMessage("invalid record").Len())
	assert.Equal(t, 1, logs.FilterMessage("max validation warnings reached").Len())
	assert.Equal(t, int64(5), h.driver.registry.Get("users").InvalidCount)
}

func TestUnknownColumnPolicies(t *testing.T) {
	t.Run("drop", func(t *testing.T) {
		h := newHarness(t, nil, nil)
		_, err := h.run(t,
			testutil.SchemaLine("users", usersSchema),
			testutil.RecordLine("users", `{"id":1,"extra":true}`),
		)
		require.NoError(t, err)
		assert.NotContains(t, h.wh.Loads[0].Rows[0], "extra")
	})

	t.Run("invalidate", func(t *testing.T) {
		cfg := config.Default()
		cfg.UnknownColumn = config.UnknownColumnInvalidate
		h := newHarness(t, cfg, nil)
		_, err := h.run(t,
			testutil.SchemaLine("users", usersSchema),
			testutil.RecordLine("users", `{"id":1,"extra":true}`),
		)
		assert.True(t, targeterrors.IsType(err, targeterrors.ErrorTypeValidation))
	})
}

func TestCancelledContextFailsRun(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cp, err := h.driver.Run(ctx, testutil.Lines(testutil.StateLine(`{"a":1}`)))
	require.Error(t, err)
	assert.Nil(t, cp)
	assert.ErrorIs(t, err, context.Canceled)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestReadErrorFailsRun(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.driver.Run(context.Background(), failingReader{})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

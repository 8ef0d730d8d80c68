package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/target-bigquery/pkg/config"
	"github.com/ajitpratap0/target-bigquery/pkg/metrics"
	"github.com/ajitpratap0/target-bigquery/pkg/schema"
	"github.com/ajitpratap0/target-bigquery/pkg/staging"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/ajitpratap0/target-bigquery/pkg/testutil"
)

const usersSchema = `{"type":"object","properties":{"id":{"type":["null","integer"]},"name":{"type":["null","string"]}}}`

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ProjectID = "proj"
	cfg.DatasetID = "ds"
	return cfg
}

func TestRunSyncWritesCheckpoint(t *testing.T) {
	wh := testutil.NewMemoryWarehouse()
	var out bytes.Buffer

	err := runSync(testutil.TestContext(t), testConfig(), wh, staging.FileFactory{Dir: t.TempDir()},
		testutil.Lines(
			testutil.SchemaLine("users", usersSchema),
			testutil.RecordLine("users", `{"id":"1","name":"Ann"}`),
			testutil.StateLine(`{"users":1}`),
		), &out, testutil.TestLogger(t), metrics.New())
	require.NoError(t, err)

	assert.Equal(t, "{\"users\":1}\n", out.String())
	require.Equal(t, 1, wh.LoadCount())
}

func TestRunSyncFailureWritesNothing(t *testing.T) {
	wh := testutil.NewMemoryWarehouse()
	wh.FailLoad = errors.New("boom")
	var out bytes.Buffer

	err := runSync(testutil.TestContext(t), testConfig(), wh, staging.FileFactory{Dir: t.TempDir()},
		testutil.Lines(
			testutil.SchemaLine("users", usersSchema),
			testutil.RecordLine("users", `{"id":1}`),
			testutil.StateLine(`{"users":1}`),
		), &out, testutil.TestLogger(t), nil)
	require.Error(t, err)
	assert.Empty(t, out.String())
}

func TestRunSyncWithoutStateWritesNothing(t *testing.T) {
	var out bytes.Buffer
	err := runSync(testutil.TestContext(t), testConfig(), testutil.NewMemoryWarehouse(), staging.FileFactory{Dir: t.TempDir()},
		testutil.Lines(testutil.SchemaLine("users", usersSchema)), &out, testutil.TestLogger(t), nil)
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestRunMigration(t *testing.T) {
	wh := testutil.NewMemoryWarehouse()
	wh.AddTable("users", schema.ColumnSchema{{Name: "id", Type: schema.FieldTypeInteger, Mode: schema.ModeNullable}})
	catalog := testutil.WriteFile(t, "catalog.json", `{"streams":[{"stream":"users","schema":`+usersSchema+`}]}`)

	err := runMigration(testutil.TestContext(t), testConfig(), wh, options{catalogPath: catalog}, testutil.TestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, wh.Table("users").Columns.Names())
}

func TestLoadConfig(t *testing.T) {
	path := testutil.WriteFile(t, "config.json", `{"project_id":"p","dataset_id":"d","stream":true}`)

	cfg, err := loadConfig(options{configPath: path, logLevel: "DEBUG"})
	require.NoError(t, err)
	assert.Equal(t, config.CommitAppend, cfg.CommitMode)
	assert.Equal(t, "DEBUG", cfg.LogLevel)

	_, err = loadConfig(options{configPath: path, logLevel: "LOUD"})
	assert.True(t, targeterrors.IsType(err, targeterrors.ErrorTypeConfig))

	missing := testutil.WriteFile(t, "bad.json", `{"dataset_id":"d"}`)
	_, err = loadConfig(options{configPath: missing})
	assert.ErrorContains(t, err, "project_id is required")
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "target-bigquery v"+version)
}

func TestRootRequiresConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	assert.Error(t, cmd.Execute())
}

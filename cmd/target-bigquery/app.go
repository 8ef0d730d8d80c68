package main

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/ajitpratap0/target-bigquery/internal/commit"
	"github.com/ajitpratap0/target-bigquery/internal/pipeline"
	"github.com/ajitpratap0/target-bigquery/pkg/config"
	"github.com/ajitpratap0/target-bigquery/pkg/json"
	"github.com/ajitpratap0/target-bigquery/pkg/logger"
	"github.com/ajitpratap0/target-bigquery/pkg/metrics"
	"github.com/ajitpratap0/target-bigquery/pkg/migrate"
	"github.com/ajitpratap0/target-bigquery/pkg/observability"
	"github.com/ajitpratap0/target-bigquery/pkg/staging"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/ajitpratap0/target-bigquery/pkg/validation"
	"github.com/ajitpratap0/target-bigquery/pkg/warehouse"
	"github.com/ajitpratap0/target-bigquery/pkg/warehouse/bigquery"
)

// options are the command line flags.
type options struct {
	configPath             string
	catalogPath            string
	dryRun                 bool
	continueOnIncompatible bool
	tables                 string
	logLevel               string
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		return targeterrors.Wrap(err, targeterrors.ErrorTypeConfig, "failed to create logger")
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("project", cfg.ProjectID), zap.String("dataset", cfg.DatasetID))

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		Enabled:        cfg.EnableTracing,
		ServiceName:    "target-bigquery",
		ServiceVersion: version,
		SamplingRate:   1.0,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		stop := m.Serve(cfg.MetricsAddr, log)
		defer func() { _ = stop(context.WithoutCancel(ctx)) }()
	}

	wh, err := bigquery.New(ctx, bigquery.Config{
		ProjectID:       cfg.ProjectID,
		DatasetID:       cfg.DatasetID,
		Location:        cfg.Location,
		CredentialsPath: cfg.CredentialsPath,
		LoadTimeout:     cfg.LoadTimeout.Std(),
	}, log)
	if err != nil {
		log.Error("failed to connect to BigQuery", zap.Error(err))
		return err
	}
	defer wh.Close()

	if opts.catalogPath != "" {
		return runMigration(ctx, cfg, wh, opts, log)
	}

	if err := wh.GetOrCreateDataset(ctx); err != nil {
		log.Error("failed to prepare dataset", zap.Error(err))
		return err
	}

	factory, closeStaging, err := newStagingFactory(ctx, cfg)
	if err != nil {
		log.Error("failed to prepare staging", zap.Error(err))
		return err
	}
	defer closeStaging()

	return runSync(ctx, cfg, wh, factory, in, out, log, m)
}

// loadConfig reads the config file, applies environment overrides and the
// --log-level flag, then validates.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, targeterrors.Wrap(err, targeterrors.ErrorTypeConfig, "failed to load configuration")
	}
	config.ApplyEnvOverrides(cfg)
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, targeterrors.Wrap(err, targeterrors.ErrorTypeConfig, "invalid configuration")
	}
	return cfg, nil
}

func newStagingFactory(ctx context.Context, cfg *config.Config) (staging.Factory, func(), error) {
	if cfg.StagingBucket == "" || cfg.CommitMode != config.CommitBulk {
		return staging.FileFactory{}, func() {}, nil
	}
	store, err := staging.NewGCSStore(ctx, cfg.StagingBucket, cfg.CredentialsPath)
	if err != nil {
		return nil, nil, err
	}
	return staging.GCSFactory{Store: store, Prefix: cfg.StagingPrefix}, func() { _ = store.Close() }, nil
}

// runSync drives the message stream from in and writes the checkpoint line
// to out on success.
func runSync(ctx context.Context, cfg *config.Config, wh warehouse.Warehouse, factory staging.Factory, in io.Reader, out io.Writer, log *zap.Logger, m *metrics.Collector) error {
	strategy, err := commit.New(cfg, factory, commit.Options{
		Warehouse: wh,
		ColumnMap: cfg.ColumnMap,
		Logger:    log,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	driver := pipeline.NewDriver(cfg,
		pipeline.NewRegistry(cfg, wh, log),
		validation.New(log, cfg.UnknownColumn),
		strategy, log, m)

	checkpoint, err := driver.Run(ctx, in)
	if err != nil {
		return err
	}
	if checkpoint == nil {
		log.Info("run completed without a checkpoint")
		return nil
	}

	line, err := json.MarshalLine(checkpoint)
	if err != nil {
		return targeterrors.Wrap(err, targeterrors.ErrorTypeData, "failed to encode checkpoint")
	}
	if _, err := out.Write(line); err != nil {
		return targeterrors.Wrap(err, targeterrors.ErrorTypeData, "failed to write checkpoint")
	}
	return nil
}

func runMigration(ctx context.Context, cfg *config.Config, wh warehouse.Warehouse, opts options, log *zap.Logger) error {
	catalog, err := migrate.LoadCatalog(opts.catalogPath)
	if err != nil {
		return err
	}

	report, err := migrate.New(cfg, wh, log).Run(ctx, catalog, migrate.Options{
		DryRun:                 opts.dryRun,
		ContinueOnIncompatible: opts.continueOnIncompatible,
		Tables:                 migrate.ParseTables(opts.tables),
	})
	if err != nil {
		log.Error("schema migration failed", zap.Error(err))
		return err
	}

	var applied, missing int
	for _, p := range report.Plans {
		if p.Applied {
			applied++
		}
		if p.Missing {
			missing++
		}
	}
	log.Info("schema migration finished",
		zap.Bool("dryrun", opts.dryRun),
		zap.Int("tables", len(report.Plans)),
		zap.Int("altered", applied),
		zap.Int("missing", missing))
	return nil
}

// Package bigquery implements warehouse.Warehouse on Google BigQuery.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/target-bigquery/pkg/logger"
	"github.com/ajitpratap0/target-bigquery/pkg/schema"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/ajitpratap0/target-bigquery/pkg/warehouse"
)

// Config holds the connection settings.
type Config struct {
	ProjectID       string
	DatasetID       string
	Location        string
	CredentialsPath string
	LoadTimeout     time.Duration
}

// Client talks to one BigQuery dataset.
type Client struct {
	client      *bigquery.Client
	dataset     *bigquery.Dataset
	datasetID   string
	location    string
	loadTimeout time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	inserters map[string]*bigquery.Inserter
}

var _ warehouse.Warehouse = (*Client)(nil)

// New creates the BigQuery client. Credentials come from CredentialsPath when
// set, otherwise from Application Default Credentials.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, "failed to create BigQuery client")
	}

	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Minute
	}

	return &Client{
		client:      client,
		dataset:     client.Dataset(cfg.DatasetID),
		datasetID:   cfg.DatasetID,
		location:    cfg.Location,
		loadTimeout: cfg.LoadTimeout,
		logger:      logger.OrNop(log).With(zap.String("dataset", cfg.DatasetID)),
		inserters:   make(map[string]*bigquery.Inserter),
	}, nil
}

// GetOrCreateDataset creates the dataset in the configured location if it
// does not exist yet.
func (c *Client) GetOrCreateDataset(ctx context.Context) error {
	_, err := c.dataset.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return classify(err, "failed to get dataset").WithDetail("dataset", c.datasetID)
	}

	err = c.dataset.Create(ctx, &bigquery.DatasetMetadata{Location: c.location})
	switch {
	case err == nil:
		c.logger.Info("created dataset", zap.String("location", c.location))
		return nil
	case isConflict(err):
		// Another writer created it first.
		if _, err := c.dataset.Metadata(ctx); err != nil {
			return classify(err, "failed to both get and create dataset").WithDetail("dataset", c.datasetID)
		}
		return nil
	default:
		return classify(err, "failed to create dataset").WithDetail("dataset", c.datasetID)
	}
}

// GetOrCreateTable returns the live table, creating it with cols,
// partitioning and clustering when it does not exist.
func (c *Client) GetOrCreateTable(ctx context.Context, name string, cols schema.ColumnSchema, partitioning *warehouse.Partitioning, clustering []string) (*warehouse.Table, error) {
	t := c.dataset.Table(name)

	md, err := t.Metadata(ctx)
	if err == nil {
		return &warehouse.Table{Name: name, Columns: FromBigQuery(md.Schema)}, nil
	}
	if !isNotFound(err) {
		return nil, classify(err, "failed to get table").WithDetail("table", name)
	}

	meta := &bigquery.TableMetadata{
		Schema:           ToBigQuery(cols),
		TimePartitioning: toTimePartitioning(partitioning),
	}
	if len(clustering) > 0 {
		meta.Clustering = &bigquery.Clustering{Fields: clustering}
	}

	c.logger.Info("creating table",
		zap.String("table", name),
		zap.Bool("partitioned", meta.TimePartitioning != nil),
		zap.Strings("clustering", clustering))

	err = t.Create(ctx, meta)
	switch {
	case err == nil:
		return &warehouse.Table{Name: name, Columns: cols, Created: true}, nil
	case isConflict(err):
		c.logger.Info("table created concurrently, reloading", zap.String("table", name))
		md, err := t.Metadata(ctx)
		if err != nil {
			return nil, classify(err, "failed to both get and create table").WithDetail("table", name)
		}
		return &warehouse.Table{Name: name, Columns: FromBigQuery(md.Schema)}, nil
	default:
		return nil, classify(err, "failed to create table").
			WithDetail("table", name).
			WithDetail("schema", cols)
	}
}

// TableSchema returns the live schema of a table.
func (c *Client) TableSchema(ctx context.Context, name string) (schema.ColumnSchema, error) {
	md, err := c.dataset.Table(name).Metadata(ctx)
	if err != nil {
		return nil, classify(err, "failed to get table").WithDetail("table", name)
	}
	return FromBigQuery(md.Schema), nil
}

// SubmitLoadJob runs one NDJSON load job appending src to table and waits for
// it to finish.
func (c *Client) SubmitLoadJob(ctx context.Context, table *warehouse.Table, cols schema.ColumnSchema, src warehouse.DataSource) (warehouse.JobOutcome, error) {
	source, err := loadSource(cols, src)
	if err != nil {
		return warehouse.JobOutcome{}, err
	}

	loader := c.dataset.Table(table.Name).LoaderFrom(source)
	loader.WriteDisposition = bigquery.WriteAppend
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.JobID = newJobID(table.Name)
	loader.Location = c.location
	loader.Labels = map[string]string{
		"source": "target-bigquery",
		"type":   "bulk_load",
	}

	c.logger.Info("submitting load job",
		zap.String("table", table.Name),
		zap.String("job_id", loader.JobID),
		zap.Int64("rows", src.Rows),
		zap.String("uri", src.URI))

	job, err := loader.Run(ctx)
	if err != nil {
		return warehouse.JobOutcome{}, classify(err, "failed to submit load job").
			WithDetail("table", table.Name).
			WithDetail("schema", cols).
			WithDetail("sample", src.Sample)
	}

	jobCtx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	status, err := job.Wait(jobCtx)
	if err != nil {
		return warehouse.JobOutcome{JobID: job.ID()}, targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, "load job failed or timed out").
			WithDetail("job_id", job.ID()).
			WithDetail("table", table.Name)
	}

	if status.Err() != nil {
		messages := make([]string, 0, len(status.Errors))
		for i, jobErr := range status.Errors {
			c.logger.Error("load job error detail",
				zap.Int("error_index", i),
				zap.String("message", jobErr.Message),
				zap.String("reason", jobErr.Reason),
				zap.String("location", jobErr.Location))
			messages = append(messages, jobErr.Message)
		}
		return warehouse.JobOutcome{JobID: job.ID()}, targeterrors.Wrap(status.Err(), targeterrors.ErrorTypeWarehouse, "load job failed").
			WithDetail("job_id", job.ID()).
			WithDetail("table", table.Name).
			WithDetail("errors", messages).
			WithDetail("schema", cols).
			WithDetail("sample", src.Sample)
	}

	outcome := warehouse.JobOutcome{JobID: job.ID()}
	if status.Statistics != nil {
		if stats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
			outcome.OutputRows = stats.OutputRows
			outcome.InputBytes = stats.InputFileBytes
		}
	}

	c.logger.Info("load job completed",
		zap.String("table", table.Name),
		zap.String("job_id", outcome.JobID),
		zap.Int64("output_rows", outcome.OutputRows),
		zap.Int64("input_file_bytes", outcome.InputBytes))

	return outcome, nil
}

func loadSource(cols schema.ColumnSchema, src warehouse.DataSource) (bigquery.LoadSource, error) {
	switch {
	case src.URI != "":
		ref := bigquery.NewGCSReference(src.URI)
		ref.SourceFormat = bigquery.JSON
		ref.Schema = ToBigQuery(cols)
		return ref, nil
	case src.Reader != nil:
		rs := bigquery.NewReaderSource(src.Reader)
		rs.SourceFormat = bigquery.JSON
		rs.Schema = ToBigQuery(cols)
		return rs, nil
	default:
		return nil, targeterrors.New(targeterrors.ErrorTypeInternal, "load job has no data source")
	}
}

// AppendRow inserts one row through the streaming API.
func (c *Client) AppendRow(ctx context.Context, table *warehouse.Table, row map[string]interface{}) error {
	ins := c.inserter(table.Name)
	if err := ins.Put(ctx, rowSaver{row: row, insertID: uuid.NewString()}); err != nil {
		var multi bigquery.PutMultiError
		if errors.As(err, &multi) {
			messages := make([]string, 0, len(multi))
			for _, rowErr := range multi {
				messages = append(messages, rowErr.Error())
			}
			return targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, "row rejected").
				WithDetail("table", table.Name).
				WithDetail("errors", messages)
		}
		return classify(err, "failed to insert row").WithDetail("table", table.Name)
	}
	return nil
}

func (c *Client) inserter(table string) *bigquery.Inserter {
	c.mu.Lock()
	defer c.mu.Unlock()

	ins, ok := c.inserters[table]
	if !ok {
		ins = c.dataset.Table(table).Inserter()
		c.inserters[table] = ins
	}
	return ins
}

// AlterTableAddColumns appends columns to a live table. Existing columns are
// left untouched.
func (c *Client) AlterTableAddColumns(ctx context.Context, name string, cols schema.ColumnSchema) error {
	t := c.dataset.Table(name)
	md, err := t.Metadata(ctx)
	if err != nil {
		return classify(err, "failed to get table").WithDetail("table", name)
	}

	update := bigquery.TableMetadataToUpdate{
		Schema: append(md.Schema, ToBigQuery(cols)...),
	}
	if _, err := t.Update(ctx, update, md.ETag); err != nil {
		return classify(err, "failed to add columns").
			WithDetail("table", name).
			WithDetail("columns", cols.Names())
	}
	return nil
}

// Close releases the client.
func (c *Client) Close() error {
	return c.client.Close()
}

func newJobID(table string) string {
	return fmt.Sprintf("target_bigquery_%s_%s", sanitizeJobID(table), strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Job IDs allow letters, digits, dashes and underscores, up to 1024 chars.
func sanitizeJobID(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 256 {
		out = out[:256]
	}
	return out
}

func apiCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

func isNotFound(err error) bool {
	return apiCode(err) == http.StatusNotFound
}

func isConflict(err error) bool {
	return apiCode(err) == http.StatusConflict
}

// classify maps API status codes onto the error taxonomy.
func classify(err error, message string) *targeterrors.Error {
	switch apiCode(err) {
	case http.StatusNotFound:
		return targeterrors.Wrap(err, targeterrors.ErrorTypeNotFound, message)
	case http.StatusConflict:
		return targeterrors.Wrap(err, targeterrors.ErrorTypeConflict, message)
	default:
		return targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, message)
	}
}

// Package config loads and validates the target's configuration.
//
// A run is configured from a single JSON or YAML file. ${VAR_NAME} references
// in the file are substituted from the environment before parsing, and
// TARGET_BIGQUERY_* variables override individual keys afterwards.
//
//	cfg, err := config.Load("config.json")
//	if err != nil {
//	    return err
//	}
//	config.ApplyEnvOverrides(cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ajitpratap0/target-bigquery/pkg/logger"
	"github.com/ajitpratap0/target-bigquery/pkg/schema"
)

// InvalidRecordPolicy decides what happens to a record that fails validation.
type InvalidRecordPolicy string

const (
	// PolicyAbort fails the run on the first invalid record.
	PolicyAbort InvalidRecordPolicy = "abort"
	// PolicySkip counts and drops invalid records.
	PolicySkip InvalidRecordPolicy = "skip"
	// PolicyForce keeps invalid records with their offending fields nulled.
	PolicyForce InvalidRecordPolicy = "force"
)

// UnknownColumnPolicy decides what a record field missing from the schema does
// to the record's verdict. The field is stripped either way.
type UnknownColumnPolicy string

const (
	// UnknownColumnDrop strips unknown fields and logs a warning.
	UnknownColumnDrop UnknownColumnPolicy = "drop"
	// UnknownColumnInvalidate strips unknown fields and marks the record invalid.
	UnknownColumnInvalidate UnknownColumnPolicy = "invalidate"
)

// CommitMode selects how accepted rows reach BigQuery.
type CommitMode string

const (
	// CommitBulk stages rows and submits one load job per stream.
	CommitBulk CommitMode = "bulk"
	// CommitAppend inserts each row through the streaming API.
	CommitAppend CommitMode = "append"
)

var partitionTypes = map[string]bool{"YEAR": true, "MONTH": true, "DAY": true, "HOUR": true}

// BigQuery allows at most four clustering columns.
const maxClusteringFields = 4

// Config is the complete target configuration.
type Config struct {
	ProjectID       string `yaml:"project_id" json:"project_id"`
	DatasetID       string `yaml:"dataset_id" json:"dataset_id"`
	Location        string `yaml:"location" json:"location"`
	CredentialsPath string `yaml:"credentials_path" json:"credentials_path"`

	OnInvalidRecord InvalidRecordPolicy `yaml:"on_invalid_record" json:"on_invalid_record"`
	UnknownColumn   UnknownColumnPolicy `yaml:"unknown_column" json:"unknown_column"`
	CommitMode      CommitMode          `yaml:"commit_mode" json:"commit_mode"`
	// Stream is the legacy spelling of commit_mode: append.
	Stream bool `yaml:"stream" json:"stream"`

	// Partitioning and clustering only apply when a table is created.
	PartitionBy         string   `yaml:"partition_by" json:"partition_by"`
	PartitionType       string   `yaml:"partition_type" json:"partition_type"`
	PartitionExpiration Duration `yaml:"partition_expiration" json:"partition_expiration"`
	ClusteringFields    []string `yaml:"clustering_fields" json:"clustering_fields"`

	TablePrefix    string            `yaml:"table_prefix" json:"table_prefix"`
	TableSuffix    string            `yaml:"table_suffix" json:"table_suffix"`
	TableOverrides map[string]string `yaml:"table_overrides" json:"table_overrides"`

	NumericType string            `yaml:"numeric_type" json:"numeric_type"`
	IntegerType string            `yaml:"integer_type" json:"integer_type"`
	ColumnMap   map[string]string `yaml:"column_map" json:"column_map"`

	MaxValidationWarnings int      `yaml:"max_validation_warnings" json:"max_validation_warnings"`
	StreamDelay           Duration `yaml:"stream_delay" json:"stream_delay"`

	StagingBucket string   `yaml:"staging_bucket" json:"staging_bucket"`
	StagingPrefix string   `yaml:"staging_prefix" json:"staging_prefix"`
	LoadTimeout   Duration `yaml:"load_timeout" json:"load_timeout"`

	LogLevel      string `yaml:"log_level" json:"log_level"`
	MetricsAddr   string `yaml:"metrics_addr" json:"metrics_addr"`
	EnableTracing bool   `yaml:"enable_tracing" json:"enable_tracing"`
}

// Default returns a configuration with every optional key at its default.
func Default() *Config {
	return &Config{
		Location:              "US",
		OnInvalidRecord:       PolicyAbort,
		UnknownColumn:         UnknownColumnDrop,
		CommitMode:            CommitBulk,
		PartitionType:         "DAY",
		NumericType:           string(schema.FieldTypeNumeric),
		IntegerType:           string(schema.FieldTypeInteger),
		MaxValidationWarnings: 20,
		StreamDelay:           Duration(3 * time.Second),
		StagingPrefix:         "target-bigquery",
		LoadTimeout:           Duration(10 * time.Minute),
		LogLevel:              "info",
	}
}

// Validate checks required keys and normalizes enumerations in place. The
// legacy stream flag is folded into CommitMode here.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if c.DatasetID == "" {
		return fmt.Errorf("dataset_id is required")
	}

	c.OnInvalidRecord = InvalidRecordPolicy(strings.ToLower(string(c.OnInvalidRecord)))
	switch c.OnInvalidRecord {
	case PolicyAbort, PolicySkip, PolicyForce:
	default:
		return fmt.Errorf("on_invalid_record must be one of (abort, skip, force), got %q", c.OnInvalidRecord)
	}

	c.UnknownColumn = UnknownColumnPolicy(strings.ToLower(string(c.UnknownColumn)))
	switch c.UnknownColumn {
	case UnknownColumnDrop, UnknownColumnInvalidate:
	default:
		return fmt.Errorf("unknown_column must be one of (drop, invalidate), got %q", c.UnknownColumn)
	}

	if c.Stream {
		c.CommitMode = CommitAppend
	}
	switch strings.ToLower(string(c.CommitMode)) {
	case "", "bulk", "buffered-bulk", "batch":
		c.CommitMode = CommitBulk
	case "append", "direct-append", "stream":
		c.CommitMode = CommitAppend
	default:
		return fmt.Errorf("commit_mode must be bulk or append, got %q", c.CommitMode)
	}

	c.PartitionType = strings.ToUpper(c.PartitionType)
	if c.PartitionType == "" {
		c.PartitionType = "DAY"
	}
	if !partitionTypes[c.PartitionType] {
		return fmt.Errorf("partition_type must be one of (YEAR, MONTH, DAY, HOUR), got %q", c.PartitionType)
	}
	if c.PartitionExpiration < 0 {
		return fmt.Errorf("partition_expiration cannot be negative")
	}
	if len(c.ClusteringFields) > maxClusteringFields {
		return fmt.Errorf("clustering_fields accepts at most %d columns", maxClusteringFields)
	}

	numeric, err := schema.NumericFieldType(c.NumericType)
	if err != nil {
		return err
	}
	c.NumericType = string(numeric)
	integer, err := schema.IntegerFieldType(c.IntegerType)
	if err != nil {
		return err
	}
	c.IntegerType = string(integer)

	if c.MaxValidationWarnings < 0 {
		return fmt.Errorf("max_validation_warnings cannot be negative")
	}
	if c.StreamDelay < 0 {
		return fmt.Errorf("stream_delay cannot be negative")
	}
	if c.LoadTimeout <= 0 {
		return fmt.Errorf("load_timeout must be positive")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

var invalidTableChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// TableName resolves the BigQuery table for a stream. An override wins
// outright; otherwise the stream name is sanitized and wrapped in the
// configured prefix and suffix.
func (c *Config) TableName(stream string) string {
	if name, ok := c.TableOverrides[stream]; ok && name != "" {
		return name
	}
	return c.TablePrefix + invalidTableChars.ReplaceAllString(stream, "_") + c.TableSuffix
}

// NumericFieldType returns the validated numeric column type.
func (c *Config) NumericFieldType() schema.FieldType {
	return schema.FieldType(c.NumericType)
}

// IntegerFieldType returns the validated integer column type.
func (c *Config) IntegerFieldType() schema.FieldType {
	return schema.FieldType(c.IntegerType)
}

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/target-bigquery/pkg/json"
)

// EnvPrefix is the prefix of environment variables that override file keys.
const EnvPrefix = "TARGET_BIGQUERY"

// Load reads a JSON or YAML configuration file on top of Default.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, filepath.Ext(filePath))
}

// Parse decodes configuration bytes. JSON is detected by extension or by a
// leading brace; anything else is parsed as YAML.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := Default()
	content := []byte(substituteEnvVars(string(data)))

	if strings.EqualFold(ext, ".json") || bytes.HasPrefix(bytes.TrimSpace(content), []byte("{")) {
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides overrides scalar keys from TARGET_BIGQUERY_<KEY>
// environment variables, e.g. TARGET_BIGQUERY_DATASET_ID.
func ApplyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str("project_id", &cfg.ProjectID)
	str("dataset_id", &cfg.DatasetID)
	str("location", &cfg.Location)
	str("credentials_path", &cfg.CredentialsPath)
	str("partition_by", &cfg.PartitionBy)
	str("partition_type", &cfg.PartitionType)
	str("table_prefix", &cfg.TablePrefix)
	str("table_suffix", &cfg.TableSuffix)
	str("numeric_type", &cfg.NumericType)
	str("integer_type", &cfg.IntegerType)
	str("staging_bucket", &cfg.StagingBucket)
	str("staging_prefix", &cfg.StagingPrefix)
	str("log_level", &cfg.LogLevel)
	str("metrics_addr", &cfg.MetricsAddr)

	if v.IsSet("on_invalid_record") {
		cfg.OnInvalidRecord = InvalidRecordPolicy(v.GetString("on_invalid_record"))
	}
	if v.IsSet("unknown_column") {
		cfg.UnknownColumn = UnknownColumnPolicy(v.GetString("unknown_column"))
	}
	if v.IsSet("commit_mode") {
		cfg.CommitMode = CommitMode(v.GetString("commit_mode"))
	}
	if v.IsSet("enable_tracing") {
		cfg.EnableTracing = v.GetBool("enable_tracing")
	}
	if v.IsSet("max_validation_warnings") {
		cfg.MaxValidationWarnings = v.GetInt("max_validation_warnings")
	}
	if v.IsSet("clustering_fields") {
		cfg.ClusteringFields = splitList(v.GetString("clustering_fields"))
	}

	dur := func(key string, dst *Duration) {
		if v.IsSet(key) {
			var d Duration
			if err := d.parse(v.GetString(key)); err == nil {
				*dst = d
			}
		}
	}
	dur("stream_delay", &cfg.StreamDelay)
	dur("load_timeout", &cfg.LoadTimeout)
	dur("partition_expiration", &cfg.PartitionExpiration)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}

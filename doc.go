// Package targetbigquery is a Singer target that loads tap output into
// Google BigQuery.
//
// A tap writes newline-delimited SCHEMA, RECORD and STATE messages to the
// target's standard input. For every stream the target translates the JSON
// Schema into a BigQuery column schema, validates each record against it and
// commits accepted rows. Once every stream has been committed, the last STATE
// value is written to standard output so the orchestrator can persist it.
// A failed run writes nothing to standard output.
//
// # Commit modes
//
// Bulk (the default) stages rows per stream, either in a local temporary
// file or as a gzip-compressed object in Cloud Storage when staging_bucket is
// set, and submits one load job per stream at the end of the input.
//
// Append inserts each row through the streaming API as it arrives. Insert
// failures are collected per stream and fail the run at the end.
//
// # Invalid records
//
// on_invalid_record selects what happens to a record that does not match its
// schema:
//   - abort: fail the run (default)
//   - skip: count the record and drop it
//   - force: keep the record with its offending fields set to null
//
// Numeric strings such as "42" in numeric fields are coerced rather than
// rejected.
//
// # Quick Start
//
//	$ cat config.json
//	{"project_id": "my-project", "dataset_id": "raw", "on_invalid_record": "skip"}
//
//	$ tap-postgres -c tap.json | target-bigquery -c config.json > state.json
//
// # Schema migration
//
// New columns can be added to existing tables from a catalog without running
// a sync:
//
//	$ target-bigquery -c config.json -s catalog.json --dryrun
//	$ target-bigquery -c config.json -s catalog.json --tables users,orders
//
// Columns are only ever added. A column whose type or mode changed is
// reported as incompatible.
//
// # Package layout
//
//   - cmd/target-bigquery: command line entry point
//   - internal/pipeline: ingestion driver and stream registry
//   - internal/commit: bulk and append commit strategies
//   - pkg/schema: JSON Schema resolution, column translation, compatibility
//   - pkg/validation: record validation and repair
//   - pkg/protocol: Singer message decoding
//   - pkg/warehouse: warehouse interface and the BigQuery client
//   - pkg/staging: local and Cloud Storage staging sinks
//   - pkg/migrate: catalog driven column additions
//   - pkg/config, pkg/logger, pkg/metrics, pkg/observability: ambient stack
package targetbigquery

package testutil

import (
	"strings"

	"github.com/ajitpratap0/target-bigquery/pkg/json"
)

// Lines joins input messages into a newline-delimited stream.
func Lines(msgs ...string) *strings.Reader {
	return strings.NewReader(strings.Join(msgs, "\n") + "\n")
}

// SchemaLine renders a SCHEMA message. schema must be a JSON document.
func SchemaLine(stream, schema string, keys ...string) string {
	if keys == nil {
		keys = []string{}
	}
	return mustLine(map[string]interface{}{
		"type":           "SCHEMA",
		"stream":         stream,
		"schema":         json.RawMessage(schema),
		"key_properties": keys,
	})
}

// RecordLine renders a RECORD message. record must be a JSON object.
func RecordLine(stream, record string) string {
	return mustLine(map[string]interface{}{
		"type":   "RECORD",
		"stream": stream,
		"record": json.RawMessage(record),
	})
}

// StateLine renders a STATE message. value must be a JSON document.
func StateLine(value string) string {
	return mustLine(map[string]interface{}{
		"type":  "STATE",
		"value": json.RawMessage(value),
	})
}

// ActivateVersionLine renders an ACTIVATE_VERSION message.
func ActivateVersionLine(stream string, version int64) string {
	return mustLine(map[string]interface{}{
		"type":    "ACTIVATE_VERSION",
		"stream":  stream,
		"version": version,
	})
}

func mustLine(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Package protocol decodes the newline-delimited Singer envelopes a tap
// writes to the target's standard input.
package protocol

import (
	"bytes"
	"strings"

	"github.com/ajitpratap0/target-bigquery/pkg/json"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
)

// MessageType is the "type" field of an envelope.
type MessageType string

const (
	TypeSchema          MessageType = "SCHEMA"
	TypeRecord          MessageType = "RECORD"
	TypeState           MessageType = "STATE"
	TypeActivateVersion MessageType = "ACTIVATE_VERSION"
)

// Message is one decoded envelope.
type Message interface {
	Type() MessageType
}

// SchemaMessage announces or replaces the schema of a stream.
type SchemaMessage struct {
	Stream             string
	Schema             json.RawMessage
	KeyProperties      []string
	BookmarkProperties []string
}

// RecordMessage carries one row for a stream.
type RecordMessage struct {
	Stream        string
	Record        map[string]interface{}
	Version       *int64
	TimeExtracted string
}

// StateMessage carries an opaque checkpoint.
type StateMessage struct {
	Value json.RawMessage
}

// ActivateVersionMessage marks a new table version. The target accepts and
// ignores it.
type ActivateVersionMessage struct {
	Stream  string
	Version int64
}

func (SchemaMessage) Type() MessageType          { return TypeSchema }
func (RecordMessage) Type() MessageType          { return TypeRecord }
func (StateMessage) Type() MessageType           { return TypeState }
func (ActivateVersionMessage) Type() MessageType { return TypeActivateVersion }

type envelope struct {
	Type               string                 `json:"type"`
	Stream             string                 `json:"stream"`
	Schema             json.RawMessage        `json:"schema"`
	KeyProperties      []string               `json:"key_properties"`
	BookmarkProperties []string               `json:"bookmark_properties"`
	Record             map[string]interface{} `json:"record"`
	Version            *int64                 `json:"version"`
	TimeExtracted      string                 `json:"time_extracted"`
	Value              json.RawMessage        `json:"value"`
}

// Parse decodes a single envelope. Malformed JSON, a missing or unknown type
// and missing required members are structural errors.
func Parse(line []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, targeterrors.Wrap(err, targeterrors.ErrorTypeStructural, "unable to parse message").
			WithDetail("line", truncate(line, 256))
	}

	switch MessageType(strings.ToUpper(env.Type)) {
	case TypeSchema:
		if env.Stream == "" {
			return nil, missing("SCHEMA", "stream")
		}
		if isNull(env.Schema) {
			return nil, missing("SCHEMA", "schema")
		}
		return SchemaMessage{
			Stream:             env.Stream,
			Schema:             env.Schema,
			KeyProperties:      env.KeyProperties,
			BookmarkProperties: env.BookmarkProperties,
		}, nil

	case TypeRecord:
		if env.Stream == "" {
			return nil, missing("RECORD", "stream")
		}
		if env.Record == nil {
			return nil, missing("RECORD", "record")
		}
		return RecordMessage{
			Stream:        env.Stream,
			Record:        env.Record,
			Version:       env.Version,
			TimeExtracted: env.TimeExtracted,
		}, nil

	case TypeState:
		if isNull(env.Value) {
			return nil, missing("STATE", "value")
		}
		return StateMessage{Value: env.Value}, nil

	case TypeActivateVersion:
		if env.Stream == "" {
			return nil, missing("ACTIVATE_VERSION", "stream")
		}
		var version int64
		if env.Version != nil {
			version = *env.Version
		}
		return ActivateVersionMessage{Stream: env.Stream, Version: version}, nil

	case "":
		return nil, targeterrors.New(targeterrors.ErrorTypeStructural, "message has no type").
			WithDetail("line", truncate(line, 256))

	default:
		return nil, targeterrors.Newf(targeterrors.ErrorTypeStructural, "unrecognized message type %q", env.Type)
	}
}

func missing(kind, member string) error {
	return targeterrors.Newf(targeterrors.ErrorTypeStructural, "%s message is missing %q", kind, member)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

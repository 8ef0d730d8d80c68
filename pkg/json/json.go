// Package json wraps goccy/go-json for the target. Decoding always uses
// json.Number so integer precision survives the trip into NUMERIC columns.
package json

import (
	"bytes"
	"fmt"
	"io"

	gojson "github.com/goccy/go-json"
)

type (
	// Number is a JSON number literal kept in its textual form.
	Number = gojson.Number
	// RawMessage is a raw encoded JSON value.
	RawMessage = gojson.RawMessage
)

// Marshal is a drop-in replacement for encoding/json.Marshal.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal decodes data into v, keeping numbers as Number. Data after the
// first value is an error.
func Unmarshal(data []byte, v interface{}) error {
	dec := NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("invalid character after top-level value at offset %d", dec.InputOffset())
	}
	return nil
}

// NewDecoder returns a decoder configured with UseNumber.
func NewDecoder(r io.Reader) *gojson.Decoder {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// MarshalLine encodes v followed by a newline, the unit of an NDJSON file.
func MarshalLine(v interface{}) ([]byte, error) {
	data, err := gojson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return gojson.Valid(data)
}

// ObjectKeys returns the top-level keys of a JSON object in document order.
// Go maps forget insertion order, so schema property order is recovered here.
func ObjectKeys(data []byte) ([]string, error) {
	dec := NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(gojson.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		keys = append(keys, key)

		var skip RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, fmt.Errorf("value of %q: %w", key, err)
		}
	}
	return keys, nil
}

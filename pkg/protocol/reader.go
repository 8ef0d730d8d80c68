package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
)

// MaxLineSize bounds a single envelope.
const MaxLineSize = 64 << 20

// Reader yields messages from a newline-delimited stream, skipping blank
// lines.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next message, or io.EOF once the input is exhausted.
func (r *Reader) Next() (Message, error) {
	for r.scanner.Scan() {
		r.line++
		raw := bytes.TrimSpace(r.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		msg, err := Parse(raw)
		if err != nil {
			var terr *targeterrors.Error
			if errors.As(err, &terr) {
				terr.WithDetail("line_number", r.line)
			}
			return nil, err
		}
		return msg, nil
	}

	if err := r.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, targeterrors.Newf(targeterrors.ErrorTypeStructural, "message exceeds %d bytes", MaxLineSize).
				WithDetail("line_number", r.line+1)
		}
		return nil, targeterrors.Wrap(err, targeterrors.ErrorTypeStructural, "failed to read input")
	}
	return nil, io.EOF
}

// Line returns the number of the last line read, counting from 1.
func (r *Reader) Line() int {
	return r.line
}

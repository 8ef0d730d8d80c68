package staging

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/ajitpratap0/target-bigquery/pkg/warehouse"
)

// FileFactory stages rows in local temporary files.
type FileFactory struct {
	// Dir is the directory for temporary files; empty means os.TempDir.
	Dir string
}

// Open creates a temporary file for stream.
func (f FileFactory) Open(_ context.Context, stream string) (Sink, error) {
	file, err := os.CreateTemp(f.Dir, "target-bigquery-*.jsonl")
	if err != nil {
		return nil, targeterrors.Wrap(err, targeterrors.ErrorTypeData, "failed to create staging file").
			WithDetail("stream", stream)
	}
	return &FileSink{file: file, w: bufio.NewWriterSize(file, 256*1024)}, nil
}

// FileSink is a Sink backed by a temporary file.
type FileSink struct {
	file *os.File
	w    *bufio.Writer
	enc  lineEncoder
	done bool
}

// Write appends one NDJSON line.
func (s *FileSink) Write(row map[string]interface{}) error {
	line, err := s.enc.encode(row)
	if err != nil {
		return targeterrors.Wrap(err, targeterrors.ErrorTypeData, "failed to serialize row")
	}
	if _, err := s.w.Write(line); err != nil {
		return targeterrors.Wrap(err, targeterrors.ErrorTypeData, "failed to write staging file")
	}
	return nil
}

// Rows returns the number of staged rows.
func (s *FileSink) Rows() int64 {
	return s.enc.rows
}

// Seal flushes the file and rewinds it for reading.
func (s *FileSink) Seal(_ context.Context) (warehouse.DataSource, error) {
	if err := s.w.Flush(); err != nil {
		return warehouse.DataSource{}, targeterrors.Wrap(err, targeterrors.ErrorTypeData, "failed to flush staging file")
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return warehouse.DataSource{}, targeterrors.Wrap(err, targeterrors.ErrorTypeData, "failed to rewind staging file")
	}
	return warehouse.DataSource{
		Reader: s.file,
		Rows:   s.enc.rows,
		Sample: s.enc.sample,
	}, nil
}

// Discard closes and removes the file.
func (s *FileSink) Discard(_ context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	_ = s.file.Close()
	if err := os.Remove(s.file.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

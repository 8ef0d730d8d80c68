package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
	"github.com/ajitpratap0/target-bigquery/pkg/warehouse"
)

// ObjectStore is the slice of a GCS bucket the staging sink needs.
type ObjectStore interface {
	NewWriter(ctx context.Context, name string) io.WriteCloser
	Delete(ctx context.Context, name string) error
	URI(name string) string
}

// GCSStore is an ObjectStore on a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewGCSStore opens bucket. Credentials come from credentialsPath when set.
func NewGCSStore(ctx context.Context, bucket, credentialsPath string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, "failed to create GCS client")
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
}

// NewWriter starts an upload of object name.
func (s *GCSStore) NewWriter(ctx context.Context, name string) io.WriteCloser {
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	w.Metadata = map[string]string{
		"compression": "gzip",
		"created":     time.Now().UTC().Format(time.RFC3339),
	}
	return w
}

// Delete removes object name. A missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, name string) error {
	err := s.bucket.Object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

// URI returns the gs:// URI of object name.
func (s *GCSStore) URI(name string) string {
	return fmt.Sprintf("gs://%s/%s", s.name, name)
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// GCSFactory stages rows as gzip-compressed objects under Prefix.
type GCSFactory struct {
	Store  ObjectStore
	Prefix string
}

// Open starts a new staging object for stream.
func (f GCSFactory) Open(ctx context.Context, stream string) (Sink, error) {
	name := path.Join(f.Prefix, stream, fmt.Sprintf("%s-%s.jsonl.gz",
		time.Now().UTC().Format("20060102T150405"), uuid.NewString()))

	w := f.Store.NewWriter(ctx, name)
	return &GCSSink{
		store:  f.Store,
		object: name,
		w:      w,
		gz:     gzip.NewWriter(w),
	}, nil
}

// GCSSink is a Sink streaming through gzip into a GCS object.
type GCSSink struct {
	store  ObjectStore
	object string
	w      io.WriteCloser
	gz     *gzip.Writer
	enc    lineEncoder
	sealed bool
	done   bool
}

// Write appends one NDJSON line to the compressed object.
func (s *GCSSink) Write(row map[string]interface{}) error {
	line, err := s.enc.encode(row)
	if err != nil {
		return targeterrors.Wrap(err, targeterrors.ErrorTypeData, "failed to serialize row")
	}
	if _, err := s.gz.Write(line); err != nil {
		return targeterrors.Wrap(err, targeterrors.ErrorTypeData, "failed to write staging object").
			WithDetail("object", s.object)
	}
	return nil
}

// Rows returns the number of staged rows.
func (s *GCSSink) Rows() int64 {
	return s.enc.rows
}

// Seal completes the upload.
func (s *GCSSink) Seal(_ context.Context) (warehouse.DataSource, error) {
	if !s.sealed {
		s.sealed = true
		if err := s.gz.Close(); err != nil {
			_ = s.w.Close()
			return warehouse.DataSource{}, targeterrors.Wrap(err, targeterrors.ErrorTypeData, "failed to compress staging object")
		}
		if err := s.w.Close(); err != nil {
			return warehouse.DataSource{}, targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, "failed to upload staging object").
				WithDetail("object", s.object)
		}
	}
	return warehouse.DataSource{
		URI:        s.store.URI(s.object),
		Compressed: true,
		Rows:       s.enc.rows,
		Sample:     s.enc.sample,
	}, nil
}

// Discard aborts an unfinished upload or deletes the uploaded object.
func (s *GCSSink) Discard(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	if !s.sealed {
		s.sealed = true
		_ = s.gz.Close()
		// The upload has to complete before the object can be deleted.
		_ = s.w.Close()
	}
	return s.store.Delete(ctx, s.object)
}

// Package source reads and writes the complaint and chunk CSV datasets on
// local disk or S3-compatible storage.
package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/cloo-solutions/creditrust/internal/storage"
)

// ObjectStore is the subset of the S3 client used for s3:// locations.
type ObjectStore interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key, contentType string, body io.Reader) error
}

// Locations resolves dataset locations. Paths starting with s3:// go to
// Objects, anything else is a local file.
type Locations struct {
	Objects ObjectStore
}

// Open returns a reader for location.
func (l Locations) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !storage.IsURI(location) {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", location, err)
		}
		return f, nil
	}

	bucket, key, err := storage.ParseURI(location)
	if err != nil {
		return nil, domain.NewConfigurationError("location", err.Error())
	}
	if l.Objects == nil {
		return nil, domain.NewConfigurationError("S3_ENDPOINT", "object storage is not configured for "+location)
	}
	return l.Objects.Open(ctx, bucket, key)
}

// Create returns a writer for location. Local parent directories are
// created. For s3:// locations the object is uploaded on Close.
func (l Locations) Create(ctx context.Context, location string) (io.WriteCloser, error) {
	if !storage.IsURI(location) {
		if dir := filepath.Dir(location); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		f, err := os.Create(location)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", location, err)
		}
		return f, nil
	}

	bucket, key, err := storage.ParseURI(location)
	if err != nil {
		return nil, domain.NewConfigurationError("location", err.Error())
	}
	if l.Objects == nil {
		return nil, domain.NewConfigurationError("S3_ENDPOINT", "object storage is not configured for "+location)
	}
	return &objectWriter{ctx: ctx, objects: l.Objects, bucket: bucket, key: key}, nil
}

type objectWriter struct {
	ctx     context.Context
	objects ObjectStore
	bucket  string
	key     string
	buf     bytes.Buffer
}

func (w *objectWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *objectWriter) Close() error {
	return w.objects.Put(w.ctx, w.bucket, w.key, "text/csv", bytes.NewReader(w.buf.Bytes()))
}

package blob

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/utils/safe"
)

// GCS downloads uploaded files from Google Cloud Storage
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSOption is a functional option for GCS
type GCSOption func(*GCS)

// WithPrefix sets an object name prefix prepended to relative paths
func WithPrefix(prefix string) GCSOption {
	return func(g *GCS) {
		g.prefix = strings.Trim(prefix, "/")
	}
}

// NewGCS creates a GCS blob store for bucket
func NewGCS(ctx context.Context, bucket string, opts ...GCSOption) (*GCS, error) {
	if bucket == "" {
		return nil, goerr.New("bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	g := &GCS{client: client, bucket: bucket}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Download reads the object at path. A gs://bucket/name path overrides the
// configured bucket.
func (g *GCS) Download(ctx context.Context, path string) ([]byte, error) {
	bucket, name := g.resolve(path)
	if name == "" {
		return nil, goerr.Wrap(ErrBlobNotFound, "empty object name", goerr.V("path", path))
	}

	r, err := g.client.Bucket(bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, goerr.Wrap(ErrBlobNotFound, "object does not exist",
			goerr.V("bucket", bucket), goerr.V("object", name))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open object", goerr.V("bucket", bucket), goerr.V("object", name))
	}
	defer safe.Close(ctx, r)

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read object", goerr.V("bucket", bucket), goerr.V("object", name))
	}
	return data, nil
}

func (g *GCS) resolve(path string) (string, string) {
	if rest, ok := strings.CutPrefix(path, "gs://"); ok {
		bucket, name, _ := strings.Cut(rest, "/")
		return bucket, name
	}
	name := strings.TrimLeft(path, "/")
	if g.prefix != "" && name != "" {
		name = g.prefix + "/" + name
	}
	return g.bucket, name
}

// Close releases the storage client
func (g *GCS) Close() error {
	return g.client.Close()
}

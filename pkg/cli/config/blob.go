package config

import (
	"context"
	"io"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/service/blob"
	"github.com/urfave/cli/v3"
)

// BlobStore is a blob backend that holds a client to release
type BlobStore interface {
	interfaces.BlobStorage
	io.Closer
}

// Blob holds CLI flags for the storage of uploaded files
type Blob struct {
	backend string
	bucket  string
	prefix  string
	dir     string
}

// Flags returns CLI flags for blob storage configuration
func (x *Blob) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "blob-backend",
			Usage:       "Uploaded file storage (gcs or fs)",
			Value:       "gcs",
			Category:    "Blob",
			Sources:     cli.EnvVars("MNEMOSYNE_BLOB_BACKEND"),
			Destination: &x.backend,
		},
		&cli.StringFlag{
			Name:        "gcs-bucket",
			Usage:       "Cloud Storage bucket of uploaded files",
			Category:    "Blob",
			Sources:     cli.EnvVars("MNEMOSYNE_GCS_BUCKET"),
			Destination: &x.bucket,
		},
		&cli.StringFlag{
			Name:        "gcs-prefix",
			Usage:       "Object name prefix of uploaded files",
			Category:    "Blob",
			Sources:     cli.EnvVars("MNEMOSYNE_GCS_PREFIX"),
			Destination: &x.prefix,
		},
		&cli.StringFlag{
			Name:        "blob-dir",
			Usage:       "Local directory of uploaded files (fs backend)",
			Value:       ".",
			Category:    "Blob",
			Sources:     cli.EnvVars("MNEMOSYNE_BLOB_DIR"),
			Destination: &x.dir,
		},
	}
}

// LogAttrs returns log attributes for the blob configuration
func (x *Blob) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("backend", x.backend),
		slog.String("bucket", x.bucket),
		slog.String("prefix", x.prefix),
		slog.String("dir", x.dir),
	}
}

// Configure opens the selected blob backend. A gcs backend without bucket returns nil,
// which leaves file ingestion disabled.
func (x *Blob) Configure(ctx context.Context) (BlobStore, error) {
	switch x.backend {
	case "gcs":
		if x.bucket == "" {
			return nil, nil
		}
		var opts []blob.GCSOption
		if x.prefix != "" {
			opts = append(opts, blob.WithPrefix(x.prefix))
		}
		store, err := blob.NewGCS(ctx, x.bucket, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize GCS blob storage", goerr.V("bucket", x.bucket))
		}
		return store, nil

	case "fs":
		store, err := blob.NewFS(x.dir)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize local blob storage", goerr.V("dir", x.dir))
		}
		return store, nil

	default:
		return nil, goerr.New("invalid blob backend", goerr.V("backend", x.backend))
	}
}

package blob_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/service/blob"
)

func TestFS_Download(t *testing.T) {
	dir := t.TempDir()
	gt.NoError(t, os.MkdirAll(filepath.Join(dir, "user-1"), 0o755)).Required()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "user-1", "notes.txt"), []byte("hello"), 0o600)).Required()

	store, err := blob.NewFS(dir)
	gt.NoError(t, err).Required()
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	t.Run("reads relative path", func(t *testing.T) {
		data, err := store.Download(ctx, "user-1/notes.txt")
		gt.NoError(t, err)
		gt.Value(t, string(data)).Equal("hello")
	})

	t.Run("leading slash is relative to root", func(t *testing.T) {
		data, err := store.Download(ctx, "/user-1/notes.txt")
		gt.NoError(t, err)
		gt.Value(t, string(data)).Equal("hello")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := store.Download(ctx, "user-1/missing.pdf")
		gt.Error(t, err).Is(blob.ErrBlobNotFound)
	})

	t.Run("cannot escape root", func(t *testing.T) {
		_, err := store.Download(ctx, "../../etc/passwd")
		gt.Error(t, err)
	})
}

func TestGCS_Download(t *testing.T) {
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET is not set")
	}

	store, err := blob.NewGCS(context.Background(), bucket)
	gt.NoError(t, err).Required()
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Download(context.Background(), "mnemosyne-test/does-not-exist.txt")
	gt.Error(t, err).Is(blob.ErrBlobNotFound)
}

package blob

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// FS reads uploaded files from a local directory. Paths cannot escape the root.
type FS struct {
	root *os.Root
	dir  string
}

// NewFS opens dir as the blob root
func NewFS(dir string) (*FS, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open blob directory", goerr.V("dir", dir))
	}
	return &FS{root: root, dir: dir}, nil
}

// Download reads the file at path relative to the root
func (f *FS) Download(_ context.Context, path string) ([]byte, error) {
	name := filepath.Clean(strings.TrimLeft(filepath.FromSlash(path), string(filepath.Separator)))

	data, err := f.root.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, goerr.Wrap(ErrBlobNotFound, "file does not exist", goerr.V("dir", f.dir), goerr.V("path", path))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read file", goerr.V("dir", f.dir), goerr.V("path", path))
	}
	return data, nil
}

// Close releases the root directory handle
func (f *FS) Close() error {
	return f.root.Close()
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBucket stores the blob in a local file. Writes go to a temp file in
// the same directory and are renamed into place.
type FileBucket struct {
	path string
}

// NewFileBucket creates a bucket backed by path.
func NewFileBucket(path string) *FileBucket {
	return &FileBucket{path: path}
}

// Path returns the backing file path.
func (b *FileBucket) Path() string {
	return b.path
}

func (b *FileBucket) String() string {
	return b.path
}

// Read returns the file contents, or ErrNotFound if it does not exist.
func (b *FileBucket) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", b.path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}
	return data, nil
}

// Write replaces the file atomically. The directory is created if needed.
func (b *FileBucket) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("renaming %s: %w", b.path, err)
	}
	committed = true

	return nil
}

// Package blob stores uploaded files, converted images and extracted document
// caches on an afero filesystem rooted at a base directory.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// ErrNotFound is returned when reading a path that does not exist.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidPath is returned for absolute paths or paths escaping the root.
var ErrInvalidPath = errors.New("invalid blob path")

// Store is a blob store over an afero filesystem.
type Store struct {
	fs afero.Fs
}

// NewStore creates a store rooted at root on the OS filesystem.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", root, err)
	}
	return &Store{fs: afero.NewBasePathFs(afero.NewOsFs(), root)}, nil
}

// NewMemStore creates a store on an in-memory filesystem.
func NewMemStore() *Store {
	return &Store{fs: afero.NewMemMapFs()}
}

// NewStoreFromFs wraps an existing afero filesystem.
func NewStoreFromFs(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

func clean(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return "/" + c, nil
}

// Write stores data at p, creating parent directories.
func (s *Store) Write(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := clean(p)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(c), 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", p, err)
	}
	if err := afero.WriteFile(s.fs, c, data, 0o640); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// Read returns the contents stored at p.
func (s *Store) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := clean(p)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, c)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

// Exists reports whether p exists.
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c, err := clean(p)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, c)
}

// RemoveAll deletes p and everything below it. A missing path is not an error.
func (s *Store) RemoveAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := clean(p)
	if err != nil {
		return err
	}
	if err := s.fs.RemoveAll(c); err != nil {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileSystemStore is a durable store backed by a local directory. It is
// meant for development, where the server exposes root under baseURL.
type FileSystemStore struct {
	root    string
	baseURL string
}

func NewFileSystemStore(root, baseURL string) (*FileSystemStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("filesystem object store requires a root directory")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create media root: %w", err)
	}
	return &FileSystemStore{root: root, baseURL: baseURL}, nil
}

// Root is the directory served as public media.
func (f *FileSystemStore) Root() string { return f.root }

func (f *FileSystemStore) Put(ctx context.Context, key, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest, err := f.resolve(key)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}
	// Served by the /media static route.
	if err := os.Chmod(dest, 0o644); err != nil {
		return "", fmt.Errorf("failed to chmod object: %w", err)
	}

	return f.PublicURL(key), nil
}

func (f *FileSystemStore) Delete(_ context.Context, key string) error {
	dest, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (f *FileSystemStore) IsConfigured() bool { return true }

func (f *FileSystemStore) PublicURL(key string) string { return joinURL(f.baseURL, key) }

func (f *FileSystemStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(f.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

var _ ObjectStore = (*FileSystemStore)(nil)

// Package local archives scan reports on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string
}

// BlobStore writes artifacts under a base directory.
type BlobStore struct {
	baseDir string
}

// New creates the base directory if needed and checks it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	info, err := os.Stat(base)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(base, 0o750); err != nil {
			return nil, fmt.Errorf("create base directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(base, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &BlobStore{baseDir: base}, nil
}

// PutObject writes r to a file below the base directory and returns a
// file:// URI. The file appears atomically via rename.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(path))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("rename file: %w", err)
	}
	return "file://" + filepath.ToSlash(fullPath), nil
}

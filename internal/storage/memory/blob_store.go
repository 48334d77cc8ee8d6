// Package memory keeps scans, agent runs, rollups and archived reports in
// process memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	types map[string]string
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:  make(map[string][]byte),
		types: make(map[string]string),
	}
}

// PutObject persists the content and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read blob body: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = body
	s.types[path] = contentType
	return "memory://" + path, nil
}

// Object returns a copy of a stored blob and its content type.
func (s *BlobStore) Object(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.data[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), body...), s.types[path], true
}

// Package memory provides an in-memory archive for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Archive keeps snapshots in a map.
type Archive struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// New constructs an empty in-memory archive.
func New() *Archive {
	return &Archive{blobs: make(map[string][]byte)}
}

// SaveSnapshot stores a copy of data and returns a mem:// URI.
func (a *Archive) SaveSnapshot(_ context.Context, path string, _ string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blobs[path] = append([]byte{}, data...)
	return "mem://" + path, nil
}

// Get returns a stored snapshot.
func (a *Archive) Get(path string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.blobs[path]
	return data, ok
}

// Len reports how many snapshots are stored.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blobs)
}

// Package objectstore reads and writes run inputs and artifacts behind opaque paths
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aouyang1/go-ensembler/failure"
)

var (
	ErrNotFound    = failure.New(failure.ErrDataAccess, "object not found")
	ErrAccess      = failure.New(failure.ErrCredential, "object access denied")
	ErrInvalidPath = failure.New(failure.ErrDataAccess, "invalid object path")
	ErrUnavailable = failure.New(failure.ErrDataAccess, "object store unavailable")
)

// Store gets, puts and deletes whole objects. Deleting a missing object is not an error.
type Store interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
}

// Dir stores objects as files under a root directory
type Dir struct {
	Root string
}

func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

func (d *Dir) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(path))
	if path == "" || clean == string(filepath.Separator) {
		return "", fmt.Errorf("%q, %w", path, ErrInvalidPath)
	}
	return filepath.Join(d.Root, clean), nil
}

func (d *Dir) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, mapError(path, err)
	}
	return data, nil
}

// Put writes to a temporary file in the target directory and renames it into place
func (d *Dir) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return mapError(path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-"+filepath.Base(full)+"-*")
	if err != nil {
		return mapError(path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return mapError(path, err)
	}
	if err := tmp.Close(); err != nil {
		return mapError(path, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return mapError(path, err)
	}
	return nil
}

func (d *Dir) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return mapError(path, err)
	}
	return nil
}

func mapError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s, %w", path, ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s, %w", path, ErrAccess)
	}
	return fmt.Errorf("%s: %v, %w", path, err, failure.ErrDataAccess)
}

// Memory keeps objects in process, for tests and dry runs
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, exists := m.objects[path]
	if !exists {
		return nil, fmt.Errorf("%s, %w", path, ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%q, %w", path, ErrInvalidPath)
	}
	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = stored
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

// Paths lists the stored object paths in sorted order
func (m *Memory) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

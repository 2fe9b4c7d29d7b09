package transport

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/arloliu/bpio/errs"
)

// MemStore is an in-memory Store, used by tests and by in-process readers
// of in-process writers.
type MemStore struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]struct{}
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		files: make(map[string][]byte),
		dirs:  map[string]struct{}{".": {}},
	}
}

// Kind implements Store.
func (m *MemStore) Kind() string { return "Memory" }

// MkdirAll implements Store.
func (m *MemStore) MkdirAll(_ context.Context, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for d := path.Clean(dir); d != "." && d != "/"; d = path.Dir(d) {
		m.dirs[d] = struct{}{}
	}

	return nil
}

func (m *MemStore) checkDir(name string) error {
	dir := path.Dir(path.Clean(name))
	if dir == "." || dir == "/" {
		return nil
	}
	if _, ok := m.dirs[dir]; !ok {
		return fmt.Errorf("%w: no directory for %s", errs.ErrTransport, name)
	}

	return nil
}

// Create implements Store.
func (m *MemStore) Create(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkDir(name); err != nil {
		return err
	}
	m.files[name] = nil

	return nil
}

// WriteAt implements Store.
func (m *MemStore) WriteAt(_ context.Context, name string, data []byte, offset uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrFileNotFound, name)
	}
	end := int(offset) + len(data) //nolint:gosec
	if end > len(file) {
		file = slices.Grow(file, end-len(file))[:end]
	}
	copy(file[offset:], data)
	m.files[name] = file

	return nil
}

// ReadAt implements Store.
func (m *MemStore) ReadAt(_ context.Context, name string, dst []byte, offset uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrFileNotFound, name)
	}
	if offset+uint64(len(dst)) > uint64(len(file)) {
		return fmt.Errorf("%w: read %d bytes of %s at %d past end of file", errs.ErrTransport, len(dst), name, offset)
	}
	copy(dst, file[offset:])

	return nil
}

// Size implements Store.
func (m *MemStore) Size(_ context.Context, name string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errs.ErrFileNotFound, name)
	}

	return uint64(len(file)), nil
}

// Exists implements Store.
func (m *MemStore) Exists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[name]

	return ok, nil
}

// Close implements Store.
func (m *MemStore) Close(context.Context, string) error { return nil }

// Files returns the names of every file under prefix, sorted.
func (m *MemStore) Files(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	slices.Sort(out)

	return out
}

// Bytes returns a copy of the content of name, nil when it does not exist.
func (m *MemStore) Bytes(name string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.files[name])
}

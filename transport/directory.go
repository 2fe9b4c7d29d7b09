package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/internal/options"
)

// DefaultMaxOpenFiles is the open handle limit of a DirectoryStore.
const DefaultMaxOpenFiles = 64

// DirectoryOption configures a DirectoryStore.
type DirectoryOption = options.Option[*DirectoryStore]

// WithMaxOpenFiles caps the number of file handles kept open at once.
func WithMaxOpenFiles(n int) DirectoryOption {
	return options.NoError(func(d *DirectoryStore) {
		d.maxOpen = n
	})
}

// WithReadOnly opens every file read-only and rejects writes with ErrReadOnly.
func WithReadOnly(readOnly bool) DirectoryOption {
	return options.NoError(func(d *DirectoryStore) {
		d.readOnly = readOnly
	})
}

// WithFileMode sets the permission bits of created files.
func WithFileMode(mode fs.FileMode) DirectoryOption {
	return options.NoError(func(d *DirectoryStore) {
		d.mode = mode
	})
}

// DirectoryStore keeps files in a local directory.
//
// Open handles are cached up to the configured limit. When the limit is
// exceeded the handle opened longest ago is evicted, whether or not it was
// used recently; lookups do not refresh a handle. Reads and writes run
// outside the store lock, and an evicted handle is closed once its last
// in-flight call returns.
type DirectoryStore struct {
	root     string
	maxOpen  int
	readOnly bool
	mode     fs.FileMode

	mu      sync.Mutex
	handles *lru.Cache
	opened  int
}

// NewDirectoryStore creates a store rooted at root.
func NewDirectoryStore(root string, opts ...DirectoryOption) (*DirectoryStore, error) {
	d := &DirectoryStore{
		root:    root,
		maxOpen: DefaultMaxOpenFiles,
		mode:    0o644,
	}
	if err := options.Apply(d, opts...); err != nil {
		return nil, err
	}

	// the callback runs with d.mu held: every cache mutation happens under it
	cache, err := lru.NewWithEvict(d.maxOpen, func(_, value any) {
		if h, ok := value.(*fileHandle); ok {
			h.evicted = true
			h.closeIfIdle()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidArgument, err)
	}
	d.handles = cache

	return d, nil
}

// Validate checks the option values.
func (d *DirectoryStore) Validate() error {
	if d.maxOpen < 1 {
		return fmt.Errorf("%w: MaxOpenFiles %d, need at least 1", errs.ErrInvalidParameter, d.maxOpen)
	}

	return nil
}

// Root returns the directory the store is rooted at.
func (d *DirectoryStore) Root() string { return d.root }

// Kind implements Store.
func (d *DirectoryStore) Kind() string { return "File" }

// fileHandle is a cached file with the number of calls using it. Both
// fields are guarded by DirectoryStore.mu.
type fileHandle struct {
	f       *os.File
	refs    int
	evicted bool
}

func (h *fileHandle) closeIfIdle() {
	if h.evicted && h.refs == 0 {
		_ = h.f.Close()
	}
}

func (d *DirectoryStore) path(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(name))
}

// MkdirAll implements Store.
func (d *DirectoryStore) MkdirAll(_ context.Context, dir string) error {
	if d.readOnly {
		return fmt.Errorf("%w: mkdir %s", errs.ErrReadOnly, dir)
	}
	if err := os.MkdirAll(d.path(dir), 0o755); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrTransport, err)
	}

	return nil
}

// Create implements Store.
func (d *DirectoryStore) Create(_ context.Context, name string) error {
	if d.readOnly {
		return fmt.Errorf("%w: create %s", errs.ErrReadOnly, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.handles.Remove(name)
	f, err := os.OpenFile(d.path(name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, d.mode)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrTransport, err)
	}
	d.handles.Add(name, &fileHandle{f: f})
	d.opened++

	return nil
}

// acquire returns the handle of name with one more reference, opening the
// file when it is not cached. Every successful acquire must be paired with
// release.
func (d *DirectoryStore) acquire(name string) (*fileHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if v, ok := d.handles.Peek(name); ok {
		h := v.(*fileHandle) //nolint:forcetypeassert
		h.refs++

		return h, nil
	}

	flag := os.O_RDWR
	if d.readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(d.path(name), flag, d.mode)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", errs.ErrFileNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrTransport, err)
	}
	// one reference before Add so an immediate eviction cannot close it
	h := &fileHandle{f: f, refs: 1}
	d.handles.Add(name, h)
	d.opened++

	return h, nil
}

func (d *DirectoryStore) release(h *fileHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h.refs--
	h.closeIfIdle()
}

// WriteAt implements Store.
func (d *DirectoryStore) WriteAt(ctx context.Context, name string, data []byte, offset uint64) error {
	if d.readOnly {
		return fmt.Errorf("%w: write %s", errs.ErrReadOnly, name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h, err := d.acquire(name)
	if err != nil {
		return err
	}
	defer d.release(h)

	if _, err := h.f.WriteAt(data, int64(offset)); err != nil { //nolint:gosec
		return fmt.Errorf("%w: write %s at %d: %w", errs.ErrTransport, name, offset, err)
	}

	return nil
}

// ReadAt implements Store.
func (d *DirectoryStore) ReadAt(ctx context.Context, name string, dst []byte, offset uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h, err := d.acquire(name)
	if err != nil {
		return err
	}
	defer d.release(h)

	if _, err := h.f.ReadAt(dst, int64(offset)); err != nil { //nolint:gosec
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: read %d bytes of %s at %d past end of file", errs.ErrTransport, len(dst), name, offset)
		}

		return fmt.Errorf("%w: read %s at %d: %w", errs.ErrTransport, name, offset, err)
	}

	return nil
}

// Size implements Store.
func (d *DirectoryStore) Size(_ context.Context, name string) (uint64, error) {
	info, err := os.Stat(d.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", errs.ErrFileNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrTransport, err)
	}

	return uint64(info.Size()), nil //nolint:gosec
}

// Exists implements Store.
func (d *DirectoryStore) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(d.path(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", errs.ErrTransport, err)
	}
}

// Close implements Store.
func (d *DirectoryStore) Close(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.handles.Peek(name)
	if !ok {
		return nil
	}
	h := v.(*fileHandle) //nolint:forcetypeassert
	var err error
	if !d.readOnly {
		err = h.f.Sync()
	}
	// removal runs the eviction callback, which closes the idle handle
	d.handles.Remove(name)
	if err != nil {
		return fmt.Errorf("%w: sync %s: %w", errs.ErrTransport, name, err)
	}

	return nil
}

// CloseAll closes every cached handle.
func (d *DirectoryStore) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handles.Purge()
}

// OpenHandles returns the number of handles currently cached.
func (d *DirectoryStore) OpenHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.handles.Len()
}

// Opens returns the number of times a file was opened.
func (d *DirectoryStore) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.opened
}

// IsCached reports whether name has an open handle.
func (d *DirectoryStore) IsCached(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.handles.Contains(name)
}

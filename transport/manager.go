package transport

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/arloliu/bpio/internal/options"
)

const (
	// Extension is appended to output names that do not end with it.
	Extension = ".bp"
	// IndexFile is the metadata index inside the data directory.
	IndexFile = "md.idx"
	// ProfilingFile is the profiling report inside the data directory.
	ProfilingFile = "profiling.json"
)

// ManagerOption configures a Manager.
type ManagerOption = options.Option[*Manager]

// WithRecorder reports the time spent in sub-file writes and the bytes
// written under timer.
func WithRecorder(r Recorder, timer string) ManagerOption {
	return options.NoError(func(m *Manager) {
		if r != nil {
			m.recorder = r
			m.timer = timer
		}
	})
}

// Manager names the files of one output and performs every sub-file
// transfer on a Store.
//
// For an output called "run.bp" the layout is:
//
//	run.bp                        merged metadata
//	run.bp.dir/run.bp.<i>         data sub-file i
//	run.bp.dir/md.idx             metadata index
//	run.bp.dir/profiling.json     profiling report
type Manager struct {
	store    Store
	name     string
	recorder Recorder
	timer    string
}

// NewManager returns a manager for the output called name.
func NewManager(store Store, name string, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		store:    store,
		name:     BaseName(name),
		recorder: nopRecorder{},
	}
	if err := options.Apply(m, opts...); err != nil {
		return nil, err
	}

	return m, nil
}

// BaseName returns name with the BP extension.
func BaseName(name string) string {
	name = strings.TrimSuffix(name, "/")
	if strings.HasSuffix(name, Extension) {
		return name
	}

	return name + Extension
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// MetadataName returns the name of the metadata file.
func (m *Manager) MetadataName() string { return m.name }

// Dir returns the directory holding the sub-files.
func (m *Manager) Dir() string { return m.name + ".dir" }

// SubFileName returns the name of data sub-file i.
func (m *Manager) SubFileName(i uint32) string {
	return path.Join(m.Dir(), path.Base(m.name)+"."+strconv.FormatUint(uint64(i), 10))
}

// IndexName returns the name of the metadata index.
func (m *Manager) IndexName() string { return path.Join(m.Dir(), IndexFile) }

// ProfilingName returns the name of the profiling report.
func (m *Manager) ProfilingName() string { return path.Join(m.Dir(), ProfilingFile) }

// MkDir creates the sub-file directory.
func (m *Manager) MkDir(ctx context.Context) error {
	return m.store.MkdirAll(ctx, m.Dir())
}

// CreateFiles creates, truncating, the given data sub-files.
func (m *Manager) CreateFiles(ctx context.Context, indices ...uint32) error {
	for _, i := range indices {
		if err := m.store.Create(ctx, m.SubFileName(i)); err != nil {
			return fmt.Errorf("create sub-file %d: %w", i, err)
		}
	}

	return nil
}

// WriteFiles writes data at offset of sub-file index.
func (m *Manager) WriteFiles(ctx context.Context, data []byte, offset uint64, index uint32) error {
	m.recorder.Start(m.timer)
	defer m.recorder.Stop(m.timer)

	if err := m.store.WriteAt(ctx, m.SubFileName(index), data, offset); err != nil {
		return fmt.Errorf("write sub-file %d: %w", index, err)
	}
	m.recorder.AddBytes(m.timer, uint64(len(data)))

	return nil
}

// ReadFile fills dst from offset of sub-file index.
func (m *Manager) ReadFile(ctx context.Context, dst []byte, offset uint64, index uint32) error {
	if err := m.store.ReadAt(ctx, m.SubFileName(index), dst, offset); err != nil {
		return fmt.Errorf("read sub-file %d: %w", index, err)
	}

	return nil
}

// SubFileSize returns the length of sub-file index.
func (m *Manager) SubFileSize(ctx context.Context, index uint32) (uint64, error) {
	return m.store.Size(ctx, m.SubFileName(index))
}

// CloseFiles closes the given data sub-files.
func (m *Manager) CloseFiles(ctx context.Context, indices ...uint32) error {
	for _, i := range indices {
		if err := m.store.Close(ctx, m.SubFileName(i)); err != nil {
			return fmt.Errorf("close sub-file %d: %w", i, err)
		}
	}

	return nil
}

// WriteWhole replaces the content of name with data.
func (m *Manager) WriteWhole(ctx context.Context, name string, data []byte) error {
	if err := m.store.Create(ctx, name); err != nil {
		return err
	}
	if err := m.store.WriteAt(ctx, name, data, 0); err != nil {
		return err
	}

	return m.store.Close(ctx, name)
}

// ReadWhole returns the content of name and releases its handle.
func (m *Manager) ReadWhole(ctx context.Context, name string) ([]byte, error) {
	size, err := m.store.Size(ctx, name)
	if err != nil {
		return nil, err
	}
	data := make([]byte, size)
	if err := m.store.ReadAt(ctx, name, data, 0); err != nil {
		return nil, err
	}

	return data, m.store.Close(ctx, name)
}

// Exists reports whether name exists.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	return m.store.Exists(ctx, name)
}

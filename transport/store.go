// Package transport moves serialized bytes between the engines and storage.
//
// A Store holds named files addressed with slash-separated names. The
// Manager maps the files of one BP output (metadata, data sub-files, the
// metadata index and the profiling report) onto a Store, so engines only deal
// in (bytes, offset, sub-file index) tuples.
package transport

import (
	"context"
)

// Store is a flat namespace of files that can be written at arbitrary
// offsets and read by range.
//
// Implementations must be safe for concurrent use. Writes to one file are
// issued by one goroutine at a time; reads may overlap each other.
type Store interface {
	// MkdirAll makes sure files can be created under dir.
	MkdirAll(ctx context.Context, dir string) error
	// Create creates name, truncating an existing file.
	Create(ctx context.Context, name string) error
	// WriteAt writes data at offset, growing the file as needed.
	WriteAt(ctx context.Context, name string, data []byte, offset uint64) error
	// ReadAt fills dst from offset. A short file is ErrTransport.
	ReadAt(ctx context.Context, name string, dst []byte, offset uint64) error
	// Size returns the current length of name.
	Size(ctx context.Context, name string) (uint64, error)
	// Exists reports whether name exists.
	Exists(ctx context.Context, name string) (bool, error)
	// Close flushes pending writes of name and releases its resources. The
	// file can still be reopened by later calls.
	Close(ctx context.Context, name string) error
	// Kind names the store in profiling reports: "File", "Memory" or "S3".
	Kind() string
}

// Recorder receives transport timings and byte counts. *bp.Profiler
// satisfies it.
type Recorder interface {
	Start(name string)
	Stop(name string)
	AddBytes(name string, n uint64)
}

type nopRecorder struct{}

func (nopRecorder) Start(string)            {}
func (nopRecorder) Stop(string)             {}
func (nopRecorder) AddBytes(string, uint64) {}

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"sync"

	"github.com/minio/minio-go/v7"

	"github.com/arloliu/bpio/errs"
)

/*
S3Store keeps files as objects of an S3-compatible bucket through the minio
client. Objects cannot be written at an offset, so a file created through the
store is assembled in memory and uploaded when it is closed.
*/

////////////////////////////////////////////////////////////////////////////////

const minioNoSuchKey = "NoSuchKey"

// S3Store is a Store backed by object storage.
type S3Store struct {
	mc     *minio.Client
	bucket string
	prefix string

	mu      sync.Mutex
	pending map[string][]byte
}

// NewS3Store returns a store writing objects under prefix in bucket.
func NewS3Store(mc *minio.Client, bucket, prefix string) *S3Store {
	return &S3Store{
		mc:      mc,
		bucket:  bucket,
		prefix:  prefix,
		pending: make(map[string][]byte),
	}
}

// Kind implements Store.
func (s *S3Store) Kind() string { return "S3" }

func (s *S3Store) String() string {
	return fmt.Sprintf("s3(%s/%s)", s.bucket, s.prefix)
}

func (s *S3Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// MkdirAll implements Store. Object stores have no directories.
func (s *S3Store) MkdirAll(context.Context, string) error { return nil }

// Create implements Store.
func (s *S3Store) Create(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[name] = []byte{}

	return nil
}

// WriteAt implements Store. The data is uploaded by Close.
func (s *S3Store) WriteAt(_ context.Context, name string, data []byte, offset uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.pending[name]
	if !ok {
		return fmt.Errorf("%w: %s was not created by this store", errs.ErrFileNotFound, name)
	}
	end := int(offset) + len(data) //nolint:gosec
	if end > len(file) {
		file = slices.Grow(file, end-len(file))[:end]
	}
	copy(file[offset:], data)
	s.pending[name] = file

	return nil
}

// ReadAt implements Store.
func (s *S3Store) ReadAt(ctx context.Context, name string, dst []byte, offset uint64) error {
	s.mu.Lock()
	if file, ok := s.pending[name]; ok {
		defer s.mu.Unlock()
		if offset+uint64(len(dst)) > uint64(len(file)) {
			return fmt.Errorf("%w: read %d bytes of %s at %d past end of file", errs.ErrTransport, len(dst), name, offset)
		}
		copy(dst, file[offset:])

		return nil
	}
	s.mu.Unlock()

	if len(dst) == 0 {
		return nil
	}
	req := minio.GetObjectOptions{}
	if err := req.SetRange(int64(offset), int64(offset)+int64(len(dst))-1); err != nil { //nolint:gosec
		return fmt.Errorf("%w: set range: %w", errs.ErrTransport, err)
	}
	obj, err := s.mc.GetObject(ctx, s.bucket, s.key(name), req)
	if err != nil {
		return s.wrap(name, err)
	}
	defer obj.Close()

	if _, err := io.ReadFull(obj, dst); err != nil {
		return s.wrap(name, err)
	}

	return nil
}

// Size implements Store.
func (s *S3Store) Size(ctx context.Context, name string) (uint64, error) {
	s.mu.Lock()
	if file, ok := s.pending[name]; ok {
		s.mu.Unlock()
		return uint64(len(file)), nil
	}
	s.mu.Unlock()

	info, err := s.mc.StatObject(ctx, s.bucket, s.key(name), minio.StatObjectOptions{})
	if err != nil {
		return 0, s.wrap(name, err)
	}

	return uint64(info.Size), nil //nolint:gosec
}

// Exists implements Store.
func (s *S3Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.Size(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errs.ErrFileNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Close implements Store. It uploads a file written through the store.
func (s *S3Store) Close(ctx context.Context, name string) error {
	s.mu.Lock()
	file, ok := s.pending[name]
	delete(s.pending, name)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := s.mc.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(file), int64(len(file)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("%w: put object %s: %w", errs.ErrTransport, name, err)
	}

	return nil
}

func (s *S3Store) wrap(name string, err error) error {
	if minio.ToErrorResponse(err).Code == minioNoSuchKey {
		return fmt.Errorf("%w: %s", errs.ErrFileNotFound, name)
	}

	return fmt.Errorf("%w: %s: %w", errs.ErrTransport, name, err)
}

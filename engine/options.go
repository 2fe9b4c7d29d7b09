// Package engine implements the BP file engine: a Writer that turns the
// steps of an IO into a metadata file plus data sub-files, and a Reader that
// walks those steps, in streaming or random-access mode.
//
// Both sides run SPMD over a collective.Channel: every rank of the group
// opens, steps and closes together. A single process uses collective.Self().
//
//	w, err := engine.NewWriter(ctx, io, "heat", engine.WithChannel(ch))
//	for step := range steps {
//		w.BeginStep(ctx)
//		w.Put(ctx, temperature, values, format.ModeDeferred)
//		w.EndStep(ctx)
//	}
//	w.Close(ctx)
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/arloliu/bpio/collective"
	"github.com/arloliu/bpio/config"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/internal/options"
	"github.com/arloliu/bpio/transport"
)

// Option configures a Writer or a Reader.
type Option = options.Option[*openConfig]

type openConfig struct {
	ch           collective.Channel
	store        transport.Store
	byteReversal bool
}

// WithChannel sets the group of ranks opening the engine. The default is a
// group of one.
func WithChannel(ch collective.Channel) Option {
	return options.Named("WithChannel", func(c *openConfig) error {
		if ch == nil {
			return fmt.Errorf("%w: nil channel", errs.ErrInvalidArgument)
		}
		c.ch = ch

		return nil
	})
}

// WithStore sets the store holding the output. Without it the store is
// built from the Transport parameters of the IO.
func WithStore(store transport.Store) Option {
	return options.NoError(func(c *openConfig) {
		c.store = store
	})
}

// WithByteReversal lets a Reader open files written in the other byte order.
func WithByteReversal(allow bool) Option {
	return options.NoError(func(c *openConfig) {
		c.byteReversal = allow
	})
}

func newOpenConfig(opts []Option) (*openConfig, error) {
	c := &openConfig{}
	if err := options.Apply(c, opts...); err != nil {
		return nil, err
	}
	if c.ch == nil {
		c.ch = collective.Self()
	}

	return c, nil
}

// openStore returns the configured store and the function releasing it.
//
// The transport parameters recognized are:
//
//	File: root (default ".")
//	S3:   endpoint, bucket, prefix, accesskey, secretkey, secure
func (c *openConfig) openStore(p config.Params, readOnly bool) (transport.Store, func(), error) {
	if c.store != nil {
		return c.store, func() {}, nil
	}

	switch strings.ToLower(p.Transport) {
	case "", "file":
		root := p.TransportParams["root"]
		if root == "" {
			root = "."
		}
		ds, err := transport.NewDirectoryStore(root,
			transport.WithMaxOpenFiles(p.MaxOpenFiles),
			transport.WithReadOnly(readOnly))
		if err != nil {
			return nil, nil, err
		}

		return ds, ds.CloseAll, nil
	case "s3":
		tp := p.TransportParams
		if tp["endpoint"] == "" || tp["bucket"] == "" {
			return nil, nil, fmt.Errorf("%w: S3 transport needs endpoint and bucket", errs.ErrInvalidParameter)
		}
		mc, err := minio.New(tp["endpoint"], &minio.Options{
			Creds:  credentials.NewStaticV4(tp["accesskey"], tp["secretkey"], ""),
			Secure: strings.EqualFold(tp["secure"], "true") || strings.EqualFold(tp["secure"], "on"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", errs.ErrTransport, err)
		}

		return transport.NewS3Store(mc, tp["bucket"], tp["prefix"]), func() {}, nil
	case "memory":
		return nil, nil, fmt.Errorf("%w: a Memory transport is shared through WithStore", errs.ErrInvalidParameter)
	default:
		return nil, nil, fmt.Errorf("%w: unknown transport %q", errs.ErrInvalidParameter, p.Transport)
	}
}

// agree turns the local errors of every rank into one verdict: nil when all
// ranks succeeded, otherwise an error naming the first failed rank.
func agree(ctx context.Context, ch collective.Channel, local error) error {
	var msg []byte
	if local != nil {
		msg = []byte(local.Error())
	}

	all, err := ch.AllGather(ctx, msg)
	if err != nil {
		return err
	}
	if local != nil {
		return local
	}
	for rank, m := range all {
		if len(m) > 0 {
			return fmt.Errorf("%w: rank %d: %s", errs.ErrCollective, rank, m)
		}
	}

	return nil
}

package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/arloliu/bpio/bp"
	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/collective"
	"github.com/arloliu/bpio/config"
	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
	"github.com/arloliu/bpio/internal/log"
	"github.com/arloliu/bpio/section"
	"github.com/arloliu/bpio/transport"
)

var pgMethods = []uint8{format.MethodPOSIX}

type deferredPut struct {
	v    *core.Variable
	info core.BlockInfo
}

// Writer writes the steps of an IO to a BP output.
//
// Ranks are grouped into SubStreams groups; the first rank of a group is its
// aggregator and owns one data sub-file. Metadata of every rank is merged at
// rank 0, which rewrites the metadata file and md.idx after every step.
//
// Writer is not safe for concurrent use.
type Writer struct {
	io      *core.IO
	ch      collective.Channel
	sub     collective.Channel
	params  config.Params
	mgr     *transport.Manager
	ser     *bp.Serializer
	prof    *bp.Profiler
	session uuid.UUID
	release func()
	tags    []any

	fileIndex uint32
	// offset is the next write position of the sub-file; only the
	// aggregator tracks it.
	offset uint64

	deferred []deferredPut
	steps    uint64
	flushes  int
	stepOpen bool
	closed   bool
}

// NewWriter opens the output called name for writing. It is collective
// over the channel: every rank must call it.
//
// Parameters:
//   - ctx: bounds the collective open
//   - io: variables, attributes and engine parameters of the output
//   - name: output name; ".bp" is appended when missing
//   - opts: WithChannel, WithStore
//
// Returns:
//   - *Writer: writer positioned before the first step
//   - error: ErrInvalidParameter for bad parameters, ErrCollectiveOpen when
//     rank 0 could not create the output, transport errors
func NewWriter(ctx context.Context, io *core.IO, name string, opts ...Option) (*Writer, error) {
	cfg, err := newOpenConfig(opts)
	if err != nil {
		return nil, err
	}
	ch := cfg.ch
	rank := ch.Rank()

	params, err := config.ParseEngineParams(io.Parameters(), ch.Size())
	if err != nil {
		return nil, err
	}

	w := &Writer{
		io:     io,
		ch:     ch,
		params: params,
		tags:   []any{"rank", rank, "engine", "BP3Writer", "output", transport.BaseName(name)},
	}
	ctx = w.logCtx(ctx)

	if w.session, err = w.shareSession(ctx); err != nil {
		return nil, err
	}
	if params.Profile {
		w.prof = bp.NewProfiler(w.session, rank, params.Threads, params.ProfileUnits)
	}

	bufOpts := []buffer.Option{
		buffer.WithInitialSize(int(params.InitialBufferSize)), //nolint:gosec
		buffer.WithGrowthFactor(params.BufferGrowthFactor),
	}
	if params.MaxBufferSize > 0 {
		bufOpts = append(bufOpts, buffer.WithMaxSize(int(params.MaxBufferSize))) //nolint:gosec
	}
	w.ser, err = bp.NewSerializer(
		bp.WithRank(rank),
		bp.WithThreads(params.Threads),
		bp.WithColumnMajor(params.ColumnMajor),
		bp.WithBufferOptions(bufOpts...),
		bp.WithProfiler(w.prof),
	)
	if err != nil {
		return nil, err
	}

	store, release, err := cfg.openStore(params, false)
	if err != nil {
		return nil, err
	}
	w.release = release
	w.mgr, err = transport.NewManager(store, name, transport.WithRecorder(w.prof, bp.TransportTimer(0)))
	if err != nil {
		release()
		return nil, err
	}
	w.prof.SetTransport(0, store.Kind())

	if err := w.open(ctx); err != nil {
		release()
		return nil, err
	}

	log.Infow(ctx, "writer opened",
		"session", w.session, "substreams", params.SubStreams, "subfile", w.fileIndex, "aggregator", w.isAggregator())

	return w, nil
}

func (w *Writer) logCtx(ctx context.Context) context.Context {
	return log.AddTags(ctx, w.tags...)
}

// shareSession broadcasts the session id of rank 0.
func (w *Writer) shareSession(ctx context.Context) (uuid.UUID, error) {
	var id []byte
	if w.ch.Rank() == 0 {
		session := uuid.New()
		id = session[:]
	}
	got, err := w.ch.Broadcast(ctx, 0, id)
	if err != nil {
		return uuid.Nil, err
	}

	return uuid.FromBytes(got)
}

// open splits the ranks into sub-stream groups, creates the directory and
// the sub-files, and publishes an empty, active output.
func (w *Writer) open(ctx context.Context) error {
	rank, size := w.ch.Rank(), w.ch.Size()
	color := rank * w.params.SubStreams / size

	sub, err := w.ch.Split(ctx, color, rank)
	if err != nil {
		return err
	}
	w.sub = sub
	w.fileIndex = uint32(color) //nolint:gosec
	if err := w.ser.Relocate(0, w.fileIndex); err != nil {
		return err
	}

	var mkdirErr error
	if rank == 0 {
		w.prof.Start("mkdir")
		mkdirErr = w.mgr.MkDir(ctx)
		w.prof.Stop("mkdir")
	}
	if err := collective.BroadcastError(ctx, w.ch, 0, mkdirErr); err != nil {
		return err
	}
	if w.isAggregator() {
		log.Infof(w.logCtx(ctx), "rank %d aggregates sub-file %d for %d ranks", rank, w.fileIndex, sub.Size())
	}

	var createErr error
	if w.isAggregator() {
		createErr = w.mgr.CreateFiles(ctx, w.fileIndex)
	}
	if createErr == nil && rank == 0 {
		createErr = w.publish(ctx, &bp.Metadata{}, true)
	}

	return agree(ctx, w.ch, createErr)
}

func (w *Writer) isAggregator() bool { return w.sub.Rank() == 0 }

// ownsSubFile reports whether no other rank writes the sub-file of w, which
// allows flushes outside collective calls.
func (w *Writer) ownsSubFile() bool { return w.sub.Size() == 1 }

// Session returns the id shared by every rank of the output.
func (w *Writer) Session() uuid.UUID { return w.session }

// Manager returns the file layout of the output.
func (w *Writer) Manager() *transport.Manager { return w.mgr }

// CurrentStep returns the zero-based step being written, or the next one
// between steps.
func (w *Writer) CurrentStep() int { return w.ser.CurrentStep() }

// Flushes returns the number of data flushes performed so far, forced ones
// included.
func (w *Writer) Flushes() int { return w.flushes }

// BeginStep starts a new step. A writer is never kept waiting, so the
// status is always StepOK on success.
func (w *Writer) BeginStep(ctx context.Context) (format.StepStatus, error) {
	if w.closed {
		return format.StepOtherError, fmt.Errorf("%w: begin step", errs.ErrEngineClosed)
	}
	if w.stepOpen {
		return format.StepOtherError, fmt.Errorf("%w: begin step %d before ending the previous one",
			errs.ErrInvalidCallOrder, w.CurrentStep())
	}
	if err := w.ser.PutProcessGroupIndex(w.io.Name(), pgMethods); err != nil {
		return format.StepOtherError, err
	}
	w.stepOpen = true
	log.Debugf(w.logCtx(ctx), "begin step %d", w.CurrentStep())

	return format.StepOK, nil
}

// Put writes the block of v selected by its current selection from data, a
// []T matching the variable type. Sync puts are serialized immediately;
// deferred puts keep a reference to data until PerformPuts or EndStep.
//
// Returns:
//   - error: ErrInvalidCallOrder outside a step, ErrEngineClosed,
//     ErrTypeMismatch and ErrInvalidSelection for unsuitable data
func (w *Writer) Put(ctx context.Context, v *core.Variable, data any, mode format.Mode) error {
	if w.closed {
		return fmt.Errorf("%w: put %q", errs.ErrEngineClosed, v.Name())
	}
	if !w.stepOpen {
		return fmt.Errorf("%w: put %q outside a step", errs.ErrInvalidCallOrder, v.Name())
	}

	info := v.NewBlockInfo(data)
	if err := info.Validate(v.Name(), v.Type(), 1); err != nil {
		return err
	}
	if mode == format.ModeDeferred {
		w.deferred = append(w.deferred, deferredPut{v: v, info: info})
		return nil
	}

	return w.put(ctx, v, &info)
}

func (w *Writer) put(ctx context.Context, v *core.Variable, info *core.BlockInfo) error {
	res, err := w.ser.ReserveFor(v, info)
	if err != nil {
		return err
	}
	if res == buffer.ResizeFlush {
		if err := w.forceFlush(w.logCtx(ctx), v); err != nil {
			return err
		}
	}

	return w.ser.PutVariable(v, info)
}

// forceFlush empties a full data buffer in the middle of a step. Only a
// rank owning its sub-file can do so; an aggregated rank lets the buffer
// grow past MaxBufferSize.
func (w *Writer) forceFlush(ctx context.Context, v *core.Variable) error {
	size := w.ser.Data().Size()
	if !w.ownsSubFile() {
		log.Warnw(ctx, "data buffer exceeds MaxBufferSize, growing it since the sub-file is aggregated",
			"variable", v.Name(), "buffer", size, "max", w.params.MaxBufferSize)

		return nil
	}

	log.Infow(ctx, "forced flush", "variable", v.Name(), "buffer", size, "step", w.CurrentStep())

	return w.flushData(ctx)
}

// PerformPuts serializes every deferred put.
func (w *Writer) PerformPuts(ctx context.Context) error {
	if w.closed {
		return fmt.Errorf("%w: perform puts", errs.ErrEngineClosed)
	}
	if len(w.deferred) == 0 {
		return nil
	}
	if !w.stepOpen {
		return fmt.Errorf("%w: perform puts outside a step", errs.ErrInvalidCallOrder)
	}

	for i := range w.deferred {
		d := &w.deferred[i]
		if err := w.put(ctx, d.v, &d.info); err != nil {
			return err
		}
	}
	clear(w.deferred)
	w.deferred = w.deferred[:0]

	return nil
}

// Flush writes the buffered data of every rank to the sub-files without
// ending the step. It is collective when ranks share sub-files.
func (w *Writer) Flush(ctx context.Context) error {
	if w.closed {
		return fmt.Errorf("%w: flush", errs.ErrEngineClosed)
	}
	ctx = w.logCtx(ctx)
	if err := w.PerformPuts(ctx); err != nil {
		return err
	}

	return w.flushData(ctx)
}

// flushData closes the open process group, writes the data buffer and
// reopens a process group for the same step.
func (w *Writer) flushData(ctx context.Context) error {
	reopen := w.ser.HasOpenProcessGroup()
	data, err := w.ser.CloseStream(w.io)
	if err != nil {
		return err
	}
	if err := w.writeData(ctx, data); err != nil {
		return err
	}
	w.flushes++
	log.Debugf(ctx, "flushed %d bytes of step %d", len(data), w.CurrentStep())

	if reopen {
		return w.ser.PutProcessGroupIndex(w.io.Name(), pgMethods)
	}

	return nil
}

// writeData appends the data buffer to the sub-file and empties it.
//
// An owner keeps absolute offsets, so its index already points at file
// positions. Aggregated ranks send their bytes to the aggregator, learn where
// they landed and relocate their index records.
func (w *Writer) writeData(ctx context.Context, data []byte) error {
	if w.ownsSubFile() {
		if len(data) > 0 {
			if err := w.mgr.WriteFiles(ctx, data, w.offset, w.fileIndex); err != nil {
				return err
			}
		}
		w.offset += uint64(len(data))

		return w.ser.ResetData(true)
	}

	all, sizes, err := w.sub.GatherV(ctx, 0, data)
	if err != nil {
		return err
	}

	engine := w.ser.Engine()
	var positions []byte
	var writeErr error
	if w.isAggregator() {
		positions = make([]byte, 8*len(sizes))
		pos := w.offset
		for i, n := range sizes {
			engine.PutUint64(positions[8*i:], pos)
			pos += uint64(n) //nolint:gosec
		}
		if len(all) > 0 {
			writeErr = w.mgr.WriteFiles(ctx, all, w.offset, w.fileIndex)
		}
		w.offset = pos
	}
	if err := collective.BroadcastError(ctx, w.sub, 0, writeErr); err != nil {
		return err
	}
	if positions, err = w.sub.Broadcast(ctx, 0, positions); err != nil {
		return err
	}

	at := engine.Uint64(positions[8*w.sub.Rank():])
	if err := w.ser.Relocate(at, w.fileIndex); err != nil {
		return err
	}

	return w.ser.ResetData(false)
}

// EndStep performs the deferred puts, closes the step, writes the data and,
// with CollectiveMetadata on, merges and publishes the metadata.
func (w *Writer) EndStep(ctx context.Context) error {
	if w.closed {
		return fmt.Errorf("%w: end step", errs.ErrEngineClosed)
	}
	if !w.stepOpen {
		return fmt.Errorf("%w: end step without a step", errs.ErrInvalidCallOrder)
	}
	ctx = w.logCtx(ctx)

	if err := w.PerformPuts(ctx); err != nil {
		return err
	}
	step := w.CurrentStep()
	if err := w.ser.SerializeData(w.io, true); err != nil {
		return err
	}
	w.stepOpen = false

	if err := w.writeData(ctx, w.ser.Data().Bytes()); err != nil {
		return err
	}
	w.steps++

	if w.params.CollectiveMetadata {
		if err := w.writeMetadata(ctx, true); err != nil {
			return err
		}
	}
	log.Debugf(ctx, "end step %d", step)

	return nil
}

// writeMetadata merges the metadata of every rank; rank 0 publishes it.
func (w *Writer) writeMetadata(ctx context.Context, active bool) error {
	md, err := w.ser.AggregateCollectiveMetadata(ctx, w.ch)
	if err == nil && w.ch.Rank() == 0 {
		err = w.publish(ctx, md, active)
		if err == nil {
			log.Debugw(ctx, "metadata published",
				"pgs", md.PGCount, "variables", len(md.Variables), "attributes", len(md.Attributes), "active", active)
		}
	}

	return agree(ctx, w.ch, err)
}

// publish writes the metadata file, then the md.idx describing it.
func (w *Writer) publish(ctx context.Context, md *bp.Metadata, active bool) error {
	data, err := md.Bytes(w.ser.Engine(), true)
	if err != nil {
		return err
	}
	if err := w.mgr.WriteWhole(ctx, w.mgr.MetadataName(), data); err != nil {
		return err
	}
	idx := section.NewMetadataIndex(w.ser.Engine(), active, w.steps, data)

	return w.mgr.WriteWhole(ctx, w.mgr.IndexName(), idx.Bytes())
}

// Close ends an open step, publishes the final metadata with the output
// marked inactive, writes profiling.json and closes the sub-files. It is
// collective.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed {
		return fmt.Errorf("%w: close", errs.ErrEngineClosed)
	}
	ctx = w.logCtx(ctx)

	if w.stepOpen {
		if err := w.EndStep(ctx); err != nil {
			return err
		}
	}
	w.closed = true
	defer w.release()

	if err := w.writeMetadata(ctx, false); err != nil {
		log.Errorw(ctx, "publishing final metadata failed", "steps", w.steps, "error", err)
		return err
	}

	if w.params.Profile {
		report, err := bp.AggregateProfilingJSON(ctx, w.ch, w.prof)
		if err != nil {
			return err
		}
		if w.ch.Rank() == 0 {
			err = w.mgr.WriteWhole(ctx, w.mgr.ProfilingName(), report)
		}
		if err := agree(ctx, w.ch, err); err != nil {
			return err
		}
	}

	var closeErr error
	if w.isAggregator() {
		closeErr = w.mgr.CloseFiles(ctx, w.fileIndex)
	}
	if err := agree(ctx, w.ch, closeErr); err != nil {
		return err
	}
	log.Infow(ctx, "writer closed", "steps", w.steps, "flushes", w.flushes, "bytes", w.offset)

	return nil
}

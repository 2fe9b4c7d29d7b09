package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/bpio/bp"
	"github.com/arloliu/bpio/collective"
	"github.com/arloliu/bpio/config"
	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/encoding"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
	"github.com/arloliu/bpio/internal/log"
	"github.com/arloliu/bpio/internal/pool"
	"github.com/arloliu/bpio/section"
	"github.com/arloliu/bpio/transport"
)

// verdict is the outcome of one check for new steps, decided by rank 0.
type verdict uint8

const (
	verdictNew     verdict = iota // metadata follows
	verdictWait                   // sleep duration follows
	verdictEnd                    // the writer closed the output
	verdictTimeout                // the wait budget is spent
	verdictFailed                 // error message follows
)

// BlockSummary describes one stored block of a variable.
type BlockSummary struct {
	ID        int
	Step      int
	WriterID  uint32
	FileIndex uint32
	Start     core.Dims
	Count     core.Dims
	// Value is set for single values.
	Value    any
	Min, Max any
	Operator format.CompressionType
}

// Reader reads a BP output written by Writer.
//
// Without BeginStep the reader works in random-access mode: every step is
// visible and reads follow the step selection of each variable. The first
// BeginStep switches to streaming mode, where reads always target the
// current step:
//
//	for {
//		status, err := r.BeginStep(ctx, time.Second)
//		if err != nil || status == format.StepEndOfStream {
//			break
//		}
//		if status == format.StepNotReady {
//			continue
//		}
//		r.Get(ctx, v, dst, format.ModeDeferred)
//		r.EndStep(ctx)
//	}
//
// Reader is not safe for concurrent use.
type Reader struct {
	io      *core.IO
	ch      collective.Channel
	params  config.Params
	mgr     *transport.Manager
	des     *bp.Deserializer
	release func()
	tags    []any

	mdLength  uint64
	steps     int
	current   int
	streaming bool
	stepOpen  bool
	pending   []bp.ReadRequest
	performed bool
	closed    bool
}

// NewReader opens the output called name for reading and parses its
// metadata into io. It is collective over the channel.
//
// Rank 0 waits up to OpenTimeoutSecs for the metadata file to appear; its
// verdict is shared with every rank.
//
// Parameters:
//   - ctx: bounds the wait and the collective open
//   - io: receives the variable and attribute definitions
//   - name: output name; ".bp" is appended when missing
//   - opts: WithChannel, WithStore, WithByteReversal
//
// Returns:
//   - *Reader: reader in random-access mode
//   - error: ErrCollectiveOpen wrapping the failure of rank 0, format errors
func NewReader(ctx context.Context, io *core.IO, name string, opts ...Option) (*Reader, error) {
	cfg, err := newOpenConfig(opts)
	if err != nil {
		return nil, err
	}
	params, err := config.ParseEngineParams(io.Parameters(), cfg.ch.Size())
	if err != nil {
		return nil, err
	}

	r := &Reader{
		io:      io,
		ch:      cfg.ch,
		params:  params,
		current: -1,
		tags:    []any{"rank", cfg.ch.Rank(), "engine", "BP3Reader", "output", transport.BaseName(name)},
	}
	ctx = r.logCtx(ctx)

	r.des, err = bp.NewDeserializer(
		bp.WithByteReversal(cfg.byteReversal),
		bp.WithParseThreads(params.Threads),
		bp.WithHostColumnMajor(params.ColumnMajor),
	)
	if err != nil {
		return nil, err
	}

	store, release, err := cfg.openStore(params, true)
	if err != nil {
		return nil, err
	}
	r.mgr, err = transport.NewManager(store, name)
	if err != nil {
		release()
		return nil, err
	}
	r.release = release

	if err := r.open(ctx); err != nil {
		release()
		return nil, err
	}
	log.Infow(ctx, "reader opened", "steps", r.steps, "variables", len(io.Variables()))

	return r, nil
}

func (r *Reader) logCtx(ctx context.Context) context.Context {
	return log.AddTags(ctx, r.tags...)
}

func (r *Reader) open(ctx context.Context) error {
	var data []byte
	var openErr error
	if r.ch.Rank() == 0 {
		openErr = r.waitForFile(ctx)
		for openErr == nil {
			// nil data means a metadata rewrite is in progress
			if data, _, openErr = r.fetch(ctx); openErr != nil || data != nil {
				break
			}
			openErr = sleep(ctx, r.params.PollingFrequency)
		}
	}
	if err := collective.BroadcastError(ctx, r.ch, 0, openErr); err != nil {
		return err
	}

	data, err := r.ch.Broadcast(ctx, 0, data)
	if err != nil {
		return err
	}

	return agree(ctx, r.ch, r.parse(data))
}

// waitForFile polls for the metadata file for at most OpenTimeout.
func (r *Reader) waitForFile(ctx context.Context) error {
	deadline := time.Now().Add(r.params.OpenTimeout)
	for {
		ok, err := r.mgr.Exists(ctx, r.mgr.MetadataName())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: %s", errs.ErrFileNotFound, r.mgr.MetadataName())
		}
		if err := sleep(ctx, min(remaining, r.params.PollingFrequency)); err != nil {
			return err
		}
	}
}

// fetch reads the metadata file and reports whether the writer is still
// active. Without md.idx the output is complete. A metadata file that does
// not match md.idx is being rewritten: fetch returns nil data and active.
func (r *Reader) fetch(ctx context.Context) ([]byte, bool, error) {
	var idx *section.MetadataIndex
	ok, err := r.mgr.Exists(ctx, r.mgr.IndexName())
	if err != nil {
		return nil, false, err
	}
	if ok {
		raw, err := r.mgr.ReadWhole(ctx, r.mgr.IndexName())
		if err != nil {
			return nil, false, err
		}
		parsed, err := section.ParseMetadataIndex(raw)
		if err != nil {
			return nil, false, err
		}
		idx = &parsed
	}

	data, err := r.mgr.ReadWhole(ctx, r.mgr.MetadataName())
	if err != nil {
		return nil, false, err
	}
	if idx == nil {
		return data, false, nil
	}
	if !idx.Matches(data) {
		log.Debugf(ctx, "metadata of %d bytes does not match md.idx, retrying", len(data))
		return nil, true, nil
	}

	return data, idx.Active, nil
}

func (r *Reader) parse(data []byte) error {
	if err := r.des.ParseMetadata(data, r.io); err != nil {
		return err
	}
	r.mdLength = uint64(len(data))
	r.steps = r.des.StepsCount()

	return nil
}

// Steps returns the number of steps parsed so far.
func (r *Reader) Steps() int { return r.steps }

// CurrentStep returns the step of the last successful BeginStep, or -1.
func (r *Reader) CurrentStep() int { return r.current }

// Deserializer returns the metadata parser of the reader.
func (r *Reader) Deserializer() *bp.Deserializer { return r.des }

// Variables returns the variables with blocks in the current step, or every
// variable in random-access mode.
func (r *Reader) Variables() []*core.Variable {
	vars := r.io.Variables()
	if !r.streaming {
		return vars
	}

	return slices.DeleteFunc(vars, func(v *core.Variable) bool {
		return len(v.Blocks(r.current)) == 0
	})
}

// BeginStep moves to the next step. When the parsed metadata has no further
// step, rank 0 re-reads the metadata every BeginStepPollingFrequencySecs
// until a new step appears, the writer closes the output or timeout
// elapses. A negative timeout waits until ctx is done.
//
// Returns:
//   - format.StepStatus: StepOK with the step selected, StepNotReady after
//     timeout, StepEndOfStream when the writer closed without new steps
//   - error: ErrInvalidCallOrder with a step open, parse and transport
//     failures, which come with StepOtherError
func (r *Reader) BeginStep(ctx context.Context, timeout time.Duration) (format.StepStatus, error) {
	if r.closed {
		return format.StepOtherError, fmt.Errorf("%w: begin step", errs.ErrEngineClosed)
	}
	if r.stepOpen {
		return format.StepOtherError, fmt.Errorf("%w: begin step while step %d is open", errs.ErrInvalidCallOrder, r.current)
	}
	ctx = r.logCtx(ctx)
	r.streaming = true

	start := time.Now()
	next := r.current + 1
	for {
		if next < r.steps {
			r.enter(next)
			log.Debugf(ctx, "begin step %d of %d", next, r.steps)

			return format.StepOK, nil
		}

		v, payload, err := r.checkForNewSteps(ctx, start, timeout)
		if err != nil {
			return format.StepOtherError, err
		}
		switch v {
		case verdictNew:
			if err := agree(ctx, r.ch, r.parse(payload)); err != nil {
				return format.StepOtherError, err
			}
		case verdictWait:
			d := time.Duration(endian.GetLittleEndianEngine().Uint64(payload)) //nolint:gosec
			if err := sleep(ctx, d); err != nil {
				return format.StepOtherError, err
			}
		case verdictEnd:
			log.Debugf(ctx, "end of stream after %d steps", r.steps)
			return format.StepEndOfStream, nil
		case verdictTimeout:
			return format.StepNotReady, nil
		case verdictFailed:
			return format.StepOtherError, fmt.Errorf("%w: rank 0: %s", errs.ErrCollective, payload)
		}
	}
}

// checkForNewSteps lets rank 0 decide what every rank does next and
// broadcasts the decision.
func (r *Reader) checkForNewSteps(ctx context.Context, start time.Time, timeout time.Duration) (verdict, []byte, error) {
	var msg []byte
	if r.ch.Rank() == 0 {
		msg = r.decide(ctx, start, timeout)
	}

	msg, err := r.ch.Broadcast(ctx, 0, msg)
	if err != nil {
		return verdictFailed, nil, err
	}
	if len(msg) == 0 {
		return verdictFailed, nil, fmt.Errorf("%w: empty step verdict", errs.ErrCollective)
	}

	return verdict(msg[0]), msg[1:], nil
}

func (r *Reader) decide(ctx context.Context, start time.Time, timeout time.Duration) []byte {
	data, active, err := r.fetch(ctx)
	switch {
	case err != nil:
		return append([]byte{byte(verdictFailed)}, err.Error()...)
	case data != nil && uint64(len(data)) != r.mdLength:
		return append([]byte{byte(verdictNew)}, data...)
	case !active:
		return []byte{byte(verdictEnd)}
	}

	wait := r.params.PollingFrequency
	if timeout >= 0 {
		remaining := timeout - time.Since(start)
		if remaining <= 0 {
			return []byte{byte(verdictTimeout)}
		}
		wait = min(wait, remaining)
	}
	out := make([]byte, 9)
	out[0] = byte(verdictWait)
	endian.GetLittleEndianEngine().PutUint64(out[1:], uint64(wait)) //nolint:gosec

	return out
}

func (r *Reader) enter(step int) {
	r.current = step
	r.stepOpen = true
	r.performed = false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EndStep performs the pending gets and closes the step.
func (r *Reader) EndStep(ctx context.Context) error {
	if r.closed {
		return fmt.Errorf("%w: end step", errs.ErrEngineClosed)
	}
	if !r.stepOpen {
		return fmt.Errorf("%w: end step without a step", errs.ErrInvalidCallOrder)
	}
	if len(r.pending) > 0 {
		if err := r.PerformGets(ctx); err != nil {
			return err
		}
	}
	r.stepOpen = false

	return nil
}

// Get reads the selection of v into dst, a []T matching the variable type
// large enough for the selection times the selected steps. Deferred gets
// are read by PerformGets or EndStep; dst must stay untouched until then.
//
// Returns:
//   - error: ErrInvalidCallOrder outside a step in streaming mode,
//     ErrTypeMismatch, ErrInvalidSelection, transport and operator failures
func (r *Reader) Get(ctx context.Context, v *core.Variable, dst any, mode format.Mode) error {
	if r.closed {
		return fmt.Errorf("%w: get %q", errs.ErrEngineClosed, v.Name())
	}
	if r.streaming && !r.stepOpen {
		return fmt.Errorf("%w: get %q outside a step", errs.ErrInvalidCallOrder, v.Name())
	}

	info := v.NewBlockInfo(dst)
	if r.streaming {
		info.StepsStart, info.StepsCount = r.current, 1
	}
	if mode == format.ModeDeferred {
		r.pending = append(r.pending, bp.ReadRequest{Variable: v, Info: &info})
		r.performed = false

		return nil
	}

	return r.read(r.logCtx(ctx), []bp.ReadRequest{{Variable: v, Info: &info}})
}

// PerformGets reads every deferred get. Calling it again without a new
// deferred get or a new step is ErrInvalidCallOrder.
func (r *Reader) PerformGets(ctx context.Context) error {
	if r.closed {
		return fmt.Errorf("%w: perform gets", errs.ErrEngineClosed)
	}
	if r.performed {
		return fmt.Errorf("%w: perform gets called twice", errs.ErrInvalidCallOrder)
	}
	r.performed = true

	reqs := r.pending
	r.pending = nil
	if len(reqs) == 0 {
		return nil
	}

	return r.read(r.logCtx(ctx), reqs)
}

// readTask is one block range of one request.
type readTask struct {
	sfi bp.SubFileInfo
	dst []byte
	box core.Box
	dt  format.DataType
}

// read resolves the requests, reads the block ranges they need sorted by
// sub-file, clips them into per-request buffers and decodes those into the
// destinations.
func (r *Reader) read(ctx context.Context, reqs []bp.ReadRequest) error {
	var arrays []bp.ReadRequest
	for _, req := range reqs {
		if req.Variable.ShapeID() == format.ShapeGlobalValue {
			if err := r.readValues(req); err != nil {
				return err
			}

			continue
		}
		arrays = append(arrays, req)
	}
	if len(arrays) == 0 {
		return nil
	}

	maps, err := r.des.PerformGetsVariablesSubFileInfo(arrays)
	if err != nil {
		return err
	}

	var tasks []readTask
	outs := make([][]byte, len(arrays))
	for i, req := range arrays {
		v, info := req.Variable, req.Info
		box, err := bp.SelectionBox(v, info)
		if err != nil {
			return err
		}
		steps := max(info.StepsCount, 1)
		check := *info
		check.Count, check.MemoryCount = box.Count(), nil
		if err := check.Validate(v.Name(), v.Type(), steps); err != nil {
			return err
		}

		stepBytes := int(box.Elements()) * v.Type().Size() //nolint:gosec
		outs[i] = make([]byte, stepBytes*steps)
		for _, sfi := range maps[i].All() {
			at := (sfi.Step - info.StepsStart) * stepBytes
			tasks = append(tasks, readTask{sfi: sfi, dst: outs[i][at : at+stepBytes], box: box, dt: v.Type()})
		}
	}

	if err := r.runTasks(ctx, tasks); err != nil {
		log.Errorw(ctx, "reading blocks failed", "blocks", len(tasks), "variables", len(arrays), "error", err)
		return err
	}

	for i, req := range arrays {
		if err := encoding.DecodeInto(endian.HostEngine(), outs[i], req.Info.Data); err != nil {
			return fmt.Errorf("get %q: %w", req.Variable.Name(), err)
		}
	}
	log.Debugf(ctx, "read %d blocks for %d variables", len(tasks), len(arrays))

	return nil
}

func (r *Reader) readValues(req bp.ReadRequest) error {
	values, err := r.des.ValueFromMetadata(req.Variable, req.Info)
	if err != nil {
		return err
	}
	for i, v := range values {
		if err := encoding.SetElement(req.Info.Data, i, v); err != nil {
			return fmt.Errorf("get %q: %w", req.Variable.Name(), err)
		}
	}

	return nil
}

// runTasks sorts the tasks by sub-file and offset and hands every worker a
// contiguous chunk, so each sub-file is mostly read by one goroutine.
func (r *Reader) runTasks(ctx context.Context, tasks []readTask) error {
	slices.SortFunc(tasks, func(a, b readTask) int {
		return cmp.Or(cmp.Compare(a.sfi.FileIndex, b.sfi.FileIndex), cmp.Compare(a.sfi.Seeks.Start, b.sfi.Seeks.Start))
	})

	workers := min(r.params.Threads, len(tasks))
	if workers <= 1 {
		return r.readChunk(ctx, tasks)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	chunk := (len(tasks) + workers - 1) / workers
	for from := 0; from < len(tasks); from += chunk {
		part := tasks[from:min(from+chunk, len(tasks))]
		g.Go(func() error {
			return r.readChunk(ctx, part)
		})
	}

	return g.Wait()
}

func (r *Reader) readChunk(ctx context.Context, tasks []readTask) error {
	bb := pool.GetBlockBuffer()
	defer pool.PutBlockBuffer(bb)

	for _, t := range tasks {
		payload := bb.Resize(int(t.sfi.Seeks.Len())) //nolint:gosec
		if err := r.mgr.ReadFile(ctx, payload, t.sfi.Seeks.Start, t.sfi.FileIndex); err != nil {
			return err
		}
		if err := r.des.ClipContiguousMemory(t.dst, t.box, payload, t.sfi, t.dt); err != nil {
			return err
		}
	}

	return nil
}

// BlocksInfo returns the blocks of v stored at step.
func (r *Reader) BlocksInfo(v *core.Variable, step int) []BlockSummary {
	blocks := v.Blocks(step)
	out := make([]BlockSummary, len(blocks))
	for i, b := range blocks {
		out[i] = BlockSummary{
			ID:        i,
			Step:      step,
			WriterID:  b.WriterID,
			FileIndex: b.FileIndex,
			Start:     b.Start.Clone(),
			Count:     b.Count.Clone(),
			Value:     b.Value,
			Min:       b.Min,
			Max:       b.Max,
			Operator:  b.Operator,
		}
	}

	return out
}

// Close ends an open step and releases the store.
func (r *Reader) Close(ctx context.Context) error {
	if r.closed {
		return fmt.Errorf("%w: close", errs.ErrEngineClosed)
	}

	var err error
	if r.stepOpen {
		err = r.EndStep(ctx)
	}
	r.closed = true
	r.release()
	log.Infow(r.logCtx(ctx), "reader closed", "steps", r.steps)

	return agree(ctx, r.ch, err)
}

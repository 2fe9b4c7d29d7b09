package bp

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/compress"
	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/encoding"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
	"github.com/arloliu/bpio/internal/options"
	"github.com/arloliu/bpio/internal/pool"
	"github.com/arloliu/bpio/section"
	"github.com/arloliu/bpio/selection"
)

const (
	// entryOverhead bounds the fixed bytes of a variable entry besides names,
	// dimensions and payload, in both the data and the index.
	entryOverhead = 128
	// scratchSize is the initial size of the scratch buffer used to encode
	// index records.
	scratchSize = 4096
)

type processGroup struct {
	length     buffer.Placeholder
	varsCount  buffer.Placeholder
	varsLength buffer.Placeholder
	vars       uint64
}

type pendingPayload struct {
	name  string
	entry buffer.Placeholder
	block *stagedBlock
}

// stagedBlock is a block encoded in the stream byte order and, when an
// operator is set, transformed, waiting to be copied into the data buffer.
type stagedBlock struct {
	payload   []byte
	value     any
	min, max  any
	transform *section.Transform
	pooled    *pool.ByteBuffer
}

func (b *stagedBlock) release() {
	if b.pooled != nil {
		pool.PutPayloadBuffer(b.pooled)
		b.pooled = nil
	}
	b.payload = nil
}

// Serializer writes the process groups of one rank into a data buffer and
// accumulates the rank's metadata index.
//
// A step is written as:
//
//	s.PutProcessGroupIndex(io.Name(), nil)
//	s.PutVariable(v, &info) // once per block
//	s.SerializeData(io, true)
//
// Serializer is not safe for concurrent use.
type Serializer struct {
	engine      endian.EndianEngine
	rank        uint32
	fileIndex   uint32
	threads     int
	columnMajor bool
	bufferOpts  []buffer.Option
	profiler    *Profiler

	data    *buffer.Buffer
	scratch *buffer.Buffer
	session *Session

	timeStep    uint32
	pgIndex     []byte
	pgCount     uint64
	pgRelocated int
	vars        map[string]*SerialElementIndex
	attrs       map[string]*SerialElementIndex

	pg      *processGroup
	pending *pendingPayload
	closed  bool
}

// NewSerializer creates a serializer positioned at the first step.
//
// Parameters:
//   - opts: WithEngine, WithRank, WithThreads, WithColumnMajor,
//     WithBufferOptions, WithProfiler
//
// Returns:
//   - *Serializer: serializer with an empty data buffer
//   - error: invalid options
func NewSerializer(opts ...SerializerOption) (*Serializer, error) {
	s := &Serializer{
		engine:   endian.HostEngine(),
		threads:  1,
		session:  NewSession(),
		timeStep: format.FirstTimeStep,
		vars:     make(map[string]*SerialElementIndex),
		attrs:    make(map[string]*SerialElementIndex),
	}
	if err := options.Apply(s, opts...); err != nil {
		return nil, err
	}

	data, err := buffer.New(s.engine, s.bufferOpts...)
	if err != nil {
		return nil, err
	}
	s.data = data

	scratch, err := buffer.New(s.engine, buffer.WithInitialSize(scratchSize), buffer.WithGrowthFactor(2))
	if err != nil {
		return nil, err
	}
	s.scratch = scratch

	return s, nil
}

// Validate implements options.Validator.
func (s *Serializer) Validate() error {
	if s.threads < 1 {
		return fmt.Errorf("%w: threads %d, need at least 1", errs.ErrInvalidArgument, s.threads)
	}

	return nil
}

// Engine returns the stream byte order.
func (s *Serializer) Engine() endian.EndianEngine { return s.engine }

// Rank returns the writer rank.
func (s *Serializer) Rank() int { return int(s.rank) }

// Data returns the data buffer. The engine flushes Data().Bytes() to the
// transport and calls ResetData afterwards.
func (s *Serializer) Data() *buffer.Buffer { return s.data }

// Session returns the per-output session state.
func (s *Serializer) Session() *Session { return s.session }

// CurrentStep returns the zero-based step being written.
func (s *Serializer) CurrentStep() int {
	return int(s.timeStep - format.FirstTimeStep)
}

// HasOpenProcessGroup reports whether a process group is being written.
func (s *Serializer) HasOpenProcessGroup() bool { return s.pg != nil }

// PutProcessGroupIndex opens a process group for the current step: it
// records the PG index entry and writes the PG header with its length, the
// variable count and the variables length left to be backpatched.
//
// Parameters:
//   - ioName: process group name
//   - methods: transport method ids recorded in the header
//
// Returns:
//   - error: ErrInvalidCallOrder when a process group is already open,
//     ErrEngineClosed after CloseData
func (s *Serializer) PutProcessGroupIndex(ioName string, methods []uint8) error {
	if s.closed {
		return fmt.Errorf("%w: put process group %q", errs.ErrEngineClosed, ioName)
	}
	if s.pg != nil {
		return fmt.Errorf("%w: process group %q is already open", errs.ErrInvalidCallOrder, ioName)
	}

	entry := section.PGIndexEntry{
		Name:          ioName,
		IsColumnMajor: s.columnMajor,
		ProcessID:     s.rank,
		TimeStepName:  format.DefaultGroupName,
		TimeStep:      s.timeStep,
		Offset:        s.data.AbsolutePosition(),
	}
	s.scratch.Reset(false)
	if err := entry.Write(s.scratch); err != nil {
		return fmt.Errorf("put process group index %q: %w", ioName, err)
	}

	length := s.data.Reserve(8)
	header := section.PGHeader{
		IsColumnMajor: s.columnMajor,
		Name:          ioName,
		TimeStepName:  format.DefaultGroupName,
		TimeStep:      s.timeStep,
		Methods:       methods,
	}
	if err := header.Write(s.data); err != nil {
		length.Rollback()
		return fmt.Errorf("put process group %q: %w", ioName, err)
	}

	s.pg = &processGroup{
		length:     length,
		varsCount:  s.data.Reserve(4),
		varsLength: s.data.Reserve(8),
	}
	s.pgIndex = append(s.pgIndex, s.scratch.Bytes()...)
	s.pgCount++

	return nil
}

// EstimateSize returns an upper bound of the bytes PutVariable adds to the
// data buffer for info.
func (s *Serializer) EstimateSize(v *core.Variable, info *core.BlockInfo) int {
	dt := v.Type()
	payload := int(info.Elements()) * dt.Size() //nolint:gosec
	if v.ShapeID() == format.ShapeGlobalValue && dt == format.String {
		if str, err := encoding.ElementAt(info.Data, 0); err == nil {
			payload = 2 + len(str.(string)) //nolint:forcetypeassert
		}
	}
	for _, op := range info.Operations {
		if operator, err := compress.Get(op.Type); err == nil {
			payload = operator.MaxCompressedSize(payload)
		}
	}

	dims := len(info.Count) * (section.DataDimensionSize + section.DimensionSize)

	return entryOverhead + 2*len(v.Name()) + dims + 2*payload
}

// ReserveFor makes room in the data buffer for PutVariable.
//
// Returns:
//   - buffer.ResizeResult: ResizeFlush when the buffer cannot grow within
//     its maximum size; the engine should flush and call ResetData first
//   - error: buffer sizing errors
func (s *Serializer) ReserveFor(v *core.Variable, info *core.BlockInfo) (buffer.ResizeResult, error) {
	return s.data.ResizeFor(s.EstimateSize(v, info))
}

// PutVariable writes one block: PutVariableMetadata then PutVariablePayload.
func (s *Serializer) PutVariable(v *core.Variable, info *core.BlockInfo) error {
	if err := s.PutVariableMetadata(v, info); err != nil {
		return err
	}

	return s.PutVariablePayload(v)
}

// PutVariableMetadata writes the variable entry header and its data
// characteristics, and appends an index characteristic set to the
// variable's SerialElementIndex.
//
// The payload is encoded, packed from the memory selection and transformed
// by the variable operator before anything is written, so the sizes in both
// characteristic sets are final. PutVariablePayload must follow.
//
// Parameters:
//   - v: variable being written
//   - info: data and selection of the block
//
// Returns:
//   - error: ErrInvalidCallOrder outside a process group or with a payload
//     pending, selection, type and operator errors; nothing is written on error
func (s *Serializer) PutVariableMetadata(v *core.Variable, info *core.BlockInfo) error {
	name := v.Name()
	if s.pg == nil {
		return fmt.Errorf("%w: put variable %q outside a process group", errs.ErrInvalidCallOrder, name)
	}
	if s.pending != nil {
		return fmt.Errorf("%w: put variable %q while the payload of %q is pending", errs.ErrInvalidCallOrder, name, s.pending.name)
	}
	dt := v.Type()
	if err := info.Validate(name, dt, 1); err != nil {
		return err
	}
	if len(info.Operations) > 1 {
		return fmt.Errorf("%w: variable %q has %d operations, one is supported", errs.ErrInvalidArgument, name, len(info.Operations))
	}

	s.profiler.Start("buffering")
	defer s.profiler.Stop("buffering")

	block, err := s.stage(v, info)
	if err != nil {
		return fmt.Errorf("put variable %q: %w", name, err)
	}

	dims := blockDimensions(v, info)
	memberID := s.session.MemberID(name)
	entryOffset := s.data.AbsolutePosition()
	entry := s.data.Reserve(8)

	header := section.VarEntryHeader{
		MemberID:  memberID,
		GroupName: format.DefaultGroupName,
		Name:      name,
		DataType:  dt,
		Dims:      dims,
	}
	ch := section.Characteristics{
		TimeStep:  s.timeStep,
		Dims:      dims,
		Value:     block.value,
		Min:       block.min,
		Max:       block.max,
		Transform: block.transform,
	}

	err = header.Write(s.data)
	if err == nil {
		err = section.WriteCharacteristics(s.data, section.KindVariableData, dt, &ch)
	}
	if err == nil {
		ch.FileIndex = s.fileIndex
		ch.Offset = entryOffset
		ch.PayloadOffset = s.data.AbsolutePosition()
		s.scratch.Reset(false)
		err = section.WriteCharacteristics(s.scratch, section.KindVariableIndex, dt, &ch)
	}
	if err != nil {
		entry.Rollback()
		block.release()

		return fmt.Errorf("put variable %q: %w", name, err)
	}

	s.variableIndex(name, dt, memberID).AppendSet(s.scratch.Bytes())
	s.pending = &pendingPayload{name: name, entry: entry, block: block}

	return nil
}

// PutVariablePayload copies the payload staged by PutVariableMetadata into
// the data buffer and backpatches the entry length.
func (s *Serializer) PutVariablePayload(v *core.Variable) error {
	p := s.pending
	if p == nil || p.name != v.Name() {
		return fmt.Errorf("%w: no metadata written for variable %q", errs.ErrInvalidCallOrder, v.Name())
	}

	s.profiler.Start("memcpy")
	s.data.CopyTo(p.block.payload)
	s.profiler.Stop("memcpy")
	s.profiler.AddBytes("buffering", uint64(len(p.block.payload)))

	if err := p.entry.PatchSpan(); err != nil {
		return fmt.Errorf("put variable %q: %w", p.name, err)
	}
	s.pg.vars++
	p.block.release()
	s.pending = nil

	return nil
}

func (s *Serializer) variableIndex(name string, dt format.DataType, memberID uint32) *SerialElementIndex {
	idx, ok := s.vars[name]
	if !ok {
		idx = &SerialElementIndex{MemberID: memberID, Name: name, DataType: dt}
		s.vars[name] = idx
	}

	return idx
}

func blockDimensions(v *core.Variable, info *core.BlockInfo) []section.Dimension {
	switch v.ShapeID() {
	case format.ShapeGlobalArray:
		return section.MakeDimensions(info.Count, info.Shape, info.Start)
	case format.ShapeLocalArray:
		return section.MakeDimensions(info.Count, nil, nil)
	default:
		return nil
	}
}

func (s *Serializer) stage(v *core.Variable, info *core.BlockInfo) (*stagedBlock, error) {
	dt := v.Type()
	block := &stagedBlock{pooled: pool.GetPayloadBuffer()}

	if v.ShapeID() == format.ShapeGlobalValue {
		value, err := encoding.ElementAt(info.Data, 0)
		if err != nil {
			block.release()
			return nil, err
		}
		out, err := encoding.AppendValue(s.engine, block.pooled.B[:0], dt, value)
		if err != nil {
			block.release()
			return nil, err
		}
		block.pooled.B = out
		block.payload = out
		block.value = value

		if err := block.transformWith(info.Operations); err != nil {
			block.release()
			return nil, err
		}

		return block, nil
	}

	var values any
	var err error
	if info.HasMemorySelection() {
		values, err = s.packMemorySelection(dt, info)
	} else {
		values, err = encoding.SliceWindow(info.Data, 0, int(info.Elements())) //nolint:gosec
	}
	if err != nil {
		block.release()
		return nil, err
	}

	block.min, block.max, _ = encoding.MinMaxAny(values)
	out, _, err := encoding.AppendAnySlice(s.engine, block.pooled.B[:0], values)
	if err != nil {
		block.release()
		return nil, err
	}
	block.pooled.B = out
	block.payload = out

	if err := block.transformWith(info.Operations); err != nil {
		block.release()
		return nil, err
	}

	return block, nil
}

// packMemorySelection copies the selected sub-box of a larger memory region
// into a new contiguous slice.
func (s *Serializer) packMemorySelection(dt format.DataType, info *core.BlockInfo) (any, error) {
	host := endian.HostEngine()
	all, err := encoding.SliceWindow(info.Data, 0, int(info.MemoryCount.Product())) //nolint:gosec
	if err != nil {
		return nil, err
	}

	scratch := pool.GetBlockBuffer()
	defer pool.PutBlockBuffer(scratch)
	raw, _, err := encoding.AppendAnySlice(host, scratch.B[:0], all)
	if err != nil {
		return nil, err
	}
	scratch.B = raw

	n := int(info.Elements()) //nolint:gosec
	packed := make([]byte, n*dt.Size())
	if err := selection.CopyToContiguous(packed, raw, info.MemoryStart, info.MemoryCount, info.Count, dt.Size(), !s.columnMajor); err != nil {
		return nil, err
	}

	return encoding.DecodeAnySlice(host, dt, packed, n)
}

func (b *stagedBlock) transformWith(ops []core.Operation) error {
	if len(ops) == 0 || !isTransformed(ops[0].Type) {
		return nil
	}

	operator, err := compress.Get(ops[0].Type)
	if err != nil {
		return err
	}
	out, err := operator.Compress(b.payload, ops[0].Params)
	if err != nil {
		return err
	}

	b.transform = &section.Transform{
		Type:        ops[0].Type,
		PreSize:     uint64(len(b.payload)),
		PayloadSize: uint64(len(out)),
	}
	b.payload = out

	return nil
}

func isTransformed(t format.CompressionType) bool {
	return t != 0 && t != format.CompressionNone
}

type encodedAttribute struct {
	attr     *core.Attribute
	memberID uint32
	header   section.AttrEntry
	entry    []byte
}

// PutAttributes writes the attributes section of the open process group:
// every attribute of io not written earlier in this session.
//
// All attributes are checked before anything is written, so a conflicting
// redefinition leaves the data buffer and the session untouched.
//
// Returns:
//   - error: ErrInvalidCallOrder outside a process group, ErrAttributeExists
//     for an attribute redefined with a different value
func (s *Serializer) PutAttributes(io *core.IO) error {
	if s.pg == nil {
		return fmt.Errorf("%w: put attributes of %q outside a process group", errs.ErrInvalidCallOrder, io.Name())
	}

	var fresh []encodedAttribute
	for _, a := range io.Attributes() {
		memberID := s.session.MemberID(a.Name())
		s.scratch.Reset(false)
		entry := section.AttrEntry{
			MemberID: memberID,
			Name:     a.Name(),
			Path:     format.DefaultGroupName,
			DataType: a.Type(),
			Value:    a.Value(),
		}
		if err := entry.Write(s.scratch); err != nil {
			return fmt.Errorf("put attribute %q: %w", a.Name(), err)
		}
		encoded := slices.Clone(s.scratch.Bytes())

		ok, err := s.session.CheckAttribute(a.Name(), encoded)
		if err != nil {
			return err
		}
		if ok {
			fresh = append(fresh, encodedAttribute{attr: a, memberID: memberID, header: entry, entry: encoded})
		}
	}

	count := s.data.Reserve(4)
	length := s.data.Reserve(8)
	for _, e := range fresh {
		if err := s.putAttribute(e); err != nil {
			count.Rollback()
			return err
		}
	}
	if err := count.Patch(uint64(len(fresh))); err != nil {
		count.Rollback()
		return err
	}
	if err := length.PatchSpan(); err != nil {
		count.Rollback()
		return err
	}

	for _, e := range fresh {
		if _, err := s.session.TrackAttribute(e.attr.Name(), e.entry); err != nil {
			return err
		}
	}

	return nil
}

func (s *Serializer) putAttribute(e encodedAttribute) error {
	a := e.attr
	offset := s.data.AbsolutePosition()
	s.data.CopyTo(e.entry)

	ch := section.Characteristics{
		TimeStep:  s.timeStep,
		FileIndex: s.fileIndex,
		Offset:        offset,
		PayloadOffset: offset + uint64(e.header.PayloadOffset()), //nolint:gosec
		Value:         a.Value(),
	}
	if !a.IsSingleValue() && a.Type() != format.StringArray {
		ch.Dims = []section.Dimension{{Local: uint64(a.Elements())}} //nolint:gosec
	}

	s.scratch.Reset(false)
	if err := section.WriteCharacteristics(s.scratch, section.KindAttributeIndex, a.Type(), &ch); err != nil {
		return fmt.Errorf("put attribute %q: %w", a.Name(), err)
	}

	idx := &SerialElementIndex{MemberID: e.memberID, Name: a.Name(), DataType: a.Type()}
	idx.AppendSet(s.scratch.Bytes())
	s.attrs[a.Name()] = idx

	return nil
}

// SerializeData closes the open process group: it backpatches the variable
// count and length, writes the attributes section and backpatches the PG
// length. Without an open process group only the step is advanced.
//
// Parameters:
//   - io: source of the attributes
//   - advanceStep: move to the next step afterwards
func (s *Serializer) SerializeData(io *core.IO, advanceStep bool) error {
	if s.pending != nil {
		return fmt.Errorf("%w: payload of %q is pending", errs.ErrInvalidCallOrder, s.pending.name)
	}

	if pg := s.pg; pg != nil {
		if pg.vars > math.MaxUint32 {
			return fmt.Errorf("%w: %d variables in one process group", errs.ErrBufferCapacity, pg.vars)
		}
		if err := pg.varsCount.Patch(pg.vars); err != nil {
			return err
		}
		if err := pg.varsLength.PatchSpan(); err != nil {
			return err
		}
		if err := s.PutAttributes(io); err != nil {
			return err
		}
		if err := pg.length.PatchSpan(); err != nil {
			return err
		}
		s.pg = nil
	}

	if advanceStep {
		s.timeStep++
	}

	return nil
}

// CloseStream closes the open process group without advancing the step, so
// the data buffer holds only complete process groups, and returns the bytes
// ready to be flushed.
func (s *Serializer) CloseStream(io *core.IO) ([]byte, error) {
	if err := s.SerializeData(io, false); err != nil {
		return nil, err
	}

	return s.data.Bytes(), nil
}

// CloseData closes the open process group and appends the rank's metadata
// index and minifooter to the data buffer, making the data stream
// self-describing. No process group can be opened afterwards.
func (s *Serializer) CloseData(io *core.IO) error {
	if s.closed {
		return fmt.Errorf("%w: close data of %q", errs.ErrEngineClosed, io.Name())
	}
	if err := s.SerializeData(io, false); err != nil {
		return err
	}

	md, err := s.LocalMetadata()
	if err != nil {
		return err
	}
	if err := md.WriteTo(s.data, false); err != nil {
		return err
	}
	s.closed = true

	return nil
}

// ResetData empties the data buffer after a flush. keepAbsolute keeps the
// stream offset so later offsets continue after the flushed bytes.
func (s *Serializer) ResetData(keepAbsolute bool) error {
	if s.pg != nil {
		return fmt.Errorf("%w: reset data with an open process group", errs.ErrInvalidCallOrder)
	}
	s.data.Reset(keepAbsolute)

	return nil
}

// Relocate rewrites the index records created since the previous call to
// point into sub-file fileIndex, delta bytes further than recorded. An
// aggregator that appends the rank's flushed bytes at position p of its
// sub-file has every member call Relocate(p, file) with a data buffer whose
// offsets restart at zero.
func (s *Serializer) Relocate(delta uint64, fileIndex uint32) error {
	c := buffer.NewCursor(s.pgIndex, s.engine)
	c.Seek(s.pgRelocated)
	for c.Pos() < len(s.pgIndex) {
		if _, err := section.ShiftPGIndexEntry(s.pgIndex, c, delta); err != nil {
			return err
		}
	}
	s.pgRelocated = len(s.pgIndex)

	for _, idx := range s.vars {
		if err := idx.relocate(s.engine, section.KindVariableIndex, delta, fileIndex); err != nil {
			return fmt.Errorf("relocate variable %q: %w", idx.Name, err)
		}
	}
	for _, idx := range s.attrs {
		if err := idx.relocate(s.engine, section.KindAttributeIndex, delta, fileIndex); err != nil {
			return fmt.Errorf("relocate attribute %q: %w", idx.Name, err)
		}
	}
	s.fileIndex = fileIndex

	return nil
}

// LocalMetadata returns the rank's own metadata index, entries sorted by name.
func (s *Serializer) LocalMetadata() (*Metadata, error) {
	md := &Metadata{
		PGCount: s.pgCount,
		PGIndex: slices.Clone(s.pgIndex),
	}

	var err error
	if md.Variables, err = s.encodeEntries(s.vars); err != nil {
		return nil, err
	}
	if md.Attributes, err = s.encodeEntries(s.attrs); err != nil {
		return nil, err
	}

	return md, nil
}

func (s *Serializer) encodeEntries(m map[string]*SerialElementIndex) ([][]byte, error) {
	out := make([][]byte, 0, len(m))
	for _, name := range slices.Sorted(maps.Keys(m)) {
		s.scratch.Reset(false)
		if err := m[name].WriteTo(s.scratch); err != nil {
			return nil, err
		}
		out = append(out, slices.Clone(s.scratch.Bytes()))
	}

	return out, nil
}

// Metadata is a complete metadata index: PG index entries and the encoded
// variable and attribute index entries, each entry including its length
// field.
type Metadata struct {
	PGCount    uint64
	PGIndex    []byte
	Variables  [][]byte
	Attributes [][]byte
}

// WriteTo appends the three index sections and the minifooter to b. Index
// start offsets are absolute positions of b.
func (m *Metadata) WriteTo(b *buffer.Buffer, hasSubFiles bool) error {
	if len(m.Variables) > math.MaxUint32 || len(m.Attributes) > math.MaxUint32 {
		return fmt.Errorf("%w: %d variables, %d attributes", errs.ErrBufferCapacity, len(m.Variables), len(m.Attributes))
	}

	pgStart := b.AbsolutePosition()
	b.PutU64(m.PGCount)
	b.PutU64(uint64(len(m.PGIndex)))
	b.CopyTo(m.PGIndex)

	varsStart := b.AbsolutePosition()
	if err := writeIndexSection(b, m.Variables); err != nil {
		return err
	}

	attrsStart := b.AbsolutePosition()
	if err := writeIndexSection(b, m.Attributes); err != nil {
		return err
	}

	section.WriteMinifooter(b, pgStart, varsStart, attrsStart, hasSubFiles)

	return nil
}

// Bytes encodes the metadata as a standalone stream.
func (m *Metadata) Bytes(engine endian.EndianEngine, hasSubFiles bool) ([]byte, error) {
	b, err := buffer.New(engine, buffer.WithInitialSize(m.size()))
	if err != nil {
		return nil, err
	}
	if err := m.WriteTo(b, hasSubFiles); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func (m *Metadata) size() int {
	n := section.PGIndexHeaderSize + len(m.PGIndex) + 2*section.ElementIndexHeaderSize + section.MinifooterSize
	for _, e := range m.Variables {
		n += len(e)
	}
	for _, e := range m.Attributes {
		n += len(e)
	}

	return n
}

func writeIndexSection(b *buffer.Buffer, entries [][]byte) error {
	b.PutU32(uint32(len(entries))) //nolint:gosec
	length := b.Reserve(8)
	for _, e := range entries {
		b.CopyTo(e)
	}

	return length.PatchSpan()
}

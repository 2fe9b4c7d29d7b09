package bp

import (
	"fmt"
	"maps"
	"slices"

	"github.com/arloliu/bpio/compress"
	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
	"github.com/arloliu/bpio/selection"
)

// Seeks is a byte range [Start, End) of a data sub-file.
type Seeks struct {
	Start uint64
	End   uint64
}

// Len returns the number of bytes in the range.
func (s Seeks) Len() uint64 { return s.End - s.Start }

// SubFileInfo is the part of one stored block a read needs.
type SubFileInfo struct {
	FileIndex uint32
	Step      int
	BlockID   int
	Seeks     Seeks
	// BlockBox is the region the block covers, in block coordinates for
	// local arrays and global coordinates otherwise.
	BlockBox core.Box
	// IntersectionBox is the part of BlockBox inside the selection.
	IntersectionBox core.Box
	// Partial is set when Seeks covers only IntersectionBox rather than
	// the whole block.
	Partial bool

	Operator    format.CompressionType
	PreSize     uint64
	PayloadSize uint64
}

// SourceBox returns the region the bytes at Seeks cover.
func (i SubFileInfo) SourceBox() core.Box {
	if i.Partial {
		return i.IntersectionBox
	}

	return i.BlockBox
}

// SubFileInfoMap groups SubFileInfo by sub-file index, then by step.
type SubFileInfoMap map[uint32]map[int][]SubFileInfo

func (m SubFileInfoMap) add(info SubFileInfo) {
	steps, ok := m[info.FileIndex]
	if !ok {
		steps = make(map[int][]SubFileInfo)
		m[info.FileIndex] = steps
	}
	steps[info.Step] = append(steps[info.Step], info)
}

// Len returns the number of SubFileInfo in the map.
func (m SubFileInfoMap) Len() int {
	n := 0
	for _, steps := range m {
		for _, infos := range steps {
			n += len(infos)
		}
	}

	return n
}

// All returns every SubFileInfo ordered by sub-file, step and block id.
func (m SubFileInfoMap) All() []SubFileInfo {
	out := make([]SubFileInfo, 0, m.Len())
	for _, file := range slices.Sorted(maps.Keys(m)) {
		steps := m[file]
		for _, step := range slices.Sorted(maps.Keys(steps)) {
			out = append(out, steps[step]...)
		}
	}

	return out
}

// ReadRequest is one deferred Get: a variable and the selection bound to it.
type ReadRequest struct {
	Variable *core.Variable
	Info     *core.BlockInfo
}

// PerformGetsVariablesSubFileInfo resolves every request.
//
// Returns:
//   - []SubFileInfoMap: one map per request, in request order
//   - error: the first resolution failure
func (d *Deserializer) PerformGetsVariablesSubFileInfo(reqs []ReadRequest) ([]SubFileInfoMap, error) {
	out := make([]SubFileInfoMap, len(reqs))
	for i, req := range reqs {
		m, err := d.GetSubFileInfo(req.Variable, req.Info)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}

	return out, nil
}

// GetSubFileInfo intersects the selection of info with every stored block
// of the selected steps. Blocks that do not intersect the selection are
// dropped.
//
// A local array reads the selected block only; its selection, when set, is
// relative to the block. A global array reads every block of the step.
//
// Parameters:
//   - v: variable with its block index populated by ParseMetadata
//   - info: selection of the read
//
// Returns:
//   - SubFileInfoMap: block ranges to read, possibly empty
//   - error: ErrInvalidSelection for a step without blocks or an unknown block id,
//     ErrInvalidArgument for single values, which are served from metadata
func (d *Deserializer) GetSubFileInfo(v *core.Variable, info *core.BlockInfo) (SubFileInfoMap, error) {
	if v.ShapeID() == format.ShapeGlobalValue {
		return nil, fmt.Errorf("%w: variable %q is a single value", errs.ErrInvalidArgument, v.Name())
	}

	elemSize := v.Type().Size()
	m := make(SubFileInfoMap)
	for step := info.StepsStart; step < info.StepsStart+max(info.StepsCount, 1); step++ {
		blocks := v.Blocks(step)
		if len(blocks) == 0 {
			return nil, fmt.Errorf("%w: variable %q has no blocks at step %d", errs.ErrInvalidSelection, v.Name(), step)
		}

		if v.ShapeID() == format.ShapeLocalArray {
			id := 0
			if info.HasBlockID {
				id = info.BlockID
			}
			if id < 0 || id >= len(blocks) {
				return nil, fmt.Errorf("%w: variable %q block %d of %d at step %d", errs.ErrInvalidSelection, v.Name(), id, len(blocks), step)
			}
			blockBox := core.NewBox(nil, blocks[id].Count)
			sel := localSelection(info, blocks[id].Count)
			if sfi, ok := d.resolve(blocks[id], step, id, blockBox, sel, elemSize); ok {
				m.add(sfi)
			}

			continue
		}

		sel := core.NewBox(info.Start, info.Count)
		if len(info.Count) == 0 {
			sel = core.NewBox(nil, v.Shape())
		}
		for id, rec := range blocks {
			if sfi, ok := d.resolve(rec, step, id, rec.Box(), sel, elemSize); ok {
				m.add(sfi)
			}
		}
	}

	return m, nil
}

// SelectionBox returns the region a read of info fills: its selection when
// set, otherwise the global shape, or the selected block of the first
// selected step for local arrays.
func SelectionBox(v *core.Variable, info *core.BlockInfo) (core.Box, error) {
	if len(info.Count) > 0 {
		return core.NewBox(info.Start, info.Count), nil
	}
	if v.ShapeID() != format.ShapeLocalArray {
		return core.NewBox(nil, v.Shape()), nil
	}

	blocks := v.Blocks(info.StepsStart)
	id := 0
	if info.HasBlockID {
		id = info.BlockID
	}
	if id < 0 || id >= len(blocks) {
		return core.Box{}, fmt.Errorf("%w: variable %q block %d of %d at step %d",
			errs.ErrInvalidSelection, v.Name(), id, len(blocks), info.StepsStart)
	}

	return core.NewBox(nil, blocks[id].Count), nil
}

// localSelection returns the selection of a local array read in block
// coordinates: the whole block when no selection is set.
func localSelection(info *core.BlockInfo, count core.Dims) core.Box {
	if len(info.Count) == 0 {
		return core.NewBox(nil, count)
	}

	return core.NewBox(info.Start, info.Count)
}

func (d *Deserializer) resolve(rec core.BlockRecord, step, id int, blockBox, sel core.Box, elemSize int) (SubFileInfo, bool) {
	inter, ok := selection.Intersection(blockBox, sel)
	if !ok {
		return SubFileInfo{}, false
	}

	sfi := SubFileInfo{
		FileIndex:       rec.FileIndex,
		Step:            step,
		BlockID:         id,
		BlockBox:        blockBox,
		IntersectionBox: inter,
		Operator:        rec.Operator,
		PreSize:         rec.PreSize,
		PayloadSize:     rec.PayloadSize,
		Seeks:           Seeks{Start: rec.PayloadOffset, End: rec.PayloadOffset + rec.PayloadSize},
	}
	if isTransformed(rec.Operator) {
		return sfi, true
	}

	if contiguous, offset := selection.IsIntersectionContiguousSubarray(blockBox, inter, d.rowMajor(), elemSize); contiguous {
		sfi.Partial = true
		sfi.Seeks.Start = rec.PayloadOffset + offset
		sfi.Seeks.End = sfi.Seeks.Start + inter.Elements()*uint64(elemSize) //nolint:gosec
	}

	return sfi, true
}

// ClipContiguousMemory copies the part of a block payload that falls inside
// the destination selection.
//
// The payload is the data read at sfi.Seeks. It is decompressed when the
// block carries an operator and byte-reversed when the stream byte order
// differs from the host's; both happen in place when possible, so payload
// must not be reused by the caller.
//
// Parameters:
//   - dst: destination memory laid out as dstBox, in host byte order
//   - dstBox: region covered by dst
//   - payload: bytes read at sfi.Seeks
//   - sfi: block resolved by GetSubFileInfo
//   - dt: element type
//
// Returns:
//   - error: operator failures, ErrInvalidSelection for undersized buffers
func (d *Deserializer) ClipContiguousMemory(dst []byte, dstBox core.Box, payload []byte, sfi SubFileInfo, dt format.DataType) error {
	data := payload
	if isTransformed(sfi.Operator) {
		op, err := compress.Get(sfi.Operator)
		if err != nil {
			return err
		}
		if data, err = op.Decompress(payload, sfi.PreSize); err != nil {
			return err
		}
	}

	if d.NeedsByteReversal() {
		endian.ReverseElements(data, dt.ComponentSize())
	}

	return selection.ClipContiguousMemory(dst, dstBox, data, sfi.SourceBox(), sfi.IntersectionBox, dt.Size(), d.rowMajor())
}

// ValueFromMetadata returns the values of a single-value variable for the
// selected steps, one per step, without touching the data sub-files.
func (d *Deserializer) ValueFromMetadata(v *core.Variable, info *core.BlockInfo) ([]any, error) {
	if v.ShapeID() != format.ShapeGlobalValue {
		return nil, fmt.Errorf("%w: variable %q is not a single value", errs.ErrInvalidArgument, v.Name())
	}

	steps := max(info.StepsCount, 1)
	out := make([]any, 0, steps)
	for step := info.StepsStart; step < info.StepsStart+steps; step++ {
		blocks := v.Blocks(step)
		id := 0
		if info.HasBlockID {
			id = info.BlockID
		}
		if id < 0 || id >= len(blocks) {
			return nil, fmt.Errorf("%w: variable %q has no value %d at step %d", errs.ErrInvalidSelection, v.Name(), id, step)
		}
		if blocks[id].Value == nil {
			return nil, fmt.Errorf("%w: variable %q step %d has no value characteristic", errs.ErrCorruptedRecord, v.Name(), step)
		}
		out = append(out, blocks[id].Value)
	}

	return out, nil
}

package core

import (
	"fmt"
	"maps"
	"slices"

	"github.com/arloliu/bpio/encoding"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// BlockRecord is one stored block of a variable as known to a reader: the
// decoded characteristics of one characteristic set.
type BlockRecord struct {
	// Step is the zero-based step the block belongs to.
	Step int
	// WriterID identifies the writer of the block; it equals the index of
	// the sub-file holding the payload.
	WriterID      uint32
	FileIndex     uint32
	Offset        uint64
	PayloadOffset uint64
	Count         Dims
	Shape         Dims
	Start         Dims
	// Value is set for single-value variables.
	Value    any
	Min, Max any
	// Operator is CompressionNone for untransformed payloads.
	Operator    format.CompressionType
	PreSize     uint64
	PayloadSize uint64
}

// Box returns the global region the block covers.
func (r BlockRecord) Box() Box {
	return NewBox(r.Start, r.Count)
}

// Variable is a typed, possibly multi-dimensional array defined on an IO.
//
// Identity is (Name, Type). Shape, Start and Count are fixed at definition
// unless the variable was defined without constant dims; the selection state
// is set before every Put or Get.
type Variable struct {
	name     string
	dataType format.DataType
	shapeID  format.ShapeID

	shape Dims
	start Dims
	count Dims

	constantDims bool

	// selection
	selStart    Dims
	selCount    Dims
	stepsStart  int
	stepsCount  int
	blockID     int
	hasBlockSel bool
	memStart    Dims
	memCount    Dims

	operations []Operation

	// read side block index by zero-based step
	blocks map[int][]BlockRecord
}

func newVariable(name string, dt format.DataType, shape, start, count Dims, constantDims bool) (*Variable, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty variable name", errs.ErrInvalidName)
	}
	if err := dt.Validate(); err != nil {
		return nil, fmt.Errorf("define variable %q: %w", name, err)
	}

	v := &Variable{
		name:         name,
		dataType:     dt,
		constantDims: constantDims,
		stepsCount:   1,
		blocks:       make(map[int][]BlockRecord),
	}
	if err := v.setDims(shape, start, count); err != nil {
		return nil, err
	}

	return v, nil
}

func (v *Variable) setDims(shape, start, count Dims) error {
	shapeID, err := classify(v.name, shape, start, count)
	if err != nil {
		return err
	}
	if v.dataType.IsString() && shapeID != format.ShapeGlobalValue {
		return fmt.Errorf("%w: string variable %q must be a single value", errs.ErrInvalidArgument, v.name)
	}

	v.shapeID = shapeID
	v.shape = shape.Clone()
	v.start = start.Clone()
	v.count = count.Clone()
	v.selStart = v.start.Clone()
	v.selCount = v.count.Clone()

	return nil
}

func classify(name string, shape, start, count Dims) (format.ShapeID, error) {
	switch {
	case len(shape) == 0 && len(start) == 0 && len(count) == 0:
		return format.ShapeGlobalValue, nil
	case len(shape) == 0 && len(start) == 0:
		return format.ShapeLocalArray, nil
	case len(shape) == 0:
		return format.ShapeUnknown, fmt.Errorf("%w: variable %q has start %s without shape", errs.ErrInvalidArgument, name, start)
	}

	if len(start) != len(shape) || len(count) != len(shape) {
		return format.ShapeUnknown, fmt.Errorf("%w: variable %q shape %s, start %s and count %s differ in rank",
			errs.ErrInvalidArgument, name, shape, start, count)
	}
	for i := range shape {
		if start[i]+count[i] > shape[i] {
			return format.ShapeUnknown, fmt.Errorf("%w: variable %q block %s+%s exceeds shape %s",
				errs.ErrInvalidArgument, name, start, count, shape)
		}
	}

	return format.ShapeGlobalArray, nil
}

// Name returns the variable name.
func (v *Variable) Name() string { return v.name }

// Type returns the element type.
func (v *Variable) Type() format.DataType { return v.dataType }

// ShapeID returns the variable classification.
func (v *Variable) ShapeID() format.ShapeID { return v.shapeID }

// Start returns the global start of the defined block.
func (v *Variable) Start() Dims { return v.start.Clone() }

// Count returns the local count of the defined block.
func (v *Variable) Count() Dims { return v.count.Clone() }

// IsConstantDims reports whether SetShape is rejected.
func (v *Variable) IsConstantDims() bool { return v.constantDims }

// Shape returns the global shape. For a local array it returns the count of
// the selected block, or of the defined block when no block is selected. On
// the read side a global array reports the shape stored with the selected
// step, which may differ between steps.
func (v *Variable) Shape() Dims {
	blocks := v.blocks[v.stepsStart]
	switch v.shapeID {
	case format.ShapeLocalArray:
		if v.hasBlockSel && v.blockID < len(blocks) {
			return blocks[v.blockID].Count.Clone()
		}

		return v.count.Clone()
	case format.ShapeGlobalArray:
		if len(blocks) > 0 && len(blocks[0].Shape) == len(v.shape) {
			return blocks[0].Shape.Clone()
		}
	}

	return v.shape.Clone()
}

// SetShape changes the global shape of a variable defined without constant
// dims. Start and count are reset to the whole shape.
func (v *Variable) SetShape(shape Dims) error {
	if v.constantDims {
		return fmt.Errorf("%w: variable %q has constant dims", errs.ErrInvalidCallOrder, v.name)
	}
	if v.shapeID != format.ShapeGlobalArray || len(shape) != len(v.shape) {
		return fmt.Errorf("%w: variable %q cannot take shape %s", errs.ErrInvalidArgument, v.name, shape)
	}

	return v.setDims(shape, make(Dims, len(shape)), shape)
}

// SetSelection sets the region of the next Put or Get. For a write it is
// the block written; for a global array read it is a box within Shape.
func (v *Variable) SetSelection(start, count Dims) error {
	switch v.shapeID {
	case format.ShapeGlobalValue:
		if len(start) != 0 || len(count) != 0 {
			return fmt.Errorf("%w: variable %q is a single value", errs.ErrInvalidSelection, v.name)
		}
	case format.ShapeLocalArray:
		if len(start) != 0 && len(start) != len(count) {
			return fmt.Errorf("%w: variable %q start %s and count %s differ in rank", errs.ErrInvalidSelection, v.name, start, count)
		}
	case format.ShapeGlobalArray:
		shape := v.Shape()
		if len(start) != len(shape) || len(count) != len(shape) {
			return fmt.Errorf("%w: variable %q selection %s+%s does not match shape %s",
				errs.ErrInvalidSelection, v.name, start, count, shape)
		}
		for i := range shape {
			if start[i]+count[i] > shape[i] {
				return fmt.Errorf("%w: variable %q selection %s+%s exceeds shape %s",
					errs.ErrInvalidSelection, v.name, start, count, shape)
			}
		}
	}

	v.selStart = start.Clone()
	v.selCount = count.Clone()

	return nil
}

// Selection returns the current start and count.
func (v *Variable) Selection() (start, count Dims) {
	return v.selStart.Clone(), v.selCount.Clone()
}

// SelectionBox returns the current selection as a box.
func (v *Variable) SelectionBox() Box {
	return NewBox(v.selStart, v.selCount)
}

// SelectionSize returns the number of elements of the current selection
// times the selected step count.
func (v *Variable) SelectionSize() uint64 {
	return v.selCount.Product() * uint64(max(v.stepsCount, 1)) //nolint:gosec
}

// SetBlockSelection selects one block of a local array for reading.
func (v *Variable) SetBlockSelection(id int) error {
	if id < 0 {
		return fmt.Errorf("%w: variable %q block id %d", errs.ErrInvalidSelection, v.name, id)
	}
	v.blockID = id
	v.hasBlockSel = true

	return nil
}

// BlockSelection returns the selected block and whether one is set.
func (v *Variable) BlockSelection() (int, bool) {
	return v.blockID, v.hasBlockSel
}

// SetStepSelection selects count steps starting at the zero-based start for
// random-access reads.
func (v *Variable) SetStepSelection(start, count int) error {
	if start < 0 || count < 1 {
		return fmt.Errorf("%w: variable %q steps %d+%d", errs.ErrInvalidSelection, v.name, start, count)
	}
	if steps := v.AvailableSteps(); len(steps) > 0 && start+count > steps[len(steps)-1]+1 {
		return fmt.Errorf("%w: variable %q steps %d+%d beyond last step %d",
			errs.ErrInvalidSelection, v.name, start, count, steps[len(steps)-1])
	}
	v.stepsStart = start
	v.stepsCount = count

	return nil
}

// StepSelection returns the zero-based first step and the step count.
func (v *Variable) StepSelection() (start, count int) {
	return v.stepsStart, v.stepsCount
}

// SetMemorySelection declares that the buffer passed to Put is larger than
// the selection: start is the offset of the selection inside the buffer and
// count the extents of the whole buffer. Empty dims clear the memory selection.
func (v *Variable) SetMemorySelection(start, count Dims) error {
	if len(start) == 0 && len(count) == 0 {
		v.memStart, v.memCount = nil, nil
		return nil
	}
	if len(start) != len(v.selCount) || len(count) != len(v.selCount) {
		return fmt.Errorf("%w: variable %q memory selection %s+%s does not match count %s",
			errs.ErrInvalidSelection, v.name, start, count, v.selCount)
	}
	for i := range count {
		if start[i]+v.selCount[i] > count[i] {
			return fmt.Errorf("%w: variable %q memory selection %s+%s cannot hold count %s",
				errs.ErrInvalidSelection, v.name, start, count, v.selCount)
		}
	}
	v.memStart = start.Clone()
	v.memCount = count.Clone()

	return nil
}

// MemorySelection returns the memory start and count, nil when unset.
func (v *Variable) MemorySelection() (start, count Dims) {
	return v.memStart.Clone(), v.memCount.Clone()
}

// AddOperation appends an operator and returns its index.
func (v *Variable) AddOperation(op Operation) int {
	v.operations = append(v.operations, op.Clone())
	return len(v.operations) - 1
}

// Operations returns the operators in application order.
func (v *Variable) Operations() []Operation {
	out := make([]Operation, len(v.operations))
	for i, op := range v.operations {
		out[i] = op.Clone()
	}

	return out
}

// RemoveOperations drops every operator.
func (v *Variable) RemoveOperations() {
	v.operations = nil
}

// AddBlock records a stored block. Blocks of a step keep insertion order.
func (v *Variable) AddBlock(rec BlockRecord) {
	v.blocks[rec.Step] = append(v.blocks[rec.Step], rec)
}

// Blocks returns the blocks of a zero-based step.
func (v *Variable) Blocks(step int) []BlockRecord {
	return slices.Clone(v.blocks[step])
}

// AvailableSteps returns the zero-based steps holding at least one block, sorted.
func (v *Variable) AvailableSteps() []int {
	return slices.Sorted(maps.Keys(v.blocks))
}

// StepsCount returns the number of steps holding at least one block.
func (v *Variable) StepsCount() int {
	return len(v.blocks)
}

// ResetBlocks drops the block index.
func (v *Variable) ResetBlocks() {
	clear(v.blocks)
}

// MinMax returns the smallest and largest value recorded for the selected
// steps, or for every step when no step selection reaches a stored step.
//
// Returns:
//   - min, max: element values, nil when nothing was recorded
//   - ok: false when no block carries statistics
func (v *Variable) MinMax() (minV any, maxV any, ok bool) {
	steps := v.AvailableSteps()
	selected := make([]int, 0, len(steps))
	for _, s := range steps {
		if s >= v.stepsStart && s < v.stepsStart+v.stepsCount {
			selected = append(selected, s)
		}
	}
	if len(selected) == 0 {
		selected = steps
	}

	for _, s := range selected {
		for _, rec := range v.blocks[s] {
			lo, hi := rec.Min, rec.Max
			if lo == nil {
				lo, hi = rec.Value, rec.Value
			}
			if lo == nil {
				continue
			}
			if !ok {
				minV, maxV, ok = lo, hi, true
				continue
			}
			if encoding.Less(lo, minV) {
				minV = lo
			}
			if encoding.Less(maxV, hi) {
				maxV = hi
			}
		}
	}

	return minV, maxV, ok
}

// NewBlockInfo binds data to the current selection.
func (v *Variable) NewBlockInfo(data any) BlockInfo {
	return BlockInfo{
		Data:        data,
		Shape:       v.shape.Clone(),
		Start:       v.selStart.Clone(),
		Count:       v.selCount.Clone(),
		MemoryStart: v.memStart.Clone(),
		MemoryCount: v.memCount.Clone(),
		StepsStart:  v.stepsStart,
		StepsCount:  v.stepsCount,
		BlockID:     v.blockID,
		HasBlockID:  v.hasBlockSel,
		Operations:  v.Operations(),
	}
}

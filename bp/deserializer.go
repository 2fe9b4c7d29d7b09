package bp

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
	"github.com/arloliu/bpio/internal/options"
	"github.com/arloliu/bpio/section"
)

// Deserializer parses a metadata stream into the variables and attributes of
// an IO, and resolves read selections into byte ranges of the data
// sub-files.
type Deserializer struct {
	allowReversal   bool
	threads         int
	hostColumnMajor bool

	footer      section.Minifooter
	pgIndex     []section.PGIndexEntry
	stepsCount  int
	columnMajor bool
	reverseDims bool
	parsed      bool
}

// NewDeserializer creates a deserializer.
//
// Parameters:
//   - opts: WithByteReversal, WithParseThreads, WithHostColumnMajor
//
// Returns:
//   - *Deserializer: deserializer with no metadata parsed
//   - error: invalid options
func NewDeserializer(opts ...DeserializerOption) (*Deserializer, error) {
	d := &Deserializer{threads: 1}
	if err := options.Apply(d, opts...); err != nil {
		return nil, err
	}

	return d, nil
}

// Validate implements options.Validator.
func (d *Deserializer) Validate() error {
	if d.threads < 1 {
		return fmt.Errorf("%w: threads %d, need at least 1", errs.ErrInvalidArgument, d.threads)
	}

	return nil
}

// Minifooter returns the trailer of the last parsed stream.
func (d *Deserializer) Minifooter() section.Minifooter { return d.footer }

// PGIndex returns the process group entries of the last parsed stream.
func (d *Deserializer) PGIndex() []section.PGIndexEntry { return d.pgIndex }

// StepsCount returns the number of distinct steps in the PG index.
func (d *Deserializer) StepsCount() int { return d.stepsCount }

// IsColumnMajor reports whether the stream was written by a column-major
// application.
func (d *Deserializer) IsColumnMajor() bool { return d.columnMajor }

// ReverseDims reports whether stored dimensions are reversed for the host.
func (d *Deserializer) ReverseDims() bool { return d.reverseDims }

// NeedsByteReversal reports whether payload elements must be byte-reversed.
func (d *Deserializer) NeedsByteReversal() bool {
	return d.parsed && d.footer.NeedsByteReversal()
}

// Engine returns the byte order of the parsed stream.
func (d *Deserializer) Engine() endian.EndianEngine {
	if !d.parsed {
		return endian.HostEngine()
	}

	return d.footer.Engine
}

// rowMajor is the layout of payloads in the host's dimension order.
func (d *Deserializer) rowMajor() bool {
	return !d.hostColumnMajor
}

// ParseMetadata parses a complete metadata stream into io: the minifooter,
// then the PG index, the variables index and the attributes index.
//
// Parsing replaces what an earlier call defined. Variables keep their
// selection state but their blocks are rebuilt; variables missing from data
// are removed, and every attribute is redefined.
//
// Parameters:
//   - data: metadata stream ending with its minifooter
//   - io: destination of the definitions
//
// Returns:
//   - error: format errors (ErrBufferTooShort, ErrUnsupportedVersion,
//     ErrEndiannessMismatch, ErrInvalidMinifooter, ErrCorruptedRecord),
//     ErrUnsupportedType, ErrTypeMismatch against existing definitions
func (d *Deserializer) ParseMetadata(data []byte, io *core.IO) error {
	footer, err := section.ParseMinifooter(data, d.allowReversal)
	if err != nil {
		return err
	}

	c := buffer.NewCursor(data, footer.Engine)
	c.Seek(int(footer.PGIndexStart)) //nolint:gosec
	if err := d.parsePGIndex(c, footer); err != nil {
		return err
	}
	d.footer = footer
	d.parsed = true

	for _, v := range io.Variables() {
		v.ResetBlocks()
	}
	seen, err := d.parseVariablesIndex(data, c, io)
	if err != nil {
		return err
	}
	for _, v := range io.Variables() {
		if !seen[v.Name()] {
			io.RemoveVariable(v.Name())
		}
	}

	if c.Pos() != int(footer.AttrsIndexStart) { //nolint:gosec
		return fmt.Errorf("%w: variables index ends at %d, attributes index starts at %d", errs.ErrCorruptedRecord, c.Pos(), footer.AttrsIndexStart)
	}
	io.RemoveAllAttributes()

	return d.parseAttributesIndex(data, c, io)
}

func (d *Deserializer) parsePGIndex(c *buffer.Cursor, footer section.Minifooter) error {
	entries, err := section.ParsePGIndex(c)
	if err != nil {
		return fmt.Errorf("pg index: %w", err)
	}
	if c.Pos() != int(footer.VarsIndexStart) { //nolint:gosec
		return fmt.Errorf("%w: pg index ends at %d, variables index starts at %d", errs.ErrCorruptedRecord, c.Pos(), footer.VarsIndexStart)
	}

	steps := make(map[uint32]struct{}, len(entries))
	for _, e := range entries {
		steps[e.TimeStep] = struct{}{}
	}

	d.pgIndex = entries
	d.stepsCount = len(steps)
	d.columnMajor = len(entries) > 0 && entries[0].IsColumnMajor
	d.reverseDims = d.columnMajor != d.hostColumnMajor

	return nil
}

// parseVariablesIndex locates every entry before interpreting any of them,
// so entries can be parsed concurrently. Each entry names a distinct
// variable.
func (d *Deserializer) parseVariablesIndex(data []byte, c *buffer.Cursor, io *core.IO) (map[string]bool, error) {
	ranges, err := section.LocateEntries(c)
	if err != nil {
		return nil, fmt.Errorf("variables index: %w", err)
	}

	var mu sync.Mutex
	seen := make(map[string]bool, len(ranges))
	parse := func(r section.EntryRange) error {
		name, err := d.parseVariableEntry(c.Engine(), data[r.Start:r.End], io)
		if err != nil {
			return err
		}
		mu.Lock()
		seen[name] = true
		mu.Unlock()

		return nil
	}

	if d.threads == 1 || len(ranges) < 2 {
		for _, r := range ranges {
			if err := parse(r); err != nil {
				return nil, err
			}
		}

		return seen, nil
	}

	eg, ctx := errgroup.WithContext(context.Background())
	eg.SetLimit(d.threads)
	for _, r := range ranges {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			return parse(r)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return seen, nil
}

func (d *Deserializer) parseVariableEntry(engine endian.EndianEngine, entry []byte, io *core.IO) (string, error) {
	c := buffer.NewCursor(entry, engine)
	h, err := section.ParseElementIndexHeader(c)
	if err != nil {
		return "", fmt.Errorf("variables index: %w", err)
	}
	if err := h.DataType.Validate(); err != nil {
		return "", fmt.Errorf("variable %q: %w", h.Name, err)
	}

	records := make([]core.BlockRecord, 0, min(h.SetsCount, uint64(len(entry)/section.CharSetHeaderSize))) //nolint:gosec
	for range h.SetsCount {
		ch, err := section.ParseCharacteristics(c, section.KindVariableIndex, h.DataType)
		if err != nil {
			return "", fmt.Errorf("variable %q: %w", h.Name, err)
		}
		rec, err := d.blockRecord(h.DataType, ch)
		if err != nil {
			return "", fmt.Errorf("variable %q: %w", h.Name, err)
		}
		records = append(records, rec)
	}
	if c.Remaining() != 0 {
		return "", fmt.Errorf("%w: %d bytes after the sets of variable %q", errs.ErrCorruptedRecord, c.Remaining(), h.Name)
	}

	// global arrays select the whole shape, local arrays their first block
	var shape, start, count core.Dims
	if len(records) > 0 {
		shape, start, count = records[0].Shape, records[0].Start, records[0].Count
		if len(shape) > 0 {
			start, count = make(core.Dims, len(shape)), shape
		}
	}
	v, _, err := io.DefineOrGetVariable(h.Name, h.DataType, shape, start, count)
	if err != nil {
		return "", err
	}
	for _, rec := range records {
		v.AddBlock(rec)
	}

	return h.Name, nil
}

// blockRecord converts one index characteristic set into a block record in
// host dimension order.
func (d *Deserializer) blockRecord(dt format.DataType, ch section.Characteristics) (core.BlockRecord, error) {
	if ch.TimeStep < format.FirstTimeStep {
		return core.BlockRecord{}, fmt.Errorf("%w: time step %d", errs.ErrCorruptedRecord, ch.TimeStep)
	}

	count, shape, start := section.SplitDimensions(ch.Dims)
	rec := core.BlockRecord{
		Step:          int(ch.TimeStep - format.FirstTimeStep),
		WriterID:      ch.FileIndex,
		FileIndex:     ch.FileIndex,
		Offset:        ch.Offset,
		PayloadOffset: ch.PayloadOffset,
		Count:         count,
		Shape:         shape,
		Start:         start,
		Value:         ch.Value,
		Min:           ch.Min,
		Max:           ch.Max,
		Operator:      format.CompressionNone,
	}
	if d.reverseDims {
		rec.Count = rec.Count.Reversed()
		rec.Shape = rec.Shape.Reversed()
		rec.Start = rec.Start.Reversed()
	}

	switch {
	case ch.Transform != nil:
		rec.Operator = ch.Transform.Type
		rec.PreSize = ch.Transform.PreSize
		rec.PayloadSize = ch.Transform.PayloadSize
	case len(ch.Dims) == 0:
		size, err := valueSize(dt, ch.Value)
		if err != nil {
			return rec, err
		}
		rec.PayloadSize = size
		rec.PreSize = size
	default:
		rec.PayloadSize = core.Dims(count).Product() * uint64(dt.Size()) //nolint:gosec
		rec.PreSize = rec.PayloadSize
	}

	return rec, nil
}

func valueSize(dt format.DataType, v any) (uint64, error) {
	if dt != format.String {
		return uint64(dt.Size()), nil //nolint:gosec
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("%w: string variable without a value", errs.ErrCorruptedRecord)
	}

	return uint64(2 + len(s)), nil //nolint:gosec
}

func (d *Deserializer) parseAttributesIndex(data []byte, c *buffer.Cursor, io *core.IO) error {
	ranges, err := section.LocateEntries(c)
	if err != nil {
		return fmt.Errorf("attributes index: %w", err)
	}

	for _, r := range ranges {
		ac := buffer.NewCursor(data[r.Start:r.End], c.Engine())
		h, err := section.ParseElementIndexHeader(ac)
		if err != nil {
			return fmt.Errorf("attributes index: %w", err)
		}
		if err := h.DataType.Validate(); err != nil {
			return fmt.Errorf("attribute %q: %w", h.Name, err)
		}
		if h.SetsCount == 0 {
			return fmt.Errorf("%w: attribute %q has no characteristic set", errs.ErrCorruptedRecord, h.Name)
		}
		ch, err := section.ParseCharacteristics(ac, section.KindAttributeIndex, h.DataType)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", h.Name, err)
		}
		if _, err := io.DefineAttributeValue(h.Name, h.DataType, ch.Value); err != nil {
			return err
		}
	}

	if c.Remaining() != section.MinifooterSize {
		return fmt.Errorf("%w: attributes index ends %d bytes before the stream end", errs.ErrCorruptedRecord, c.Remaining())
	}

	return nil
}

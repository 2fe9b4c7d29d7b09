package bp

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/collective"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/internal/hash"
	"github.com/arloliu/bpio/section"
)

// blobHeaderSize is [rank u32][pg count u64][pg index length u64]
// [variables u32][attributes u32].
const blobHeaderSize = 4 + 8 + 8 + 4 + 4

// EncodeIndexBlob packs a rank's local metadata for transmission to the
// aggregating rank.
func EncodeIndexBlob(engine endian.EndianEngine, rank uint32, md *Metadata) ([]byte, error) {
	size := blobHeaderSize + len(md.PGIndex)
	for _, e := range md.Variables {
		size += len(e)
	}
	for _, e := range md.Attributes {
		size += len(e)
	}

	b, err := buffer.New(engine, buffer.WithInitialSize(size))
	if err != nil {
		return nil, err
	}
	b.PutU32(rank)
	b.PutU64(md.PGCount)
	b.PutU64(uint64(len(md.PGIndex)))
	b.PutU32(uint32(len(md.Variables)))  //nolint:gosec
	b.PutU32(uint32(len(md.Attributes))) //nolint:gosec
	b.CopyTo(md.PGIndex)
	for _, e := range md.Variables {
		b.CopyTo(e)
	}
	for _, e := range md.Attributes {
		b.CopyTo(e)
	}

	return b.Bytes(), nil
}

type indexBlob struct {
	rank uint32
	md   Metadata
}

func decodeIndexBlob(engine endian.EndianEngine, data []byte) (*indexBlob, error) {
	c := buffer.NewCursor(data, engine)
	blob := &indexBlob{rank: c.U32()}
	blob.md.PGCount = c.U64()
	pgLen := c.U64()
	nVars := int(c.U32())
	nAttrs := int(c.U32())
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("index blob header: %w", err)
	}
	if pgLen > uint64(c.Remaining()) { //nolint:gosec
		return nil, fmt.Errorf("%w: index blob of rank %d claims %d pg index bytes", errs.ErrCorruptedRecord, blob.rank, pgLen)
	}
	blob.md.PGIndex = c.Bytes(int(pgLen)) //nolint:gosec

	entries := func(n int) ([][]byte, error) {
		out := make([][]byte, 0, min(n, c.Remaining()/4))
		for range n {
			start := c.Pos()
			c.Skip(int(c.U32()))
			if err := c.Err(); err != nil {
				return nil, fmt.Errorf("index blob of rank %d: %w", blob.rank, err)
			}
			out = append(out, data[start:c.Pos()])
		}

		return out, nil
	}

	var err error
	if blob.md.Variables, err = entries(nVars); err != nil {
		return nil, err
	}
	if blob.md.Attributes, err = entries(nAttrs); err != nil {
		return nil, err
	}
	if c.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in index blob of rank %d", errs.ErrCorruptedRecord, c.Remaining(), blob.rank)
	}

	return blob, nil
}

type rankEntry struct {
	rank uint32
	data []byte
}

type pgPart struct {
	count uint64
	index []byte
}

// AggregationContext collects the index blobs of every rank and merges them
// into one metadata index. Blobs may be added concurrently and in any order;
// the merged result only depends on the set of blobs.
type AggregationContext struct {
	engine  endian.EndianEngine
	threads int

	mu    sync.Mutex
	pgs   map[uint32]pgPart
	vars  map[string][]rankEntry
	attrs map[string][]rankEntry
}

// NewAggregationContext creates an empty context. threads bounds the
// goroutines used by AddBlobs and Merge; values below 2 run serially.
func NewAggregationContext(engine endian.EndianEngine, threads int) *AggregationContext {
	return &AggregationContext{
		engine:  engine,
		threads: max(threads, 1),
		pgs:     make(map[uint32]pgPart),
		vars:    make(map[string][]rankEntry),
		attrs:   make(map[string][]rankEntry),
	}
}

// AddBlob decodes one index blob and registers its entries.
//
// Returns:
//   - error: ErrCorruptedRecord for a malformed blob, ErrInvalidArgument when
//     the rank was already added
func (a *AggregationContext) AddBlob(data []byte) error {
	blob, err := decodeIndexBlob(a.engine, data)
	if err != nil {
		return err
	}

	names := make([]string, len(blob.md.Variables))
	for i, e := range blob.md.Variables {
		if names[i], err = a.entryName(e); err != nil {
			return err
		}
	}
	attrNames := make([]string, len(blob.md.Attributes))
	for i, e := range blob.md.Attributes {
		if attrNames[i], err = a.entryName(e); err != nil {
			return err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.pgs[blob.rank]; ok {
		return fmt.Errorf("%w: index blob of rank %d added twice", errs.ErrInvalidArgument, blob.rank)
	}
	a.pgs[blob.rank] = pgPart{count: blob.md.PGCount, index: blob.md.PGIndex}
	for i, e := range blob.md.Variables {
		a.vars[names[i]] = append(a.vars[names[i]], rankEntry{rank: blob.rank, data: e})
	}
	for i, e := range blob.md.Attributes {
		a.attrs[attrNames[i]] = append(a.attrs[attrNames[i]], rankEntry{rank: blob.rank, data: e})
	}

	return nil
}

func (a *AggregationContext) entryName(entry []byte) (string, error) {
	h, err := section.ParseElementIndexHeader(buffer.NewCursor(entry, a.engine))
	if err != nil {
		return "", err
	}

	return h.Name, nil
}

// AddBlobs registers blobs, decoding them on up to threads goroutines.
func (a *AggregationContext) AddBlobs(ctx context.Context, blobs [][]byte) error {
	if a.threads == 1 {
		for _, blob := range blobs {
			if err := a.AddBlob(blob); err != nil {
				return err
			}
		}

		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(a.threads)
	for _, blob := range blobs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			return a.AddBlob(blob)
		})
	}

	return eg.Wait()
}

// Merge builds the global metadata index:
//
//   - process group entries are concatenated in rank order
//   - an attribute keeps the entry of the lowest rank that wrote it
//   - the sets of a variable are interleaved by step, and by rank within a
//     step
//
// Entries are sorted by name. The result is byte-identical for any thread
// count.
func (a *AggregationContext) Merge(ctx context.Context) (*Metadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	md := &Metadata{}
	for _, rank := range slices.Sorted(maps.Keys(a.pgs)) {
		part := a.pgs[rank]
		md.PGCount += part.count
		md.PGIndex = append(md.PGIndex, part.index...)
	}

	attrNames := slices.Sorted(maps.Keys(a.attrs))
	md.Attributes = make([][]byte, len(attrNames))
	for i, name := range attrNames {
		entries := a.attrs[name]
		md.Attributes[i] = slices.MinFunc(entries, func(x, y rankEntry) int {
			return cmp.Compare(x.rank, y.rank)
		}).data
	}

	names := slices.Sorted(maps.Keys(a.vars))
	results := make([][]byte, len(names))
	if a.threads == 1 {
		for i, name := range names {
			merged, err := mergeVariable(a.engine, name, a.vars[name])
			if err != nil {
				return nil, err
			}
			results[i] = merged
		}
	} else {
		eg, ctx := errgroup.WithContext(ctx)
		for w := range a.threads {
			eg.Go(func() error {
				for i, name := range names {
					if hash.Shard(name, a.threads) != w {
						continue
					}
					if err := ctx.Err(); err != nil {
						return err
					}
					merged, err := mergeVariable(a.engine, name, a.vars[name])
					if err != nil {
						return err
					}
					results[i] = merged
				}

				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	}
	md.Variables = results

	return md, nil
}

type stepSet struct {
	step uint32
	data []byte
}

// splitSets returns the characteristic sets of an encoded index entry.
func splitSets(engine endian.EndianEngine, entry []byte) (section.ElementIndexHeader, []stepSet, error) {
	c := buffer.NewCursor(entry, engine)
	h, err := section.ParseElementIndexHeader(c)
	if err != nil {
		return h, nil, err
	}

	end := 4 + int(h.Length)
	sets := make([]stepSet, 0, min(h.SetsCount, uint64(end-c.Pos())/section.CharSetHeaderSize)) //nolint:gosec
	for range h.SetsCount {
		size, err := section.SetSize(c)
		if err != nil {
			return h, nil, fmt.Errorf("index entry %q: %w", h.Name, err)
		}
		step, err := section.PeekTimeStep(c)
		if err != nil {
			return h, nil, fmt.Errorf("index entry %q: %w", h.Name, err)
		}
		start := c.Pos()
		c.Skip(size)
		if err := c.Err(); err != nil {
			return h, nil, fmt.Errorf("index entry %q: %w", h.Name, err)
		}
		sets = append(sets, stepSet{step: step, data: entry[start:c.Pos()]})
	}
	if c.Pos() != end {
		return h, nil, fmt.Errorf("%w: index entry %q sets end at %d, entry at %d", errs.ErrCorruptedRecord, h.Name, c.Pos(), end)
	}

	return h, sets, nil
}

// mergeVariable merges the index entries several ranks wrote for one
// variable into a single entry.
func mergeVariable(engine endian.EndianEngine, name string, entries []rankEntry) ([]byte, error) {
	entries = slices.Clone(entries)
	slices.SortStableFunc(entries, func(x, y rankEntry) int {
		return cmp.Compare(x.rank, y.rank)
	})

	var header section.ElementIndexHeader
	perRank := make([][]stepSet, len(entries))
	size := 0
	for i, e := range entries {
		h, sets, err := splitSets(engine, e.data)
		if err != nil {
			return nil, err
		}
		if err := h.DataType.Validate(); err != nil {
			return nil, fmt.Errorf("variable %q of rank %d: %w", name, e.rank, err)
		}
		if i == 0 {
			header = h
		} else if h.DataType != header.DataType {
			return nil, fmt.Errorf("%w: variable %q is %s on rank %d and %s on rank %d",
				errs.ErrTypeMismatch, name, header.DataType, entries[0].rank, h.DataType, e.rank)
		}
		perRank[i] = sets
		size += len(e.data)
	}

	merged := make([]byte, 0, size)
	heads := make([]int, len(perRank))
	var total uint64
	for {
		var step uint32
		found := false
		for r, sets := range perRank {
			if heads[r] < len(sets) && (!found || sets[heads[r]].step < step) {
				step = sets[heads[r]].step
				found = true
			}
		}
		if !found {
			break
		}
		for r, sets := range perRank {
			for heads[r] < len(sets) && sets[heads[r]].step == step {
				merged = append(merged, sets[heads[r]].data...)
				heads[r]++
				total++
			}
		}
	}

	header.SetsCount = total
	b, err := buffer.New(engine, buffer.WithInitialSize(header.EncodedSize()+4+len(merged)))
	if err != nil {
		return nil, err
	}
	if err := section.WriteElementIndex(b, header, merged); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// AggregateCollectiveMetadata gathers the local metadata of every member of
// ch at rank 0 and merges it there.
//
// Parameters:
//   - ctx: bounds the collective exchange
//   - ch: communicator of the writers whose metadata is merged
//
// Returns:
//   - *Metadata: merged index on rank 0, nil on the other ranks
//   - error: collective failures, and on rank 0 merge failures
func (s *Serializer) AggregateCollectiveMetadata(ctx context.Context, ch collective.Channel) (*Metadata, error) {
	s.profiler.Start("aggregation")
	defer s.profiler.Stop("aggregation")

	local, err := s.LocalMetadata()
	if err != nil {
		return nil, err
	}
	blob, err := EncodeIndexBlob(s.engine, s.rank, local)
	if err != nil {
		return nil, err
	}

	all, sizes, err := ch.GatherV(ctx, 0, blob)
	if err != nil {
		return nil, err
	}
	if ch.Rank() != 0 {
		return nil, nil //nolint:nilnil
	}

	s.profiler.Start("meta_sort_merge")
	defer s.profiler.Stop("meta_sort_merge")

	blobs := make([][]byte, len(sizes))
	off := 0
	for i, n := range sizes {
		blobs[i] = all[off : off+n]
		off += n
	}

	agg := NewAggregationContext(s.engine, s.threads)
	if err := agg.AddBlobs(ctx, blobs); err != nil {
		return nil, err
	}

	return agg.Merge(ctx)
}

package collective

import (
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/bpio/errs"
)

// round is one all-to-all exchange. It completes when every rank deposited
// its payload.
type round struct {
	slots   [][]byte
	arrived int
	done    chan struct{}
}

func newRound(size int) *round {
	return &round{slots: make([][]byte, size), done: make(chan struct{})}
}

// group is the state shared by the ranks of one in-process group.
type group struct {
	size int

	mu       sync.Mutex
	current  *round
	children map[splitKey]*group
}

type splitKey struct {
	seq   int
	color int
}

func newGroup(size int) *group {
	return &group{size: size, current: newRound(size), children: make(map[splitKey]*group)}
}

func (g *group) exchange(ctx context.Context, op string, rank int, data []byte) ([][]byte, error) {
	g.mu.Lock()
	r := g.current
	r.slots[rank] = slices.Clone(data)
	r.arrived++
	if r.arrived == g.size {
		g.current = newRound(g.size)
		close(r.done)
	}
	g.mu.Unlock()

	select {
	case <-r.done:
		return r.slots, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s on rank %d: %w", errs.ErrCollective, op, rank, ctx.Err())
	}
}

func (g *group) child(seq, color, size int) *group {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := splitKey{seq: seq, color: color}
	c, ok := g.children[key]
	if !ok {
		c = newGroup(size)
		g.children[key] = c
	}

	return c
}

// Local is one rank of an in-process group created by NewLocalGroup.
type Local struct {
	g      *group
	rank   int
	splits int
}

var _ Channel = (*Local)(nil)

// NewLocalGroup creates an in-process group of n ranks. Each returned
// channel must be driven by its own goroutine.
func NewLocalGroup(n int) []*Local {
	g := newGroup(max(n, 1))
	out := make([]*Local, g.size)
	for i := range out {
		out[i] = &Local{g: g, rank: i}
	}

	return out
}

// Self returns a single-rank group, the channel of a serial program.
func Self() Channel {
	return NewLocalGroup(1)[0]
}

// Run starts n ranks of a new local group and waits for all of them.
// The first error cancels the context passed to the other ranks.
func Run(ctx context.Context, n int, fn func(ctx context.Context, ch Channel) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, ch := range NewLocalGroup(n) {
		eg.Go(func() error {
			return fn(ctx, ch)
		})
	}

	return eg.Wait()
}

func (l *Local) Rank() int { return l.rank }

func (l *Local) Size() int { return l.g.size }

func (l *Local) Barrier(ctx context.Context) error {
	_, err := l.g.exchange(ctx, "barrier", l.rank, nil)
	return err
}

func (l *Local) Broadcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	if err := checkRoot("broadcast", l, root); err != nil {
		return nil, err
	}

	var payload []byte
	if l.rank == root {
		payload = data
	}
	slots, err := l.g.exchange(ctx, "broadcast", l.rank, payload)
	if err != nil {
		return nil, err
	}

	return slices.Clone(slots[root]), nil
}

func (l *Local) Gather(ctx context.Context, root int, data []byte) ([][]byte, error) {
	if err := checkRoot("gather", l, root); err != nil {
		return nil, err
	}

	slots, err := l.g.exchange(ctx, "gather", l.rank, data)
	if err != nil || l.rank != root {
		return nil, err
	}

	return slots, nil
}

func (l *Local) GatherV(ctx context.Context, root int, data []byte) ([]byte, []int, error) {
	slots, err := l.Gather(ctx, root, data)
	if err != nil || slots == nil {
		return nil, nil, err
	}

	sizes := make([]int, len(slots))
	total := 0
	for i, s := range slots {
		sizes[i] = len(s)
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range slots {
		out = append(out, s...)
	}

	return out, sizes, nil
}

func (l *Local) AllGather(ctx context.Context, data []byte) ([][]byte, error) {
	slots, err := l.g.exchange(ctx, "allgather", l.rank, data)
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(slots))
	for i, s := range slots {
		out[i] = slices.Clone(s)
	}

	return out, nil
}

func (l *Local) Split(ctx context.Context, color, key int) (Channel, error) {
	var msg [16]byte
	binary.LittleEndian.PutUint64(msg[0:], uint64(color)) //nolint:gosec
	binary.LittleEndian.PutUint64(msg[8:], uint64(key))   //nolint:gosec

	slots, err := l.g.exchange(ctx, "split", l.rank, msg[:])
	if err != nil {
		return nil, err
	}

	type member struct{ key, rank int }
	var members []member
	for rank, s := range slots {
		if int(binary.LittleEndian.Uint64(s[0:])) == color { //nolint:gosec
			members = append(members, member{key: int(binary.LittleEndian.Uint64(s[8:])), rank: rank}) //nolint:gosec
		}
	}
	slices.SortFunc(members, func(a, b member) int {
		return cmp.Or(cmp.Compare(a.key, b.key), cmp.Compare(a.rank, b.rank))
	})

	seq := l.splits
	l.splits++
	newRank := slices.IndexFunc(members, func(m member) bool { return m.rank == l.rank })

	return &Local{g: l.g.child(seq, color, len(members)), rank: newRank}, nil
}

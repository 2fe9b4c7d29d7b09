// Package collective defines the collective communication primitives used by
// multi-rank writers and readers, and an in-process implementation that runs
// N ranks as goroutines.
//
// Every rank of a group must call the same collectives in the same order.
// Payloads are copied on entry, so callers may reuse their buffers as soon as
// a call returns.
package collective

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/bpio/errs"
)

// Channel connects one rank to the other ranks of its group.
type Channel interface {
	// Rank returns the zero-based rank of the caller inside the group.
	Rank() int
	// Size returns the number of ranks in the group.
	Size() int

	// Barrier blocks until every rank reached it.
	Barrier(ctx context.Context) error
	// Broadcast returns the data passed by root on every rank.
	Broadcast(ctx context.Context, root int, data []byte) ([]byte, error)
	// Gather returns the per-rank payloads on root, indexed by rank, and nil
	// on every other rank.
	Gather(ctx context.Context, root int, data []byte) ([][]byte, error)
	// GatherV returns on root the payloads concatenated in rank order
	// together with the size contributed by each rank, and nil elsewhere.
	GatherV(ctx context.Context, root int, data []byte) ([]byte, []int, error)
	// AllGather returns the per-rank payloads on every rank.
	AllGather(ctx context.Context, data []byte) ([][]byte, error)
	// Split partitions the group by color. Ranks of one color form a new
	// group ordered by key, ties broken by the parent rank.
	Split(ctx context.Context, color, key int) (Channel, error)
}

// BroadcastError makes the verdict of root the verdict of every rank.
//
// root passes its own error (or nil); every rank returns nil when root
// succeeded and an error wrapping ErrCollectiveOpen with root's message
// otherwise.
//
// Parameters:
//   - ctx: cancels the wait
//   - ch: group channel
//   - root: rank whose verdict is broadcast
//   - verdict: root's error, ignored on other ranks
func BroadcastError(ctx context.Context, ch Channel, root int, verdict error) error {
	var msg []byte
	if ch.Rank() == root && verdict != nil {
		msg = []byte(verdict.Error())
	}

	got, err := ch.Broadcast(ctx, root, msg)
	if err != nil {
		return err
	}
	if len(got) == 0 {
		return nil
	}
	if ch.Rank() == root {
		return fmt.Errorf("%w: %w", errs.ErrCollectiveOpen, verdict)
	}

	return fmt.Errorf("%w: rank %d: %w", errs.ErrCollectiveOpen, root, errors.New(string(got)))
}

func checkRoot(op string, ch Channel, root int) error {
	if root < 0 || root >= ch.Size() {
		return fmt.Errorf("%w: %s root %d outside group of %d", errs.ErrCollective, op, root, ch.Size())
	}

	return nil
}

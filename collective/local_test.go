package collective

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/bpio/errs"
)

func TestSelf(t *testing.T) {
	ch := Self()
	require.Equal(t, 0, ch.Rank())
	require.Equal(t, 1, ch.Size())

	ctx := context.Background()
	require.NoError(t, ch.Barrier(ctx))

	got, err := ch.Broadcast(ctx, 0, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("x"), got)

	all, sizes, err := ch.GatherV(ctx, 0, []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), all)
	require.Equal(t, []int{3}, sizes)
}

func TestLocalGroup_GatherV(t *testing.T) {
	const n = 4
	results := make([][]byte, n)
	sizes := make([][]int, n)

	err := Run(context.Background(), n, func(ctx context.Context, ch Channel) error {
		payload := make([]byte, ch.Rank()+1)
		for i := range payload {
			payload[i] = byte(ch.Rank())
		}
		out, sz, err := ch.GatherV(ctx, 0, payload)
		results[ch.Rank()] = out
		sizes[ch.Rank()] = sz

		return err
	})
	require.NoError(t, err)

	require.Equal(t, []byte{0, 1, 1, 2, 2, 2, 3, 3, 3, 3}, results[0])
	require.Equal(t, []int{1, 2, 3, 4}, sizes[0])
	for r := 1; r < n; r++ {
		require.Nil(t, results[r])
		require.Nil(t, sizes[r])
	}
}

func TestLocalGroup_BroadcastAndAllGather(t *testing.T) {
	const n = 3
	err := Run(context.Background(), n, func(ctx context.Context, ch Channel) error {
		var data []byte
		if ch.Rank() == 1 {
			data = []byte("from one")
		}
		got, err := ch.Broadcast(ctx, 1, data)
		if err != nil {
			return err
		}
		if string(got) != "from one" {
			return fmt.Errorf("rank %d got %q", ch.Rank(), got)
		}

		all, err := ch.AllGather(ctx, []byte{byte(ch.Rank())})
		if err != nil {
			return err
		}
		for r, b := range all {
			if len(b) != 1 || int(b[0]) != r {
				return fmt.Errorf("rank %d slot %d holds %v", ch.Rank(), r, b)
			}
		}

		return ch.Barrier(ctx)
	})
	require.NoError(t, err)
}

func TestLocalGroup_RepeatedRounds(t *testing.T) {
	const n, rounds = 4, 50
	err := Run(context.Background(), n, func(ctx context.Context, ch Channel) error {
		for i := range rounds {
			all, err := ch.AllGather(ctx, []byte{byte(i), byte(ch.Rank())})
			if err != nil {
				return err
			}
			for r, b := range all {
				if int(b[0]) != i || int(b[1]) != r {
					return fmt.Errorf("round %d mixed payloads: %v", i, all)
				}
			}
		}

		return nil
	})
	require.NoError(t, err)
}

func TestLocalGroup_Split(t *testing.T) {
	const n = 6
	type view struct{ rank, size int }
	views := make([]view, n)

	err := Run(context.Background(), n, func(ctx context.Context, ch Channel) error {
		// even and odd ranks, reversed order inside each color
		sub, err := ch.Split(ctx, ch.Rank()%2, -ch.Rank())
		if err != nil {
			return err
		}
		views[ch.Rank()] = view{rank: sub.Rank(), size: sub.Size()}

		all, err := sub.AllGather(ctx, []byte{byte(ch.Rank())})
		if err != nil {
			return err
		}
		for _, b := range all {
			if int(b[0])%2 != ch.Rank()%2 {
				return fmt.Errorf("rank %d sees foreign member %d", ch.Rank(), b[0])
			}
		}

		return nil
	})
	require.NoError(t, err)

	require.Equal(t, view{rank: 2, size: 3}, views[0])
	require.Equal(t, view{rank: 0, size: 3}, views[4])
	require.Equal(t, view{rank: 0, size: 3}, views[5])
	require.Equal(t, view{rank: 2, size: 3}, views[1])
}

func TestLocalGroup_InvalidRoot(t *testing.T) {
	ch := Self()
	_, err := ch.Broadcast(context.Background(), 2, nil)
	require.ErrorIs(t, err, errs.ErrCollective)

	_, err = ch.Gather(context.Background(), -1, nil)
	require.ErrorIs(t, err, errs.ErrCollective)
}

func TestLocalGroup_Cancel(t *testing.T) {
	chs := NewLocalGroup(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// rank 1 never arrives
	err := chs[0].Barrier(ctx)
	require.ErrorIs(t, err, errs.ErrCollective)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroadcastError(t *testing.T) {
	t.Run("root failure reaches every rank", func(t *testing.T) {
		const n = 3
		verdicts := make([]error, n)
		_ = Run(context.Background(), n, func(ctx context.Context, ch Channel) error {
			var local error
			if ch.Rank() == 0 {
				local = errors.New("cannot open heat.bp")
			}
			verdicts[ch.Rank()] = BroadcastError(ctx, ch, 0, local)

			return nil
		})

		for r, err := range verdicts {
			require.ErrorIs(t, err, errs.ErrCollectiveOpen, "rank %d", r)
			assert.Contains(t, err.Error(), "cannot open heat.bp")
		}
	})

	t.Run("root success", func(t *testing.T) {
		err := Run(context.Background(), 2, func(ctx context.Context, ch Channel) error {
			var local error
			if ch.Rank() == 1 {
				// only root's verdict counts
				local = errors.New("ignored")
			}

			return BroadcastError(ctx, ch, 0, local)
		})
		require.NoError(t, err)
	})
}

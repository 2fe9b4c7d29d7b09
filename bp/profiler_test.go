package bp

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/bpio/collective"
	"github.com/arloliu/bpio/errs"
)

func TestParseUnits(t *testing.T) {
	for in, want := range map[string]Units{
		"Microseconds": Microseconds,
		"mus":          Microseconds,
		"milliseconds": Milliseconds,
		"s":            Seconds,
	} {
		got, err := ParseUnits(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseUnits("hours")
	require.ErrorIs(t, err, errs.ErrInvalidParameter)
}

func TestProfiler_Timers(t *testing.T) {
	p := NewProfiler(uuid.New(), 2, 4, Milliseconds)

	p.Start("buffering")
	p.Start("buffering")
	time.Sleep(2 * time.Millisecond)
	p.Stop("buffering")
	p.Stop("buffering")
	p.Stop("never_started")

	elapsed := p.Elapsed("buffering")
	require.GreaterOrEqual(t, elapsed, 2*time.Millisecond)
	require.Zero(t, p.Elapsed("never_started"))

	p.SetTransport(0, "File")
	p.Start(TransportTimer(0))
	p.Stop(TransportTimer(0))
	p.AddBytes(TransportTimer(0), 100)
	p.AddBytes(TransportTimer(0), 28)
	p.AddBytes("buffering", 7)
	require.Equal(t, uint64(128), p.Bytes(TransportTimer(0)))

	raw, err := p.GetRankProfilingJSON()
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal(raw, &report))
	require.InDelta(t, 2.0, report["rank"], 0)
	require.InDelta(t, 4.0, report["threads"], 0)
	require.Contains(t, report, "buffering_ms")
	require.NotContains(t, report, "transport_0_ms")

	transport, ok := report["transport_0"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "File", transport["type"])
	require.InDelta(t, 128.0, transport["wbytes"], 0)
	require.Contains(t, transport, "write_ms")
}

func TestProfiler_NilIsNoop(t *testing.T) {
	var p *Profiler
	p.Start("x")
	p.Stop("x")
	p.AddBytes("x", 1)
	p.SetTransport(0, "File")
	require.Zero(t, p.Elapsed("x"))
	require.Zero(t, p.Bytes("x"))

	raw, err := p.GetRankProfilingJSON()
	require.NoError(t, err)
	require.JSONEq(t, "{}", string(raw))
}

func TestAggregateProfilingJSON(t *testing.T) {
	session := uuid.New()
	reports := make([][]byte, 3)
	err := collective.Run(context.Background(), 3, func(ctx context.Context, ch collective.Channel) error {
		p := NewProfiler(session, ch.Rank(), 1, Microseconds)
		p.Start("aggregation")
		p.Stop("aggregation")

		out, err := AggregateProfilingJSON(ctx, ch, p)
		reports[ch.Rank()] = out

		return err
	})
	require.NoError(t, err)
	require.Nil(t, reports[1])
	require.Nil(t, reports[2])

	var all []map[string]any
	require.NoError(t, json.Unmarshal(reports[0], &all))
	require.Len(t, all, 3)
	for rank, r := range all {
		require.InDelta(t, float64(rank), r["rank"], 0)
		require.Equal(t, session.String(), r["session"])
		require.Contains(t, r, "aggregation_mus")
	}
}

package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func captureDefault(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()

	buf := &bytes.Buffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	return buf
}

func TestTagsAreAttached(t *testing.T) {
	buf := captureDefault(t, slog.LevelDebug)

	ctx := AddTags(context.Background(), "rank", 3)
	ctx = AddTags(ctx, "engine", "out.bp")
	Infow(ctx, "step closed", "step", 7)

	out := buf.String()
	require.Contains(t, out, "step closed")
	require.Contains(t, out, "rank=3")
	require.Contains(t, out, "engine=out.bp")
	require.Contains(t, out, "step=7")
}

func TestAddTagsDoesNotAlias(t *testing.T) {
	base := AddTags(context.Background(), "rank", 0)
	a := AddTags(base, "engine", "a")
	b := AddTags(base, "engine", "b")

	require.Equal(t, []any{"rank", 0, "engine", "a"}, fromContext(a))
	require.Equal(t, []any{"rank", 0, "engine", "b"}, fromContext(b))
}

func TestLevelFiltering(t *testing.T) {
	buf := captureDefault(t, slog.LevelWarn)

	Debugf(context.Background(), "hidden %d", 1)
	Warnw(context.Background(), "shown", "n", 2)

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown n=2")
}

func TestLevelForVerbosity(t *testing.T) {
	require.Equal(t, slog.LevelWarn, LevelForVerbosity(0))
	require.Equal(t, slog.LevelInfo, LevelForVerbosity(1))
	require.Equal(t, slog.LevelDebug, LevelForVerbosity(5))
}

func TestAddTagsOddPanics(t *testing.T) {
	require.Panics(t, func() { AddTags(context.Background(), "rank") })
}

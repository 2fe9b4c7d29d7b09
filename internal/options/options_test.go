package options

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Threads int
	Name    string
}

func (c *testConfig) Validate() error {
	if c.Threads == 0 {
		return errors.New("threads must be set")
	}

	return nil
}

type plainConfig struct {
	Value int
}

func withThreads(n int) Option[*testConfig] {
	return New(func(c *testConfig) error {
		if n < 1 {
			return errors.New("threads must be positive")
		}
		c.Threads = n

		return nil
	})
}

func TestApply(t *testing.T) {
	t.Run("applies options in order", func(t *testing.T) {
		cfg := &testConfig{}
		err := Apply[*testConfig](cfg,
			withThreads(2),
			NoError(func(c *testConfig) { c.Name = "first" }),
			NoError(func(c *testConfig) { c.Name = "second" }),
		)
		require.NoError(t, err)
		require.Equal(t, 2, cfg.Threads)
		require.Equal(t, "second", cfg.Name)
	})

	t.Run("stops at first error", func(t *testing.T) {
		cfg := &testConfig{}
		err := Apply[*testConfig](cfg,
			withThreads(0),
			NoError(func(c *testConfig) { c.Name = "never" }),
		)
		require.ErrorContains(t, err, "threads must be positive")
		require.Empty(t, cfg.Name)
	})

	t.Run("runs validator last", func(t *testing.T) {
		cfg := &testConfig{}
		err := Apply[*testConfig](cfg, NoError(func(c *testConfig) { c.Name = "x" }))
		require.ErrorContains(t, err, "threads must be set")
	})

	t.Run("skips nil options", func(t *testing.T) {
		cfg := &testConfig{}
		require.NoError(t, Apply[*testConfig](cfg, nil, withThreads(1)))
	})

	t.Run("targets without validator", func(t *testing.T) {
		cfg := &plainConfig{}
		require.NoError(t, Apply[*plainConfig](cfg, NoError(func(c *plainConfig) { c.Value = 3 })))
		require.Equal(t, 3, cfg.Value)
	})
}

func TestNamed(t *testing.T) {
	cfg := &testConfig{}
	opt := Named("WithThreads", func(c *testConfig) error {
		return errors.New("boom")
	})

	err := Apply[*testConfig](cfg, opt)
	require.EqualError(t, err, "option WithThreads: boom")
}

package cache

import (
	"testing"
	"time"

	"github.com/daviddao/poflow/internal/clock"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var epoch = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func TestExpiry(t *testing.T) {
	t.Parallel()

	clk := clock.NewTest(epoch)
	c := New[string, int](clk, 120*time.Second)
	c.Put("PO-1", 7)

	clk.Advance(120 * time.Second)
	v, ok := c.Get("PO-1")
	require.True(t, ok, "entry at exactly its lifetime is still served")
	require.Equal(t, 7, v)

	clk.Advance(time.Second)
	_, ok = c.Get("PO-1")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestInvalidateAndPurge(t *testing.T) {
	t.Parallel()

	c := New[string, string](clock.NewTest(epoch), time.Minute)
	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("c", "3")

	c.Invalidate("a", "missing")
	_, ok := c.Get("a")
	require.False(t, ok)
	require.Equal(t, 2, c.Len())

	c.Purge()
	require.Zero(t, c.Len())
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	t.Parallel()

	c := New[string, int](clock.NewTest(epoch), 0)
	c.Put("a", 1)
	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestServedOnlyWithinLifetime(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		ttl := time.Duration(rapid.Int64Range(1, 1000).Draw(t, "ttl")) * time.Second
		age := time.Duration(rapid.Int64Range(0, 2000).Draw(t, "age")) * time.Second

		clk := clock.NewTest(epoch)
		c := New[int, int](clk, ttl)
		c.Put(1, 42)
		clk.Advance(age)

		_, ok := c.Get(1)
		if ok != (age <= ttl) {
			t.Fatalf("ttl=%s age=%s served=%v", ttl, age, ok)
		}
	})
}

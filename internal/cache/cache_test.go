package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to, making TTL expiry deterministic.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	store, err := New(Config{Dir: t.TempDir()}, clock, nil)
	require.NoError(t, err)
	return store, clock
}

type payload struct {
	Topic string `json:"topic"`
	Score int    `json:"score"`
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "serp", "coffee grinders", payload{Topic: "coffee grinders", Score: 9}, time.Hour)

	var got payload
	require.True(t, store.Get(ctx, "serp", "coffee grinders", &got))
	require.Equal(t, payload{Topic: "coffee grinders", Score: 9}, got)
}

func TestStore_MissOnUnknownKey(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	var got payload
	require.False(t, store.Get(context.Background(), "serp", "nothing here", &got))
}

func TestStore_NamespacesAreIsolated(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "serp", "shared key", payload{Score: 1}, time.Hour)
	store.Set(ctx, "reddit", "shared key", payload{Score: 2}, time.Hour)

	var got payload
	require.True(t, store.Get(ctx, "serp", "shared key", &got))
	require.Equal(t, 1, got.Score)
	require.True(t, store.Get(ctx, "reddit", "shared key", &got))
	require.Equal(t, 2, got.Score)
}

func TestStore_ExpiryIsLazy(t *testing.T) {
	t.Parallel()
	store, clock := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "serp", "k", payload{Score: 1}, time.Minute)

	clock.advance(59 * time.Second)
	require.True(t, store.Has(ctx, "serp", "k"))

	// TTL boundary counts as expired.
	clock.advance(time.Second)
	var got payload
	require.False(t, store.Get(ctx, "serp", "k", &got))

	// The expired entry was deleted on read.
	require.Zero(t, store.Stats(ctx).Total)
}

func TestStore_SetWithZeroTTLIsNoop(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "serp", "k", payload{Score: 1}, 0)
	require.False(t, store.Has(ctx, "serp", "k"))
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "serp", "k", payload{Score: 1}, time.Hour)
	store.Delete(ctx, "serp", "k")
	require.False(t, store.Has(ctx, "serp", "k"))

	// Deleting again is fine.
	store.Delete(ctx, "serp", "k")
}

func TestStore_ClearNamespace(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "serp", "a", payload{}, time.Hour)
	store.Set(ctx, "serp", "b", payload{}, time.Hour)
	store.Set(ctx, "reddit", "c", payload{}, time.Hour)

	require.Equal(t, 2, store.Clear(ctx, "serp"))
	require.False(t, store.Has(ctx, "serp", "a"))
	require.True(t, store.Has(ctx, "reddit", "c"))

	require.Equal(t, 1, store.ClearAll(ctx))
}

func TestStore_CleanupRemovesOnlyExpired(t *testing.T) {
	t.Parallel()
	store, clock := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "serp", "short-1", payload{}, time.Minute)
	store.Set(ctx, "serp", "short-2", payload{}, time.Minute)
	store.Set(ctx, "serp", "long", payload{}, time.Hour)

	clock.advance(2 * time.Minute)
	require.Equal(t, 2, store.Cleanup(ctx))

	stats := store.Stats(ctx)
	require.Equal(t, 1, stats.Total)
	require.Zero(t, stats.Expired)
}

func TestStore_StatsDoesNotMutate(t *testing.T) {
	t.Parallel()
	store, clock := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "serp", "a", payload{}, time.Minute)
	store.Set(ctx, "serp", "b", payload{}, time.Hour)
	clock.advance(2 * time.Minute)

	stats := store.Stats(ctx)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.Expired)
	require.Positive(t, stats.SizeBytes)

	// Stats again reads the same picture: nothing was deleted.
	require.Equal(t, stats, store.Stats(ctx))
}

func TestStore_CorruptEntryIsAMiss(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	clock := &fakeClock{now: time.Now()}
	store, err := New(Config{Dir: dir}, clock, nil)
	require.NoError(t, err)
	ctx := context.Background()

	store.Set(ctx, "serp", "k", payload{Score: 1}, time.Hour)

	// Corrupt the single entry file on disk.
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.NoError(t, os.WriteFile(matches[0], []byte("{not json"), 0o600))

	var got payload
	require.False(t, store.Get(ctx, "serp", "k", &got))

	// The corrupt file was removed, so a rewrite works.
	store.Set(ctx, "serp", "k", payload{Score: 2}, time.Hour)
	require.True(t, store.Get(ctx, "serp", "k", &got))
	require.Equal(t, 2, got.Score)
}

func TestNew_RejectsFileAsDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	file := filepath.Join(dir, "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := New(Config{Dir: file}, &fakeClock{now: time.Now()}, nil)
	require.Error(t, err)
}

func TestNew_CreatesMissingDirectory(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested", "cache")

	store, err := New(Config{Dir: dir}, &fakeClock{now: time.Now()}, nil)
	require.NoError(t, err)
	store.Set(context.Background(), "serp", "k", payload{}, time.Hour)
	require.True(t, store.Has(context.Background(), "serp", "k"))
}

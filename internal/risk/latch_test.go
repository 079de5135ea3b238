package risk

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLatchTripOncePerDay(t *testing.T) {
	l := NewLatch()
	require.True(t, l.Trip(Moderate, "2026-01-02"))
	require.False(t, l.Trip(Moderate, "2026-01-02"))
	require.True(t, l.Tripped(Moderate, "2026-01-02"))
	require.False(t, l.Tripped(Moderate, "2026-01-03"), "a latch covers its own day only")
	require.False(t, l.Tripped(Aggressive, "2026-01-02"))

	require.True(t, l.Trip(Moderate, "2026-01-03"))
	l.Reset(Moderate)
	require.False(t, l.Tripped(Moderate, "2026-01-03"))
}

func TestLatchRestore(t *testing.T) {
	l := NewLatch()
	l.Restore(map[string]string{"moderate": "d1", "reckless": "d1"})
	require.True(t, l.Tripped(Moderate, "d1"))
	require.Equal(t, map[string]string{"moderate": "d1"}, l.Entries())
}

func TestNilLatch(t *testing.T) {
	var l *Latch
	require.False(t, l.Trip(Moderate, "d"))
	require.False(t, l.Tripped(Moderate, "d"))
	l.Reset(Moderate)
}

// hashCmdable serves the hash commands the latch store uses from a map.
type hashCmdable struct {
	redis.Cmdable
	hashes map[string]map[string]string
}

func (h *hashCmdable) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	out := make(map[string]string)
	for k, v := range h.hashes[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (h *hashCmdable) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if h.hashes[key] == nil {
		h.hashes[key] = make(map[string]string)
	}
	for i := 0; i+1 < len(values); i += 2 {
		h.hashes[key][values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (h *hashCmdable) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	for _, f := range fields {
		delete(h.hashes[key], f)
	}
	return redis.NewIntResult(int64(len(fields)), nil)
}

func TestRedisLatchStore(t *testing.T) {
	rdb := &hashCmdable{hashes: make(map[string]map[string]string)}
	store := NewRedisLatchStore(rdb, "")
	ctx := t.Context()

	require.NoError(t, store.Save(ctx, "moderate", "2026-01-02"))
	require.NoError(t, store.Save(ctx, "aggressive", "2026-01-02"))
	require.Contains(t, rdb.hashes, defaultLatchKey)

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"moderate": "2026-01-02", "aggressive": "2026-01-02"}, entries)

	require.NoError(t, store.Clear(ctx, "moderate"))
	entries, err = store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"aggressive": "2026-01-02"}, entries)

	l := NewLatch()
	l.Restore(entries)
	require.True(t, l.Tripped(Aggressive, "2026-01-02"))
}

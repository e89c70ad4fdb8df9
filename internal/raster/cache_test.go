package raster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock for cache tests ---

type countingReader struct {
	calls map[string]int
	err   error
}

func (m *countingReader) ReadScene(_ context.Context, id string) (*Scene, error) {
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[id]++
	if m.err != nil {
		return nil, m.err
	}
	return NewScene(id, 1, 1, Band{Type: Float32, Data: []float64{1}}), nil
}

// --- CachedReader tests ---

func TestCachedReader_Hit(t *testing.T) {
	inner := &countingReader{}
	cached := NewCachedReader(inner, 4)

	s1, err := cached.ReadScene(context.Background(), "NJ_2021-03-01.tif")
	require.NoError(t, err)
	s2, err := cached.ReadScene(context.Background(), "NJ_2021-03-01.tif")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, inner.calls["NJ_2021-03-01.tif"], "should only read once")
}

func TestCachedReader_ErrorsAreNotCached(t *testing.T) {
	inner := &countingReader{err: errors.New("timeout")}
	cached := NewCachedReader(inner, 4)

	_, err := cached.ReadScene(context.Background(), "a.tif")
	require.Error(t, err)
	_, err = cached.ReadScene(context.Background(), "a.tif")
	require.Error(t, err)

	assert.Equal(t, 2, inner.calls["a.tif"])
}

// --- LRU cache unit tests ---

func TestLRUCache_Eviction(t *testing.T) {
	a, b, c := &Scene{ID: "a"}, &Scene{ID: "b"}, &Scene{ID: "c"}
	cache := newLRUCache(2)
	cache.put("a", a)
	cache.put("b", b)
	cache.put("c", c) // evicts "a"

	_, ok := cache.get("a")
	assert.False(t, ok, "a should have been evicted")
	got, ok := cache.get("b")
	assert.True(t, ok)
	assert.Same(t, b, got)
	assert.Equal(t, 2, cache.len())
}

func TestLRUCache_AccessPromotesEntry(t *testing.T) {
	cache := newLRUCache(2)
	cache.put("a", &Scene{ID: "a"})
	cache.put("b", &Scene{ID: "b"})

	cache.get("a")
	cache.put("c", &Scene{ID: "c"})

	_, ok := cache.get("a")
	assert.True(t, ok, "a was accessed recently, should not be evicted")
	_, ok = cache.get("b")
	assert.False(t, ok, "b should have been evicted")
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	cache := newLRUCache(2)
	cache.put("a", &Scene{ID: "a1"})
	cache.put("a", &Scene{ID: "a2"})

	got, ok := cache.get("a")
	require.True(t, ok)
	assert.Equal(t, "a2", got.ID)
	assert.Equal(t, 1, cache.len())
}

func TestLRUCache_MinimumSize(t *testing.T) {
	cache := newLRUCache(0)
	cache.put("a", &Scene{ID: "a"})
	_, ok := cache.get("a")
	assert.True(t, ok)
}

func TestRouter(t *testing.T) {
	local := NewMemoryReader(NewScene("NJ.tif", 1, 1))
	remote := NewMemoryReader(NewScene("s3://viirs/NJ.tif", 1, 1))
	r := Router{Schemes: map[string]SceneReader{"s3": remote}, Default: local}
	ctx := context.Background()

	s, err := r.ReadScene(ctx, "NJ.tif")
	require.NoError(t, err)
	assert.Equal(t, "NJ.tif", s.ID)

	s, err = r.ReadScene(ctx, "S3://viirs/NJ.tif")
	require.ErrorIs(t, err, ErrSceneUnreadable, "memory reader keys are case sensitive")
	assert.Nil(t, s)

	s, err = r.ReadScene(ctx, "s3://viirs/NJ.tif")
	require.NoError(t, err)
	assert.Equal(t, "s3://viirs/NJ.tif", s.ID)

	_, err = r.ReadScene(ctx, "gs://bucket/NJ.tif")
	assert.ErrorIs(t, err, ErrSceneUnreadable)

	_, err = Router{}.ReadScene(ctx, "NJ.tif")
	assert.ErrorIs(t, err, ErrSceneUnreadable)
}

package meridian

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
)

type countingCloser struct {
	closes atomic.Int32
}

func (c *countingCloser) Close() error {
	c.closes.Add(1)
	return nil
}

func newTestTile(id TileID, bytes int64, closer *countingCloser) *Tile {
	raster := &gridRaster{
		width:   2,
		height:  2,
		samples: []float32{1, 2, 3, 4},
	}
	geoTransform := GeoTransform{
		OriginLat: float64(id.Lat + 1),
		OriginLon: float64(id.Lon),
		StepLat:   1,
		StepLon:   1,
	}
	return NewTile(id, raster, geoTransform, bytes, closer)
}

// testSource is a Source that counts loads and can be made to block.
type testSource struct {
	loads   atomic.Int32
	block   chan struct{}
	closers sync.Map
	bytes   int64
	missing map[TileID]bool
	err     error
}

func (s *testSource) Load(ctx context.Context, id TileID) (*Tile, error) {
	s.loads.Add(1)
	if s.block != nil {
		<-s.block
	}
	if s.missing[id] {
		return nil, ErrNotFound
	}
	if s.err != nil {
		return nil, s.err
	}
	closer, _ := s.closers.LoadOrStore(id, &countingCloser{})
	return newTestTile(id, s.bytes, closer.(*countingCloser)), nil
}

func (s *testSource) closes(id TileID) int32 {
	closer, ok := s.closers.Load(id)
	if !ok {
		return 0
	}
	return closer.(*countingCloser).closes.Load()
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTileStoreGet(t *testing.T) {
	source := &testSource{}
	s, err := NewTileStore(source)
	assert.NoError(t, err)
	id := TileID{Lat: 60, Lon: 30}

	tile1, err := s.Get(t.Context(), id)
	assert.NoError(t, err)
	tile2, err := s.Get(t.Context(), id)
	assert.NoError(t, err)
	assert.True(t, tile1 == tile2)
	assert.Equal(t, int64(3), tile1.Refs())
	assert.Equal(t, int32(1), source.loads.Load())

	assert.NoError(t, tile1.Release())
	assert.NoError(t, tile2.Release())
	assert.Equal(t, int64(1), tile1.Refs())
	assert.True(t, s.Contains(id))

	stats := s.Stats()
	assert.Equal(t, 1, stats.Tiles)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Loads)

	assert.NoError(t, s.Close())
	assert.Equal(t, int32(1), source.closes(id))
	_, err = s.Get(t.Context(), id)
	assert.IsError(t, err, ErrClosed)
}

func TestTileStoreMissingTiles(t *testing.T) {
	id := TileID{Lat: 0, Lon: 0}
	source := &testSource{
		missing: map[TileID]bool{id: true},
	}
	s, err := NewTileStore(source)
	assert.NoError(t, err)

	for range 3 {
		_, err := s.Get(t.Context(), id)
		assert.IsError(t, err, ErrNotFound)
	}
	assert.Equal(t, int32(1), source.loads.Load())
	assert.True(t, s.Missing(id))
	assert.Equal(t, 1, s.Stats().MissingTiles)
	assert.Equal(t, uint64(0), s.Stats().LoadErrors)

	s.Unload()
	assert.False(t, s.Missing(id))
	_, err = s.Get(t.Context(), id)
	assert.IsError(t, err, ErrNotFound)
	assert.Equal(t, int32(2), source.loads.Load())
}

func TestTileStoreLoadErrorsAreNotCached(t *testing.T) {
	id := TileID{Lat: 60, Lon: 30}
	errTruncated := errors.New("truncated")
	source := &testSource{
		err: errTruncated,
	}
	s, err := NewTileStore(source)
	assert.NoError(t, err)

	_, err = s.Get(t.Context(), id)
	assert.IsError(t, err, ErrLoad)
	assert.IsError(t, err, errTruncated)
	var loadErr *LoadError
	assert.True(t, errors.As(err, &loadErr))
	assert.Equal(t, id, loadErr.ID)
	assert.False(t, s.Missing(id))
	assert.Equal(t, uint64(1), s.Stats().LoadErrors)

	source.err = nil
	tile, err := s.Get(t.Context(), id)
	assert.NoError(t, err)
	assert.NoError(t, tile.Release())
	assert.Equal(t, int32(2), source.loads.Load())
}

func TestTileStoreConcurrentGetsShareOneLoad(t *testing.T) {
	source := &testSource{
		block: make(chan struct{}),
	}
	s, err := NewTileStore(source)
	assert.NoError(t, err)
	id := TileID{Lat: 60, Lon: 30}

	const n = 16
	tiles := make([]*Tile, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tiles[i], errs[i] = s.Get(t.Context(), id)
		}()
	}
	waitFor(t, func() bool {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		call, ok := s.calls[id]
		return ok && call.waiters == n
	})
	close(source.block)
	wg.Wait()

	assert.Equal(t, int32(1), source.loads.Load())
	for i := range n {
		assert.NoError(t, errs[i])
		assert.True(t, tiles[i] == tiles[0])
	}
	assert.Equal(t, int64(n+1), tiles[0].Refs())
	for _, tile := range tiles {
		assert.NoError(t, tile.Release())
	}
	assert.Equal(t, int64(1), tiles[0].Refs())
}

func TestTileStoreEvictionWhileBorrowed(t *testing.T) {
	source := &testSource{}
	s, err := NewTileStore(source, WithCacheSize(1))
	assert.NoError(t, err)
	idA := TileID{Lat: 60, Lon: 30}
	idB := TileID{Lat: 60, Lon: 31}

	tileA, err := s.Get(t.Context(), idA)
	assert.NoError(t, err)

	tileB, err := s.Get(t.Context(), idB)
	assert.NoError(t, err)
	assert.NoError(t, tileB.Release())

	assert.False(t, s.Contains(idA))
	assert.True(t, s.Contains(idB))
	assert.Equal(t, uint64(1), s.Stats().Evictions)

	assert.Equal(t, int32(0), source.closes(idA))
	samples, err := tileA.Raster.Samples(t.Context(), []Pixel{{X: 1, Y: 1}})
	assert.NoError(t, err)
	assert.Equal(t, []float64{4}, samples)
	assert.NoError(t, tileA.Release())
	assert.Equal(t, int32(1), source.closes(idA))
	assert.Equal(t, int32(0), source.closes(idB))
}

func TestTileStoreByteBudget(t *testing.T) {
	source := &testSource{
		bytes: 40,
	}
	s, err := NewTileStore(source, WithCacheBytes(100))
	assert.NoError(t, err)

	for lon := range 3 {
		tile, err := s.Get(t.Context(), TileID{Lat: 60, Lon: lon})
		assert.NoError(t, err)
		assert.NoError(t, tile.Release())
	}
	stats := s.Stats()
	assert.Equal(t, 2, stats.Tiles)
	assert.Equal(t, int64(80), stats.Bytes)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.False(t, s.Contains(TileID{Lat: 60, Lon: 0}))
	assert.Equal(t, int32(1), source.closes(TileID{Lat: 60, Lon: 0}))

	source.bytes = 200
	id := TileID{Lat: 61, Lon: 0}
	tile, err := s.Get(t.Context(), id)
	assert.NoError(t, err)
	assert.False(t, s.Contains(id))
	assert.Equal(t, int64(1), tile.Refs())
	assert.NoError(t, tile.Release())
	assert.Equal(t, int32(1), source.closes(id))
	assert.Equal(t, 2, s.Stats().Tiles)
}

func TestTileStoreGetCanceled(t *testing.T) {
	source := &testSource{
		block: make(chan struct{}),
	}
	s, err := NewTileStore(source)
	assert.NoError(t, err)
	id := TileID{Lat: 60, Lon: 30}

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Get(ctx, id)
		errCh <- err
	}()
	waitFor(t, func() bool {
		return source.loads.Load() == 1
	})
	cancel()
	assert.IsError(t, <-errCh, context.Canceled)

	close(source.block)
	waitFor(t, func() bool {
		return s.Contains(id)
	})
	tile, err := s.Get(t.Context(), id)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), tile.Refs())
	assert.NoError(t, tile.Release())
	assert.Equal(t, int32(1), source.loads.Load())
}

func TestTileStoreLoadTimeout(t *testing.T) {
	source := &testSource{
		block: make(chan struct{}),
	}
	s, err := NewTileStore(source, WithLoadTimeout(10*time.Millisecond))
	assert.NoError(t, err)
	id := TileID{Lat: 60, Lon: 30}

	_, err = s.Get(t.Context(), id)
	assert.IsError(t, err, ErrLoad)
	assert.IsError(t, err, context.DeadlineExceeded)
	assert.False(t, s.Missing(id))

	close(source.block)
	waitFor(t, func() bool {
		return source.closes(id) == 1
	})
	assert.False(t, s.Contains(id))
}

func TestTileStoreClosedBeforeMissing(t *testing.T) {
	id := TileID{Lat: 0, Lon: 0}
	source := &testSource{
		missing: map[TileID]bool{id: true},
	}
	s, err := NewTileStore(source)
	assert.NoError(t, err)

	_, err = s.Get(t.Context(), id)
	assert.IsError(t, err, ErrNotFound)
	assert.NoError(t, s.Close())

	for _, id := range []TileID{id, {Lat: 60, Lon: 30}} {
		_, err = s.Get(t.Context(), id)
		assert.IsError(t, err, ErrClosed)
	}
	assert.Equal(t, int32(1), source.loads.Load())
}

func TestTileStoreMissingTileLoadedOnceConcurrently(t *testing.T) {
	id := TileID{Lat: 0, Lon: 0}
	source := &testSource{
		block:   make(chan struct{}),
		missing: map[TileID]bool{id: true},
	}
	s, err := NewTileStore(source)
	assert.NoError(t, err)

	const n = 64
	errs := make([]error, 2*n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Get(t.Context(), id)
		}()
	}
	waitFor(t, func() bool {
		return source.loads.Load() == 1
	})
	close(source.block)
	for i := n; i < 2*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Get(t.Context(), id)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.IsError(t, err, ErrNotFound)
	}
	assert.Equal(t, int32(1), source.loads.Load())
}

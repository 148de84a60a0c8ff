package meridian_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/alecthomas/assert/v2"

	"github.com/meridian-geo/meridian"
	"github.com/meridian-geo/meridian/internal/testtiles"
	"github.com/meridian-geo/meridian/wire"
)

// countingSource counts the loads of another source.
type countingSource struct {
	source meridian.Source
	loads  atomic.Int32
}

func (s *countingSource) Load(ctx context.Context, id meridian.TileID) (*meridian.Tile, error) {
	s.loads.Add(1)
	return s.source.Load(ctx, id)
}

func newTestService(t *testing.T, fsys fstest.MapFS, options ...meridian.TileStoreOption) (*meridian.Service, *countingSource) {
	t.Helper()
	source := &countingSource{
		source: meridian.NewSRTM(fsys),
	}
	service, err := meridian.NewService(source, options...)
	assert.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, service.Close())
	})
	return service, source
}

func TestServiceElevation(t *testing.T) {
	service, _ := newTestService(t, testtiles.FS())

	for _, tc := range []struct {
		name        string
		lat         float64
		lon         float64
		expected    float32
		expectedErr error
	}{
		{name: "south_west_corner", lat: 60.0, lon: 30.0, expected: 0},
		{name: "north_east", lat: 60.9, lon: 30.9, expected: 3},
		{name: "center", lat: 60.5, lon: 30.5, expected: 62},
		{name: "sample", lat: 60.8, lon: 30.3, expected: 26},
		{name: "void", lat: 60.2, lon: 30.8, expectedErr: meridian.ErrNotFound},
		{name: "near_void", lat: 60.25, lon: 30.75, expectedErr: meridian.ErrNotFound},
		{name: "null_island", lat: 0, lon: 0, expectedErr: meridian.ErrNotFound},
		{name: "invalid_lat", lat: 91, lon: 30, expectedErr: meridian.ErrInvalidCoordinate},
		{name: "invalid_lon", lat: 60, lon: -180.5, expectedErr: meridian.ErrInvalidCoordinate},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := service.Elevation(t.Context(), tc.lat, tc.lon)
			if tc.expectedErr != nil {
				assert.IsError(t, err, tc.expectedErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestServiceElevationIsDeterministicAndInRange(t *testing.T) {
	service, source := newTestService(t, testtiles.FS())

	r := rand.New(rand.NewPCG(0, 0))
	for range 1024 {
		lat := 60 + r.Float64()
		lon := 30 + r.Float64()
		elevation1, err1 := service.Elevation(t.Context(), lat, lon)
		elevation2, err2 := service.Elevation(t.Context(), lat, lon)
		assert.Equal(t, err1, err2)
		assert.Equal(t, elevation1, elevation2)
		if errors.Is(err1, meridian.ErrNotFound) {
			continue
		}
		assert.NoError(t, err1)
		assert.True(t, 0 <= elevation1 && elevation1 <= 80, "%f,%f: %f", lat, lon, elevation1)
	}
	assert.Equal(t, int32(1), source.loads.Load())
}

func TestServiceInvalidCoordinatesDoNotTouchStore(t *testing.T) {
	service, source := newTestService(t, testtiles.FS())

	for _, coord := range []meridian.Coord{
		{Lat: 90.5, Lon: 0},
		{Lat: -91, Lon: 0},
		{Lat: 0, Lon: 181},
		{Lat: 0, Lon: -180.0001},
	} {
		_, err := service.Elevation(t.Context(), coord.Lat, coord.Lon)
		assert.IsError(t, err, meridian.ErrInvalidCoordinate)
	}
	assert.Equal(t, int32(0), source.loads.Load())
	assert.Equal(t, uint64(0), service.Stats().Misses)
}

func TestServiceMissingTileIsLoadedOnce(t *testing.T) {
	service, source := newTestService(t, testtiles.FS())

	for range 8 {
		_, err := service.Elevation(t.Context(), 0.5, 0.5)
		assert.IsError(t, err, meridian.ErrNotFound)
	}
	assert.Equal(t, int32(1), source.loads.Load())
	assert.True(t, service.Store().Missing(meridian.TileID{Lat: 0, Lon: 0}))

	service.Unload()
	_, err := service.Elevation(t.Context(), 0.5, 0.5)
	assert.IsError(t, err, meridian.ErrNotFound)
	assert.Equal(t, int32(2), source.loads.Load())
}

func TestServiceConcurrentElevation(t *testing.T) {
	service, source := newTestService(t, testtiles.FS())

	const n = 64
	elevations := make([]float32, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			elevations[i], errs[i] = service.Elevation(t.Context(), 60.5, 30.5)
		}()
	}
	wg.Wait()
	for i := range n {
		assert.NoError(t, errs[i])
		assert.Equal(t, float32(62), elevations[i])
	}
	assert.Equal(t, int32(1), source.loads.Load())
}

func TestServiceCacheSize(t *testing.T) {
	fsys := testtiles.FS()
	fsys["N60E031.hgt"] = fsys["N60E030.hgt"]
	service, source := newTestService(t, fsys, meridian.WithCacheSize(1))

	for _, lon := range []float64{30.5, 31.5, 30.5, 31.5} {
		elevation, err := service.Elevation(t.Context(), 60.5, lon)
		assert.NoError(t, err)
		assert.Equal(t, float32(62), elevation)
	}
	assert.Equal(t, int32(4), source.loads.Load())
	stats := service.Stats()
	assert.Equal(t, 1, stats.Tiles)
	assert.Equal(t, uint64(3), stats.Evictions)
}

func TestServiceElevations(t *testing.T) {
	service, source := newTestService(t, testtiles.FS())

	results, err := service.Elevations(t.Context(), []meridian.Coord{
		{Lat: 60.0, Lon: 30.0},
		{Lat: 0, Lon: 0},
		{Lat: 60.9, Lon: 30.9},
		{Lat: 95, Lon: 0},
		{Lat: 60.2, Lon: 30.8},
		{Lat: 60.5, Lon: 30.5},
	})
	assert.NoError(t, err)
	assert.Equal(t, 6, len(results))

	assert.NoError(t, results[0].Err)
	assert.Equal(t, float32(0), results[0].Elevation)
	assert.IsError(t, results[1].Err, meridian.ErrNotFound)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, float32(3), results[2].Elevation)
	assert.IsError(t, results[3].Err, meridian.ErrInvalidCoordinate)
	assert.IsError(t, results[4].Err, meridian.ErrNotFound)
	assert.NoError(t, results[5].Err)
	assert.Equal(t, float32(62), results[5].Elevation)

	assert.Equal(t, int32(2), source.loads.Load())
}

func TestServiceElevationsLoadError(t *testing.T) {
	fsys := testtiles.FS()
	fsys["N60E031.hgt"] = &fstest.MapFile{Data: []byte("corrupt")}
	service, _ := newTestService(t, fsys)

	_, err := service.Elevations(t.Context(), []meridian.Coord{
		{Lat: 60.5, Lon: 30.5},
		{Lat: 60.5, Lon: 31.5},
	})
	assert.IsError(t, err, meridian.ErrLoad)

	_, err = service.Elevation(t.Context(), 60.5, 31.5)
	assert.IsError(t, err, meridian.ErrLoad)
	assert.False(t, service.Store().Missing(meridian.TileID{Lat: 60, Lon: 31}))
}

func TestServicePrefetch(t *testing.T) {
	fsys := testtiles.FS()
	fsys["N61E031.hgt"] = fsys["N60E030.hgt"]
	service, source := newTestService(t, fsys)

	rect := meridian.RectFromCorners(60.2, 30.2, 61.5, 31.5)
	available, err := service.Prefetch(t.Context(), rect, 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, available)
	assert.Equal(t, int32(4), source.loads.Load())

	store := service.Store()
	assert.True(t, store.Contains(meridian.TileID{Lat: 60, Lon: 30}))
	assert.True(t, store.Contains(meridian.TileID{Lat: 61, Lon: 31}))
	assert.True(t, store.Missing(meridian.TileID{Lat: 60, Lon: 31}))
	assert.True(t, store.Missing(meridian.TileID{Lat: 61, Lon: 30}))

	available, err = service.Prefetch(t.Context(), rect, 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, available)
	assert.Equal(t, int32(4), source.loads.Load())
}

func TestTilesInRect(t *testing.T) {
	for _, tc := range []struct {
		name     string
		lat1     float64
		lon1     float64
		lat2     float64
		lon2     float64
		expected []meridian.TileID
	}{
		{
			name: "single",
			lat1: 60.2, lon1: 30.2,
			lat2: 60.8, lon2: 30.8,
			expected: []meridian.TileID{
				{Lat: 60, Lon: 30},
			},
		},
		{
			name: "four",
			lat1: -0.5, lon1: -0.5,
			lat2: 0.5, lon2: 0.5,
			expected: []meridian.TileID{
				{Lat: -1, Lon: -1},
				{Lat: -1, Lon: 0},
				{Lat: 0, Lon: -1},
				{Lat: 0, Lon: 0},
			},
		},
		{
			name: "antimeridian",
			lat1: 10.5, lon1: 179.5,
			lat2: 10.6, lon2: -179.5,
			expected: []meridian.TileID{
				{Lat: 10, Lon: 179},
				{Lat: 10, Lon: -180},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rect := meridian.RectFromCorners(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			assert.Equal(t, tc.expected, meridian.TilesInRect(rect))
		})
	}
}

func TestRectFromCenter(t *testing.T) {
	assert.Equal(t, []meridian.TileID{{Lat: 60, Lon: 30}}, meridian.TilesInRect(meridian.RectFromCenter(60.5, 30.5, 1000)))

	tileIDs := meridian.TilesInRect(meridian.RectFromCenter(89.9, 0, 20000))
	assert.Equal(t, 360, len(tileIDs))
	for _, id := range tileIDs {
		assert.Equal(t, 89, id.Lat)
	}
}

func TestServiceClosed(t *testing.T) {
	service, source := newTestService(t, testtiles.FS())
	_, err := service.Elevation(t.Context(), 0.5, 0.5)
	assert.IsError(t, err, meridian.ErrNotFound)
	assert.NoError(t, service.Close())

	for _, coord := range []meridian.Coord{
		{Lat: 60.5, Lon: 30.5},
		{Lat: 0.5, Lon: 0.5},
	} {
		value, err := service.Elevation(t.Context(), coord.Lat, coord.Lon)
		assert.IsError(t, err, meridian.ErrClosed)
		assert.False(t, errors.Is(err, meridian.ErrNotFound))
		assert.Equal(t, wire.LoadError, wire.Encode(value, err))
	}
	assert.Equal(t, int32(1), source.loads.Load())
}

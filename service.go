package meridian

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"golang.org/x/sync/errgroup"
)

// earthRadiusMeters is the mean radius of the Earth.
const earthRadiusMeters = 6371010

// A Result is the outcome of looking up a single coordinate. Err is nil,
// ErrInvalidCoordinate, or ErrNotFound.
type Result struct {
	Elevation float32
	Err       error
}

// A Service answers elevation queries from tiles in a TileStore.
type Service struct {
	store *TileStore
}

// NewService returns a new Service loading tiles from source.
func NewService(source Source, options ...TileStoreOption) (*Service, error) {
	store, err := NewTileStore(source, options...)
	if err != nil {
		return nil, err
	}
	return &Service{
		store: store,
	}, nil
}

// Elevation returns the elevation in meters at lat, lon. It returns
// ErrInvalidCoordinate if lat or lon is out of range, ErrNotFound if there is
// no data at lat, lon, or a *LoadError if the data could not be read.
func (s *Service) Elevation(ctx context.Context, lat, lon float64) (float32, error) {
	id, offset, err := Locate(Coord{Lat: lat, Lon: lon})
	if err != nil {
		return 0, err
	}
	tile, err := s.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	defer s.store.release(tile)
	return Sample(ctx, tile, offset)
}

// Elevations returns the elevations of coords. Coordinates in the same tile
// share a single tile lookup. Per-coordinate failures are reported in each
// Result; any other error aborts the whole lookup.
func (s *Service) Elevations(ctx context.Context, coords []Coord) ([]Result, error) {
	results := make([]Result, len(coords))

	// Group indexes by tile.
	offsets := make([]Offset, len(coords))
	indexesByTileID := make(map[TileID][]int)
	var tileIDs []TileID
	for index, coord := range coords {
		id, offset, err := Locate(coord)
		if err != nil {
			results[index].Err = err
			continue
		}
		offsets[index] = offset
		if _, ok := indexesByTileID[id]; !ok {
			tileIDs = append(tileIDs, id)
		}
		indexesByTileID[id] = append(indexesByTileID[id], index)
	}

	// Sample one tile at a time.
	for _, id := range tileIDs {
		indexes := indexesByTileID[id]
		tile, err := s.store.Get(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			for _, index := range indexes {
				results[index].Err = ErrNotFound
			}
			continue
		case err != nil:
			return nil, err
		}
		for _, index := range indexes {
			results[index].Elevation, results[index].Err = Sample(ctx, tile, offsets[index])
			if results[index].Err != nil && !errors.Is(results[index].Err, ErrNotFound) {
				err = results[index].Err
				break
			}
		}
		s.store.release(tile)
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}

// Prefetch loads every tile intersecting rect, at most parallelism at a time,
// and returns the number of tiles that have data. Tiles already known to be
// missing are skipped.
func (s *Service) Prefetch(ctx context.Context, rect s2.Rect, parallelism int) (int, error) {
	tileIDs := TilesInRect(rect)
	available := make([]bool, len(tileIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallelism, 1))
	for i, id := range tileIDs {
		if s.store.Missing(id) {
			continue
		}
		g.Go(func() error {
			switch tile, err := s.store.Get(ctx, id); {
			case errors.Is(err, ErrNotFound):
				return nil
			case err != nil:
				return err
			default:
				s.store.release(tile)
				available[i] = true
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	count := 0
	for _, ok := range available {
		if ok {
			count++
		}
	}
	s.store.log().Info("prefetched tiles", slog.Int("tiles", len(tileIDs)), slog.Int("available", count))
	return count, nil
}

// Unload drops every cached tile and forgets which tiles are missing.
func (s *Service) Unload() {
	s.store.Unload()
}

// Stats returns a snapshot of s's tile store.
func (s *Service) Stats() Stats {
	return s.store.Stats()
}

// Store returns s's tile store.
func (s *Service) Store() *TileStore {
	return s.store
}

// Close releases all of s's resources.
func (s *Service) Close() error {
	return s.store.Close()
}

// RectFromCenter returns the smallest rectangle containing the spherical cap
// of radius radiusMeters around lat, lon.
func RectFromCenter(lat, lon, radiusMeters float64) s2.Rect {
	center := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
	angle := s1.Angle(radiusMeters / earthRadiusMeters)
	return s2.CapFromCenterAngle(center, angle).RectBound()
}

// RectFromCorners returns the smallest rectangle containing both corners.
func RectFromCorners(lat1, lon1, lat2, lon2 float64) s2.Rect {
	return s2.RectFromLatLng(s2.LatLngFromDegrees(lat1, lon1)).AddPoint(s2.LatLngFromDegrees(lat2, lon2))
}

// TilesInRect returns the IDs of every tile intersecting rect, south to north
// and west to east. Rectangles crossing the antimeridian are supported.
func TilesInRect(rect s2.Rect) []TileID {
	if rect.IsEmpty() {
		return nil
	}

	minLat := max(floorDegrees(rect.Lat.Lo), -90)
	maxLat := min(floorDegrees(rect.Lat.Hi), 89)

	type lonRange struct{ lo, hi int }
	var lonRanges []lonRange
	switch lo, hi := floorDegrees(rect.Lng.Lo), floorDegrees(rect.Lng.Hi); {
	case rect.Lng.IsFull():
		lonRanges = []lonRange{{-180, 179}}
	case rect.Lng.IsInverted():
		lonRanges = []lonRange{
			{lo, 179},
			{-180, min(hi, 179)},
		}
	default:
		lonRanges = []lonRange{
			{max(lo, -180), min(hi, 179)},
		}
	}

	var tileIDs []TileID
	for lat := minLat; lat <= maxLat; lat++ {
		for _, r := range lonRanges {
			for lon := r.lo; lon <= r.hi; lon++ {
				tileIDs = append(tileIDs, TileID{Lat: lat, Lon: lon})
			}
		}
	}
	return tileIDs
}

// floorDegrees converts radians to degrees, snapping to the nearest integer
// degree like Locate, and returns the floor.
func floorDegrees(radians float64) int {
	return int(math.Floor(snap(radians * 180 / math.Pi)))
}

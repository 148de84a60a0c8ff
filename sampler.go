package meridian

import (
	"context"
	"math"
)

// Sample returns the elevation at offset within tile by bilinear interpolation
// of the four surrounding samples. Only tile's own samples are used: near the
// tile's edges the nearest edge samples are repeated. If any sample with a
// non-zero weight is missing, or offset lies outside tile's raster, it returns
// ErrNotFound. Errors reading the raster are returned as a *LoadError.
func Sample(ctx context.Context, tile *Tile, offset Offset) (float32, error) {
	coord := Coord{
		Lat: float64(tile.ID.Lat) + offset.Lat,
		Lon: float64(tile.ID.Lon) + offset.Lon,
	}
	width, height := tile.Raster.Size()
	x, y := tile.GeoTransform.Pixel(coord)
	if x < -0.5 || float64(width)-0.5 < x || y < -0.5 || float64(height)-0.5 < y {
		return 0, ErrNotFound
	}
	x = min(max(x, 0), float64(width-1))
	y = min(max(y, 0), float64(height-1))

	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, width-1), min(y0+1, height-1)
	dx, dy := x-float64(x0), y-float64(y0)

	samples, err := tile.Raster.Samples(ctx, []Pixel{
		{X: x0, Y: y0},
		{X: x1, Y: y0},
		{X: x0, Y: y1},
		{X: x1, Y: y1},
	})
	if err != nil {
		return 0, &LoadError{ID: tile.ID, Err: err}
	}

	weights := [4]float64{
		(1 - dx) * (1 - dy),
		dx * (1 - dy),
		(1 - dx) * dy,
		dx * dy,
	}
	result := 0.0
	for i, weight := range weights {
		if weight == 0 {
			continue
		}
		if math.IsNaN(samples[i]) {
			return 0, ErrNotFound
		}
		result += weight * samples[i]
	}
	return float32(result), nil
}

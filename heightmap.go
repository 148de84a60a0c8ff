package meridian

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/golang/geo/s2"
)

// MaxHeightmapSize is the largest width and height of a heightmap.
const MaxHeightmapSize = 4096

var errHeightmapSize = errors.New("invalid heightmap size")

// Heightmap returns a size by size grayscale image of the elevations in rect,
// north up. Each pixel is the elevation at the pixel's center, scaled linearly
// from the lowest elevation found (black) to the highest (white). Pixels
// without data are black, as is every pixel of a flat area.
func (s *Service) Heightmap(ctx context.Context, rect s2.Rect, size int) (*image.Gray, error) {
	if size < 1 || MaxHeightmapSize < size {
		return nil, fmt.Errorf("%d: %w", size, errHeightmapSize)
	}
	if rect.IsEmpty() {
		return nil, ErrInvalidCoordinate
	}

	results, err := s.Elevations(ctx, heightmapCoords(rect, size))
	if err != nil {
		return nil, err
	}

	lowest, highest := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, result := range results {
		if result.Err == nil {
			lowest = min(lowest, result.Elevation)
			highest = max(highest, result.Elevation)
		}
	}

	img := image.NewGray(image.Rect(0, 0, size, size))
	if highest > lowest {
		scale := math.MaxUint8 / float64(highest-lowest)
		for i, result := range results {
			if result.Err != nil {
				continue
			}
			value := math.Round(float64(result.Elevation-lowest) * scale)
			img.SetGray(i%size, i/size, color.Gray{Y: uint8(value)})
		}
	}

	s.store.log().Debug("heightmap",
		slog.Int("size", size),
		slog.Float64("lowest", float64(lowest)),
		slog.Float64("highest", float64(highest)),
	)
	return img, nil
}

// heightmapCoords returns the centers of the pixels of a size by size grid
// over rect, row by row from the north-west corner.
func heightmapCoords(rect s2.Rect, size int) []Coord {
	north := rect.Lat.Hi * 180 / math.Pi
	west := rect.Lng.Lo * 180 / math.Pi
	latStep := rect.Lat.Length() * 180 / math.Pi / float64(size)
	lonStep := rect.Lng.Length() * 180 / math.Pi / float64(size)

	coords := make([]Coord, 0, size*size)
	for row := range size {
		lat := north - (float64(row)+0.5)*latStep
		for col := range size {
			lon := west + (float64(col)+0.5)*lonStep
			if lon > 180 {
				lon -= 360
			}
			coords = append(coords, Coord{Lat: lat, Lon: lon})
		}
	}
	return coords
}

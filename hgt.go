package meridian

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
)

// hgtVoid is the SRTM value for a missing sample.
const hgtVoid = -32768

var errHGTSize = errors.New("hgt: size is not a square grid of 16-bit samples")

// A gridRaster is a Raster held entirely in memory.
type gridRaster struct {
	width   int
	height  int
	samples []float32
}

// Samples implements Raster.
func (r *gridRaster) Samples(ctx context.Context, pixels []Pixel) ([]float64, error) {
	samples := make([]float64, len(pixels))
	for i, pixel := range pixels {
		if pixel.X < 0 || r.width <= pixel.X || pixel.Y < 0 || r.height <= pixel.Y {
			samples[i] = math.NaN()
			continue
		}
		samples[i] = float64(r.samples[pixel.Y*r.width+pixel.X])
	}
	return samples, nil
}

// Size implements Raster.
func (r *gridRaster) Size() (int, int) {
	return r.width, r.height
}

// DecodeHGT decodes an SRTM .hgt file: a square grid of big-endian signed
// 16-bit samples, north row first, whose edge rows and columns lie exactly on
// the tile's boundaries.
func DecodeHGT(id TileID, file fs.File) (*Tile, error) {
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	n := int(math.Sqrt(float64(len(data) / 2)))
	if n < 2 || 2*n*n != len(data) {
		return nil, fmt.Errorf("%d bytes: %w", len(data), errHGTSize)
	}

	samples := make([]float32, n*n)
	for i := range samples {
		switch value := int16(binary.BigEndian.Uint16(data[2*i : 2*i+2])); value {
		case hgtVoid:
			samples[i] = float32(math.NaN())
		default:
			samples[i] = float32(value)
		}
	}

	step := 1 / float64(n-1)
	return NewTile(id, &gridRaster{
		width:   n,
		height:  n,
		samples: samples,
	}, GeoTransform{
		OriginLat: float64(id.Lat + 1),
		OriginLon: float64(id.Lon),
		StepLat:   step,
		StepLon:   step,
	}, int64(4*len(samples)), nil), nil
}

package meridian

import (
	"io"
	"sync/atomic"
)

// A GeoTransform places a raster's pixels on the globe. The origin is the
// position of the center of pixel (0, 0) and the steps are the positive number
// of degrees between adjacent pixels.
type GeoTransform struct {
	OriginLat float64
	OriginLon float64
	StepLat   float64
	StepLon   float64
}

// Pixel returns the fractional pixel position of coord.
func (g GeoTransform) Pixel(coord Coord) (float64, float64) {
	return (coord.Lon - g.OriginLon) / g.StepLon, (g.OriginLat - coord.Lat) / g.StepLat
}

// A Tile is an immutable raster covering one TileID. Tiles are reference
// counted: whoever obtains a Tile from a TileStore must call Release when done
// with it.
type Tile struct {
	ID           TileID
	Raster       Raster
	GeoTransform GeoTransform
	Bytes        int64

	closer io.Closer
	refs   atomic.Int64
}

// NewTile returns a new Tile holding a single reference. closer, if not nil, is
// closed when the last reference is released.
func NewTile(id TileID, raster Raster, geoTransform GeoTransform, bytes int64, closer io.Closer) *Tile {
	t := &Tile{
		ID:           id,
		Raster:       raster,
		GeoTransform: geoTransform,
		Bytes:        bytes,
		closer:       closer,
	}
	t.refs.Store(1)
	return t
}

func (t *Tile) retain() *Tile {
	t.refs.Add(1)
	return t
}

// Release drops a reference to t. When the last reference is dropped t's
// backing resources are closed.
func (t *Tile) Release() error {
	switch refs := t.refs.Add(-1); {
	case refs > 0:
		return nil
	case refs < 0:
		panic("meridian: tile released too many times")
	case t.closer != nil:
		return t.closer.Close()
	default:
		return nil
	}
}

// Refs returns the number of outstanding references to t.
func (t *Tile) Refs() int64 {
	return t.refs.Load()
}

package meridian

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidCoordinate is returned for latitudes outside [-90, 90] or
	// longitudes outside [-180, 180].
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrNotFound is returned when there is no elevation data at a valid
	// coordinate.
	ErrNotFound = errors.New("elevation not found")

	// ErrLoad matches every *LoadError with errors.Is.
	ErrLoad = errors.New("tile load failed")

	// ErrClosed is returned by a TileStore or Service after Close.
	ErrClosed = errors.New("tile store closed")

	// ErrAlreadyActive is returned when a one-shot process resource is
	// activated a second time.
	ErrAlreadyActive = errors.New("already active")
)

// A Coord is a geographic coordinate in degrees.
type Coord struct {
	Lat float64
	Lon float64
}

// A TileID identifies a one degree by one degree tile by the integer degrees
// of its south-west corner.
type TileID struct {
	Lat int
	Lon int
}

// An Offset is the position of a coordinate within its tile, measured from the
// tile's south-west corner. Both components are in [0, 1).
type Offset struct {
	Lat float64
	Lon float64
}

// A Pixel is a sample position in a raster. X grows eastwards and Y grows
// southwards.
type Pixel struct {
	X int
	Y int
}

// A Raster is a rectangular grid of samples. Missing samples, including those
// outside the grid, are represented by NaNs.
type Raster interface {
	Samples(ctx context.Context, pixels []Pixel) ([]float64, error)
	Size() (int, int)
}

// A LoadError is returned when a tile's backing data exists but could not be
// read. Load errors are not cached.
type LoadError struct {
	ID  TileID
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.ID, ErrLoad, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Is(target error) bool {
	return target == ErrLoad
}

// Quarter returns the index of the hemisphere quarter containing id: 0 for
// north-west, 1 for north-east, 2 for south-west, and 3 for south-east.
func (id TileID) Quarter() int {
	switch {
	case id.Lat >= 0 && id.Lon < 0:
		return 0
	case id.Lat >= 0:
		return 1
	case id.Lon < 0:
		return 2
	default:
		return 3
	}
}

// String returns id in SRTM form, e.g. N60E030.
func (id TileID) String() string {
	ns, lat := 'N', id.Lat
	if lat < 0 {
		ns, lat = 'S', -lat
	}
	ew, lon := 'E', id.Lon
	if lon < 0 {
		ew, lon = 'W', -lon
	}
	return fmt.Sprintf("%c%02d%c%03d", ns, lat, ew, lon)
}

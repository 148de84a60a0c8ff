// Package wire translates elevation results to and from the 32-bit integer
// codes used at process and network boundaries.
//
// Valid elevations are rounded to the nearest meter. Failures are encoded as
// sentinels below any elevation on Earth, so a code is never ambiguous. Only
// ErrNotFound, or a NaN value, is encoded as NotFound. Every other failure,
// including cancellation and a closed store, is encoded as LoadError.
package wire

import (
	"errors"
	"fmt"
	"math"

	"github.com/meridian-geo/meridian"
)

// Sentinel codes.
const (
	NotFound          int32 = -32768
	InvalidCoordinate int32 = -32767
	LoadError         int32 = -32766
)

// minElevation is the smallest code that is an elevation.
const minElevation = LoadError + 1

// ErrUnknownCode is returned by Decode for a sentinel it does not recognize.
var ErrUnknownCode = errors.New("unknown wire code")

// Encode returns the code for an elevation lookup that returned value and err.
func Encode(value float32, err error) int32 {
	switch {
	case errors.Is(err, meridian.ErrInvalidCoordinate):
		return InvalidCoordinate
	case errors.Is(err, meridian.ErrNotFound):
		return NotFound
	case err != nil:
		return LoadError
	case math.IsNaN(float64(value)):
		return NotFound
	}
	rounded := math.Round(float64(value))
	return int32(min(max(rounded, float64(minElevation)), math.MaxInt32))
}

// Decode returns the elevation or error that code represents.
func Decode(code int32) (float32, error) {
	switch {
	case code == NotFound:
		return 0, meridian.ErrNotFound
	case code == InvalidCoordinate:
		return 0, meridian.ErrInvalidCoordinate
	case code == LoadError:
		return 0, meridian.ErrLoad
	case code < minElevation:
		return 0, fmt.Errorf("%d: %w", code, ErrUnknownCode)
	default:
		return float32(code), nil
	}
}

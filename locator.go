package meridian

import "math"

// snapThreshold is the distance in degrees within which a coordinate is
// snapped to the nearest integer degree.
const snapThreshold = 1e-5

// Valid returns whether c is within the geographic coordinate range.
func (c Coord) Valid() bool {
	return -90 <= c.Lat && c.Lat <= 90 && -180 <= c.Lon && c.Lon <= 180
}

// Locate returns the tile containing coord and coord's offset within it.
// Coordinates within snapThreshold of an integer degree are snapped to it. The
// meridian at 180 degrees belongs to the tiles at -180, and the north pole
// belongs to the tiles at 89.
func Locate(coord Coord) (TileID, Offset, error) {
	if !coord.Valid() {
		return TileID{}, Offset{}, ErrInvalidCoordinate
	}
	lat, lon := snap(coord.Lat), snap(coord.Lon)
	if lon == 180 {
		lon = -180
	}
	tileLat, tileLon := math.Floor(lat), math.Floor(lon)
	offset := Offset{
		Lat: lat - tileLat,
		Lon: lon - tileLon,
	}
	if tileLat == 90 {
		tileLat = 89
		offset.Lat = math.Nextafter(1, 0)
	}
	return TileID{Lat: int(tileLat), Lon: int(tileLon)}, offset, nil
}

func snap(value float64) float64 {
	if floor := math.Floor(value); value-floor < snapThreshold {
		return floor
	}
	if ceil := math.Ceil(value); ceil-value < snapThreshold {
		return ceil
	}
	return value
}

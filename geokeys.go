package meridian

import (
	"errors"
	"fmt"
	"strings"
)

var errParse = errors.New("geokeys: parse error")

// Locations of GeoKey values outside the key directory.
const (
	tagGeoDoubleParams = 34736
	tagGeoASCIIParams  = 34737
)

// Values of GeoKeyGTModelType and GeoKeyGTRasterType.
const (
	modelTypeGeographic = 2
	rasterPixelIsArea   = 1
	rasterPixelIsPoint  = 2
)

const crsWGS84 = 4326

type GeoKey uint16

// GeoKeys that describe geographic rasters. Keys of projected CRSs are parsed
// but not named.
const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS            GeoKey = 2048
	GeoKeyGeogCitation           GeoKey = 2049
	GeoKeyGeodeticDatum          GeoKey = 2050
	GeoKeyPrimeMeridian          GeoKey = 2051
	GeoKeyAngularUnits           GeoKey = 2054
	GeoKeyEllipsoid              GeoKey = 2056
	GeoKeyEllipsoidSemiMajorAxis GeoKey = 2057
	GeoKeyEllipsoidInvFlattening GeoKey = 2059

	GeoKeyVertical      GeoKey = 4096
	GeoKeyVerticalDatum GeoKey = 4098
	GeoKeyVerticalUnits GeoKey = 4099
)

// GeoKeys holds the values of a GeoKeyDirectoryTag, by the type of value.
type GeoKeys struct {
	Shorts  map[GeoKey]int
	Doubles map[GeoKey]float64
	ASCII   map[GeoKey]string
}

// A geoKeyEntry is one entry of a GeoKeyDirectoryTag.
type geoKeyEntry struct {
	key      GeoKey
	location int
	count    int
	value    int
}

// ParseGeoKeys parses a GeoKeyDirectoryTag and the GeoDoubleParamsTag and
// GeoASCIIParamsTag that it refers to. ASCII values have their terminating
// pipe removed.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*GeoKeys, error) {
	if len(directory) < 4 {
		return nil, errParse
	}
	switch version, revision, minorRevision := directory[0], directory[1], directory[2]; {
	case version != 1 || revision != 1:
		return nil, fmt.Errorf("version %d.%d: %w", version, revision, errParse)
	case minorRevision > 1:
		return nil, fmt.Errorf("minor revision %d: %w", minorRevision, errParse)
	}
	n := int(directory[3])
	if len(directory) != 4*(n+1) {
		return nil, fmt.Errorf("%d keys in %d values: %w", n, len(directory), errParse)
	}

	geoKeys := &GeoKeys{
		Shorts:  make(map[GeoKey]int),
		Doubles: make(map[GeoKey]float64),
		ASCII:   make(map[GeoKey]string),
	}
	for i := 1; i <= n; i++ {
		entry := geoKeyEntry{
			key:      GeoKey(directory[4*i]),
			location: int(directory[4*i+1]),
			count:    int(directory[4*i+2]),
			value:    int(directory[4*i+3]),
		}
		if err := geoKeys.add(entry, doubleParams, asciiParams); err != nil {
			return nil, fmt.Errorf("key %d: %w", entry.key, err)
		}
	}
	return geoKeys, nil
}

func (k *GeoKeys) add(entry geoKeyEntry, doubleParams []float64, asciiParams []byte) error {
	switch entry.location {
	case 0:
		if entry.count != 1 {
			return errParse
		}
		k.Shorts[entry.key] = entry.value
	case tagGeoDoubleParams:
		switch {
		case entry.count != 1:
			return errors.ErrUnsupported
		case entry.value >= len(doubleParams):
			return errParse
		}
		k.Doubles[entry.key] = doubleParams[entry.value]
	case tagGeoASCIIParams:
		if entry.value+entry.count > len(asciiParams) {
			return errParse
		}
		k.ASCII[entry.key] = strings.TrimSuffix(string(asciiParams[entry.value:entry.value+entry.count]), "|")
	default:
		return errors.ErrUnsupported
	}
	return nil
}

// pixelIsArea checks that k describes a WGS 84 geographic raster and returns
// whether its tie points refer to the corners of pixels rather than their
// centers. An absent CRS is assumed to be WGS 84.
func (k *GeoKeys) pixelIsArea() (bool, error) {
	if modelType := k.Shorts[GeoKeyGTModelType]; modelType != modelTypeGeographic {
		return false, fmt.Errorf("model type %d: %w", modelType, errors.ErrUnsupported)
	}
	if crs, ok := k.Shorts[GeoKeyGeodeticCRS]; ok && crs != crsWGS84 {
		return false, fmt.Errorf("EPSG:%d: %w", crs, errors.ErrUnsupported)
	}
	switch rasterType := k.Shorts[GeoKeyGTRasterType]; rasterType {
	case rasterPixelIsArea:
		return true, nil
	case 0, rasterPixelIsPoint:
		return false, nil
	default:
		return false, fmt.Errorf("raster type %d: %w", rasterType, errParse)
	}
}

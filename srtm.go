package meridian

import (
	"io/fs"
	"slices"
)

// NewSRTM returns a Source for SRTM .hgt tiles in fsys, named like
// N60E030.hgt.
func NewSRTM(fsys fs.FS, options ...FSSourceOption) *FSSource {
	return NewFSSource(fsys, slices.Concat(
		[]FSSourceOption{
			WithTileFilenameFunc(SRTMTileFilename(".hgt")),
		},
		options,
	)...)
}

// NewQuarterGeoTIFF returns a Source for GeoTIFF tiles in fsys in the quarter
// directory layout, e.g. 1/60/30.tif.
func NewQuarterGeoTIFF(fsys fs.FS, options ...FSSourceOption) *FSSource {
	return NewFSSource(fsys, slices.Concat(
		[]FSSourceOption{
			WithTileFilenameFunc(QuarterTileFilename(".tif")),
		},
		options,
	)...)
}

// NewSRTMService returns a new Service for SRTM .hgt tiles in fsys.
func NewSRTMService(fsys fs.FS, options ...TileStoreOption) (*Service, error) {
	return NewService(NewSRTM(fsys), options...)
}

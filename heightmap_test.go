package meridian_test

import (
	"image"
	"testing"
	"testing/fstest"

	"github.com/alecthomas/assert/v2"

	"github.com/meridian-geo/meridian"
	"github.com/meridian-geo/meridian/internal/testtiles"
)

// eastwards returns 2 by 2 samples rising from 0 on a tile's western edge to
// 100 on its eastern edge.
func eastwards(_, col int) int16 {
	return int16(100 * col)
}

func flat(int, int) int16 {
	return 0
}

func TestHeightmap(t *testing.T) {
	fsys := fstest.MapFS{
		"N10E010.hgt": &fstest.MapFile{Data: testtiles.HGT(2, eastwards)},
		"N10E179.hgt": &fstest.MapFile{Data: testtiles.HGT(2, flat)},
		"N10W180.hgt": &fstest.MapFile{Data: testtiles.HGT(2, eastwards)},
	}
	service, _ := newTestService(t, fsys)

	for _, tc := range []struct {
		name     string
		lat1     float64
		lon1     float64
		lat2     float64
		lon2     float64
		size     int
		expected []uint8
	}{
		{
			name: "missing_tile",
			lat1: 10.25, lon1: 10,
			lat2: 10.75, lon2: 12,
			size: 4,
			expected: []uint8{
				0, 255, 0, 0,
				0, 255, 0, 0,
				0, 255, 0, 0,
				0, 255, 0, 0,
			},
		},
		{
			name: "antimeridian",
			lat1: 10.25, lon1: 179.5,
			lat2: 10.75, lon2: -179.5,
			size: 2,
			expected: []uint8{
				0, 255,
				0, 255,
			},
		},
		{
			name: "flat",
			lat1: 10.25, lon1: 179.25,
			lat2: 10.75, lon2: 179.75,
			size: 2,
			expected: []uint8{
				0, 0,
				0, 0,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rect := meridian.RectFromCorners(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			img, err := service.Heightmap(t.Context(), rect, tc.size)
			assert.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, tc.size, tc.size), img.Bounds())
			assert.Equal(t, tc.expected, img.Pix)
		})
	}
}

func TestHeightmapErrors(t *testing.T) {
	service, _ := newTestService(t, testtiles.FS())
	rect := meridian.RectFromCenter(60.5, 30.5, 1000)

	for _, size := range []int{0, -1, meridian.MaxHeightmapSize + 1} {
		_, err := service.Heightmap(t.Context(), rect, size)
		assert.Error(t, err)
	}
}

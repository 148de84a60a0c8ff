// Package testtiles builds small synthetic elevation tiles for tests.
package testtiles

import (
	"encoding/binary"
	"testing/fstest"
)

// Void is the SRTM value for a missing sample.
const Void = -32768

// HGT returns an n by n SRTM .hgt file whose samples are given by sample. Row
// 0 is the northern edge and column 0 is the western edge.
func HGT(n int, sample func(row, col int) int16) []byte {
	data := make([]byte, 2*n*n)
	for row := range n {
		for col := range n {
			i := row*n + col
			binary.BigEndian.PutUint16(data[2*i:2*i+2], uint16(sample(row, col)))
		}
	}
	return data
}

// N60E030 returns the samples of an 11 by 11 tile spanning 60N 30E to 61N 31E
// in steps of 0.1 degrees. It has three plateaus:
//
//	0 around 60.0N 30.0E
//	3 around 60.9N 30.9E
//	62 around 60.5N 30.5E
//
// a void at 60.2N 30.8E, and values between 10 and 80 elsewhere.
func N60E030(row, col int) int16 {
	switch {
	case row >= 9 && col <= 1:
		return 0
	case row <= 2 && col >= 8:
		return 3
	case 4 <= row && row <= 6 && 4 <= col && col <= 6:
		return 62
	case row == 8 && col == 8:
		return Void
	default:
		return int16(10 + 5*row + 2*col)
	}
}

// FS returns a file system containing the tile N60E030.hgt and nothing else.
func FS() fstest.MapFS {
	return fstest.MapFS{
		"N60E030.hgt": &fstest.MapFile{
			Data: HGT(11, N60E030),
		},
	}
}

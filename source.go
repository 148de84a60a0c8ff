package meridian

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// A Source loads tiles from backing storage. Load returns an error matching
// ErrNotFound when there is no data for the tile. The returned tile holds a
// single reference which is owned by the caller.
type Source interface {
	Load(ctx context.Context, id TileID) (*Tile, error)
}

// A SourceFunc is a function that implements Source.
type SourceFunc func(context.Context, TileID) (*Tile, error)

// Load implements Source.
func (f SourceFunc) Load(ctx context.Context, id TileID) (*Tile, error) {
	return f(ctx, id)
}

// A TileFilenameFunc returns the slash-separated filename of the tile id.
type TileFilenameFunc func(id TileID) string

// A Decoder decodes the tile id from file. The decoder takes ownership of file.
type Decoder func(id TileID, file fs.File) (*Tile, error)

// SRTMTileFilename returns a TileFilenameFunc that names tiles like SRTM, e.g.
// N60E030.hgt.
func SRTMTileFilename(ext string) TileFilenameFunc {
	return func(id TileID) string {
		return id.String() + ext
	}
}

// QuarterTileFilename returns a TileFilenameFunc that places tiles in a
// directory per hemisphere quarter and absolute latitude, e.g. 1/60/30.tif.
func QuarterTileFilename(ext string) TileFilenameFunc {
	return func(id TileID) string {
		return fmt.Sprintf("%d/%d/%d%s", id.Quarter(), abs(id.Lat), abs(id.Lon), ext)
	}
}

// An FSSource loads tiles from files in an fs.FS.
type FSSource struct {
	fsys             fs.FS
	tileFilenameFunc TileFilenameFunc
	decoders         map[string]Decoder
}

// An FSSourceOption sets an option on an FSSource.
type FSSourceOption func(*FSSource)

// NewFSSource returns a new FSSource reading tiles from fsys. By default tiles
// are SRTM .hgt files.
func NewFSSource(fsys fs.FS, options ...FSSourceOption) *FSSource {
	s := &FSSource{
		fsys:             fsys,
		tileFilenameFunc: SRTMTileFilename(".hgt"),
		decoders: map[string]Decoder{
			".hgt":  DecodeHGT,
			".tif":  DecodeGeoTIFF(),
			".tiff": DecodeGeoTIFF(),
		},
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// WithDecoder sets the decoder used for files with extension ext.
func WithDecoder(ext string, decoder Decoder) FSSourceOption {
	return func(s *FSSource) {
		s.decoders[strings.ToLower(ext)] = decoder
	}
}

func WithTileFilenameFunc(tileFilenameFunc TileFilenameFunc) FSSourceOption {
	return func(s *FSSource) {
		s.tileFilenameFunc = tileFilenameFunc
	}
}

// Filename returns the filename of the tile id.
func (s *FSSource) Filename(id TileID) string {
	return s.tileFilenameFunc(id)
}

// Load implements Source.
func (s *FSSource) Load(ctx context.Context, id TileID) (*Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filename := s.tileFilenameFunc(id)
	decoder, ok := s.decoders[strings.ToLower(path.Ext(filename))]
	if !ok {
		return nil, fmt.Errorf("%s: %w", filename, errors.ErrUnsupported)
	}
	switch file, err := s.fsys.Open(filename); {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	default:
		tile, err := decoder(id, file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		return tile, nil
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

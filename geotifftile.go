package meridian

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/maypok86/otter/v2"
	"golang.org/x/image/tiff/lzw"
)

const (
	compressionNone = 1
	compressionLZW  = 5

	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

var errShortRead = errors.New("short read")

// A BlockCoord is the column and row of a block within a tiled GeoTIFF.
type BlockCoord struct {
	C int // Column.
	R int // Row.
}

// A geoTIFFFile is the subset of fs.File that GeoTIFF decoding requires.
type geoTIFFFile interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
}

// A GeoTIFFRaster is a Raster backed by an open, tiled, geographic GeoTIFF
// file. Blocks are read and decoded lazily and cached.
type GeoTIFFRaster struct {
	file                       geoTIFFFile
	byteOrder                  binary.ByteOrder
	imageWidth                 int
	imageLength                int
	blockWidth                 int
	blockLength                int
	blocksAcross               int
	blocksDown                 int
	blockOffsets               []uint64
	blockByteCounts            []uint64
	smallestBlockByteCount     uint64
	blockSampleCount           int
	bytesPerSample             int
	sampleFormat               int
	compression                int
	noData                     float64
	hasNoData                  bool
	blockByteCountUncompressed int
	blockCacheSizeBytes        int
	blockCache                 *otter.Cache[BlockCoord, []float32]
	emptyBlockBytes            atomic.Pointer[[]byte]
	geoTransform               GeoTransform
}

type GeoTIFFOption func(*GeoTIFFRaster)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth                uint16    `tiff:"field,tag=256"`
	ImageLength               uint16    `tiff:"field,tag=257"`
	BitsPerSample             uint16    `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint16    `tiff:"field,tag=322"`
	TileLength                uint16    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALMetadata              string    `tiff:"field,tag=42112"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// DecodeGeoTIFF returns a Decoder for GeoTIFF tiles. The decoded tile keeps its
// file open until the tile's last reference is released.
func DecodeGeoTIFF(options ...GeoTIFFOption) Decoder {
	return func(id TileID, file fs.File) (*Tile, error) {
		r, err := NewGeoTIFFRaster(file, options...)
		if err != nil {
			return nil, err
		}
		residentBytes := min(int64(r.blockCacheSizeBytes), int64(4*r.imageWidth*r.imageLength))
		return NewTile(id, r, r.geoTransform, residentBytes, r), nil
	}
}

// NewGeoTIFFRaster returns a new GeoTIFFRaster reading from file. It takes
// ownership of file.
func NewGeoTIFFRaster(file fs.File, options ...GeoTIFFOption) (*GeoTIFFRaster, error) {
	var err error
	ok := false
	defer func() {
		if !ok {
			_ = file.Close()
		}
	}()

	r := &GeoTIFFRaster{
		blockCacheSizeBytes: 64 << 20, // 64MB.
	}
	for _, option := range options {
		option(r)
	}

	f, isGeoTIFFFile := file.(geoTIFFFile)
	if !isGeoTIFFFile {
		return nil, errors.ErrUnsupported
	}
	r.file = f

	header := make([]byte, 2)
	if _, err := r.file.ReadAt(header, 0); err != nil {
		return nil, err
	}
	switch string(header) {
	case "II":
		r.byteOrder = binary.LittleEndian
	case "MM":
		r.byteOrder = binary.BigEndian
	default:
		return nil, fmt.Errorf("%q: invalid byte order", header)
	}

	tiffTIFF, err := tiff.Parse(r.file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}

	if len(tiffTIFF.IFDs()) != 1 {
		return nil, fmt.Errorf("found %d IFDs, expected 1", len(tiffTIFF.IFDs()))
	}

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	switch {
	case ifd.BitsPerSample == 16 && ifd.SampleFormat == sampleFormatInt:
	case ifd.BitsPerSample == 32 && ifd.SampleFormat == sampleFormatFloat:
	default:
		return nil, fmt.Errorf("%d-bit samples of format %d: %w", ifd.BitsPerSample, ifd.SampleFormat, errors.ErrUnsupported)
	}
	if ifd.Compression != compressionNone && ifd.Compression != compressionLZW ||
		ifd.PhotometricInterpretation != 1 ||
		ifd.SamplesPerPixel != 1 ||
		ifd.PlanarConfiguration != 1 ||
		ifd.Predictor > 1 ||
		ifd.TileWidth == 0 || ifd.TileLength == 0 ||
		len(ifd.ModelPixelScaleTag) != 3 ||
		len(ifd.ModelTiepointTag) != 6 {
		return nil, errors.ErrUnsupported
	}

	geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
	if err != nil {
		return nil, err
	}
	pixelIsArea, err := geoKeys.pixelIsArea()
	if err != nil {
		return nil, err
	}

	if noData := strings.Trim(ifd.GDALNoData, " \x00"); noData != "" {
		r.noData, err = strconv.ParseFloat(noData, 64)
		if err != nil {
			return nil, err
		}
		r.hasNoData = true
	}

	r.imageWidth = int(ifd.ImageWidth)
	r.imageLength = int(ifd.ImageLength)
	r.blockWidth = int(ifd.TileWidth)
	r.blockLength = int(ifd.TileLength)
	r.blocksAcross = (r.imageWidth + r.blockWidth - 1) / r.blockWidth
	r.blocksDown = (r.imageLength + r.blockLength - 1) / r.blockLength
	blocksPerImage := r.blocksAcross * r.blocksDown
	if blocksPerImage == 0 || len(ifd.TileByteCounts) != blocksPerImage || len(ifd.TileOffsets) != blocksPerImage {
		return nil, errors.New("incorrect number of tile byte counts or offsets")
	}
	r.blockOffsets = ifd.TileOffsets
	r.blockByteCounts = ifd.TileByteCounts
	r.smallestBlockByteCount = slices.Min(ifd.TileByteCounts)
	r.blockSampleCount = r.blockWidth * r.blockLength
	r.bytesPerSample = int(ifd.BitsPerSample) / 8
	r.sampleFormat = int(ifd.SampleFormat)
	r.compression = int(ifd.Compression)
	r.blockByteCountUncompressed = r.blockSampleCount * r.bytesPerSample

	blockCacheCount := max(r.blockCacheSizeBytes/(4*r.blockSampleCount), 1)
	r.blockCache, err = otter.New(&otter.Options[BlockCoord, []float32]{
		MaximumSize: blockCacheCount,
	})
	if err != nil {
		return nil, err
	}

	scaleX, scaleY := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
	if scaleX <= 0 || scaleY <= 0 {
		return nil, errors.ErrUnsupported
	}
	i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
	if i != 0 || j != 0 {
		return nil, errors.ErrUnsupported
	}
	lon, lat := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
	if pixelIsArea {
		lon += scaleX / 2
		lat -= scaleY / 2
	}
	r.geoTransform = GeoTransform{
		OriginLat: lat,
		OriginLon: lon,
		StepLat:   scaleY,
		StepLon:   scaleX,
	}

	ok = true
	return r, nil
}

func WithBlockCacheSize(blockCacheSizeBytes int) GeoTIFFOption {
	return func(r *GeoTIFFRaster) {
		r.blockCacheSizeBytes = blockCacheSizeBytes
	}
}

func (r *GeoTIFFRaster) Close() error {
	return r.file.Close()
}

// GeoTransform returns r's placement.
func (r *GeoTIFFRaster) GeoTransform() GeoTransform {
	return r.geoTransform
}

// Size implements Raster.
func (r *GeoTIFFRaster) Size() (int, int) {
	return r.imageWidth, r.imageLength
}

// Sample returns a single sample from r.
func (r *GeoTIFFRaster) Sample(ctx context.Context, pixel Pixel) (float64, error) {
	blockCoord, ok := r.blockCoord(pixel)
	if !ok {
		return math.NaN(), nil
	}
	switch blockSamples, err := r.getBlockSamplesCached(ctx, blockCoord); {
	case errors.Is(err, otter.ErrNotFound):
		return math.NaN(), nil
	case err != nil:
		return 0, err
	default:
		return r.blockSample(blockSamples, pixel), nil
	}
}

// Samples implements Raster. It is significantly faster than calling Sample
// for each pixel.
func (r *GeoTIFFRaster) Samples(ctx context.Context, pixels []Pixel) ([]float64, error) {
	samples := make([]float64, len(pixels))

	// Group indexes by block coord.
	indexesByBlockCoord := make(map[BlockCoord][]int)
	for index, pixel := range pixels {
		blockCoord, ok := r.blockCoord(pixel)
		if !ok {
			samples[index] = math.NaN()
			continue
		}
		indexesByBlockCoord[blockCoord] = append(indexesByBlockCoord[blockCoord], index)
	}

	// Populate samples one block at a time.
	for blockCoord, indexes := range indexesByBlockCoord {
		switch blockSamples, err := r.getBlockSamplesCached(ctx, blockCoord); {
		case errors.Is(err, otter.ErrNotFound):
			for _, index := range indexes {
				samples[index] = math.NaN()
			}
		case err != nil:
			return nil, err
		default:
			for _, index := range indexes {
				samples[index] = r.blockSample(blockSamples, pixels[index])
			}
		}
	}

	return samples, nil
}

// getCompressedBlockData returns the compressed data of the block at
// blockCoord. If the block is known to be empty, it returns the error
// otter.ErrNotFound.
func (r *GeoTIFFRaster) getCompressedBlockData(blockCoord BlockCoord) ([]byte, error) {
	blockIndex := blockCoord.C + r.blocksAcross*blockCoord.R
	blockByteCount := r.blockByteCounts[blockIndex]
	blockOffset := r.blockOffsets[blockIndex]
	compressedData := make([]byte, blockByteCount)
	n, err := r.file.ReadAt(compressedData, int64(blockOffset))
	switch emptyBlockBytes := r.emptyBlockBytes.Load(); {
	case n != int(blockByteCount) && err != nil:
		return nil, err
	case n != int(blockByteCount):
		return nil, errShortRead
	case emptyBlockBytes != nil && bytes.Equal(compressedData, *emptyBlockBytes):
		return nil, otter.ErrNotFound
	default:
		return compressedData, nil
	}
}

// decompressBlockData decompresses the block data in compressedData.
func (r *GeoTIFFRaster) decompressBlockData(compressedData []byte) ([]byte, error) {
	if r.compression == compressionNone {
		if len(compressedData) < r.blockByteCountUncompressed {
			return nil, errShortRead
		}
		return compressedData, nil
	}
	blockData := make([]byte, r.blockByteCountUncompressed)
	lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
	defer lzwReader.Close()
	if _, err := io.ReadFull(lzwReader, blockData); err != nil {
		return nil, err
	}
	return blockData, nil
}

// decodeBlockData decodes blockData, replacing no data values with NaNs.
func (r *GeoTIFFRaster) decodeBlockData(blockData []byte) []float32 {
	blockSamples := make([]float32, r.blockSampleCount)
	for i := range r.blockSampleCount {
		var sample float64
		switch r.sampleFormat {
		case sampleFormatInt:
			sample = float64(int16(r.byteOrder.Uint16(blockData[2*i : 2*i+2])))
		case sampleFormatFloat:
			sample = float64(math.Float32frombits(r.byteOrder.Uint32(blockData[4*i : 4*i+4])))
		}
		if r.hasNoData && float32(sample) == float32(r.noData) {
			blockSamples[i] = float32(math.NaN())
		} else {
			blockSamples[i] = float32(sample)
		}
	}
	return blockSamples
}

// getBlockSamples returns the samples of the block at blockCoord.
func (r *GeoTIFFRaster) getBlockSamples(ctx context.Context, blockCoord BlockCoord) ([]float32, error) {
	// Retrieve the compressed block data.
	compressedBlockData, err := r.getCompressedBlockData(blockCoord)
	if err != nil {
		return nil, err
	}

	// Decompress the block data and decode it.
	blockData, err := r.decompressBlockData(compressedBlockData)
	if err != nil {
		return nil, err
	}
	blockSamples := r.decodeBlockData(blockData)

	// If we do not know what an empty block looks like compressed, check to
	// see if this is an empty block, and, if so, use its bytes to detect empty
	// blocks before they are decompressed. We assume that the empty block is
	// the smallest block.
	if r.emptyBlockBytes.Load() == nil && len(compressedBlockData) == int(r.smallestBlockByteCount) {
		isEmptyBlock := true
		for _, sample := range blockSamples {
			if !math.IsNaN(float64(sample)) {
				isEmptyBlock = false
				break
			}
		}
		if isEmptyBlock {
			r.emptyBlockBytes.CompareAndSwap(nil, &compressedBlockData)
			return nil, otter.ErrNotFound
		}
	}

	return blockSamples, nil
}

// getBlockSamplesCached returns the samples of the block at blockCoord using
// r's cache.
func (r *GeoTIFFRaster) getBlockSamplesCached(ctx context.Context, blockCoord BlockCoord) ([]float32, error) {
	return r.blockCache.Get(ctx, blockCoord, otter.LoaderFunc[BlockCoord, []float32](r.getBlockSamples))
}

// blockCoord returns the block coord for a given pixel.
func (r *GeoTIFFRaster) blockCoord(pixel Pixel) (BlockCoord, bool) {
	if pixel.X < 0 || r.imageWidth <= pixel.X || pixel.Y < 0 || r.imageLength <= pixel.Y {
		return BlockCoord{}, false
	}
	return BlockCoord{
		C: pixel.X / r.blockWidth,
		R: pixel.Y / r.blockLength,
	}, true
}

// blockSample returns the sample from blockSamples at pixel.
func (r *GeoTIFFRaster) blockSample(blockSamples []float32, pixel Pixel) float64 {
	return float64(blockSamples[pixel.X%r.blockWidth+(pixel.Y%r.blockLength)*r.blockWidth])
}

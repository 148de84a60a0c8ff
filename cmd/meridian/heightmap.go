package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"github.com/golang/geo/s2"
	"github.com/google/subcommands"

	"github.com/meridian-geo/meridian"
	"github.com/meridian-geo/meridian/internal/config"
	"github.com/meridian-geo/meridian/internal/logger"
)

type heightmapCmd struct {
	lat    float64
	lon    float64
	radius float64
	size   int
}

func (*heightmapCmd) Name() string     { return "heightmap" }
func (*heightmapCmd) Synopsis() string { return "Write a grayscale PNG heightmap around a coordinate." }
func (*heightmapCmd) Usage() string {
	return `heightmap -lat LAT -lon LON [-radius METERS] [-size PIXELS] OUT.png
	Write the elevations within radius of a coordinate as a square grayscale
	image, scaled from the lowest (black) to the highest (white).
`
}

func (c *heightmapCmd) SetFlags(f *flag.FlagSet) {
	f.Float64Var(&c.lat, "lat", math.NaN(), "latitude of the center")
	f.Float64Var(&c.lon, "lon", math.NaN(), "longitude of the center")
	f.Float64Var(&c.radius, "radius", 10000, "radius in meters")
	f.IntVar(&c.size, "size", 512, "width and height in pixels")
}

func (c *heightmapCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	log := args[1].(*logger.Logger)

	if f.NArg() != 1 {
		return failure("expected an output PNG file")
	}
	if !(meridian.Coord{Lat: c.lat, Lon: c.lon}).Valid() {
		return failure("-lat and -lon must be a valid coordinate")
	}
	if c.radius <= 0 {
		return failure("-radius must be positive")
	}

	service, err := newService(conf, log)
	if err != nil {
		return failure("failed to create elevation service: %v", err)
	}
	defer closeService(service, log)

	rect := meridian.RectFromCenter(c.lat, c.lon, c.radius)
	if err := writeHeightmap(ctx, service, rect, c.size, f.Arg(0)); err != nil {
		return failure("failed to write heightmap: %v", err)
	}
	fmt.Printf("wrote %dx%d heightmap to %s\n", c.size, c.size, f.Arg(0))
	return subcommands.ExitSuccess
}

// writeHeightmap writes the heightmap of rect to the PNG file filename,
// creating its directory if needed.
func writeHeightmap(ctx context.Context, service *meridian.Service, rect s2.Rect, size int, filename string) error {
	img, err := service.Heightmap(ctx, rect, size)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	return gg.SavePNG(filename, img)
}

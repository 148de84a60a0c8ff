package main

import (
	"context"
	"flag"
	"fmt"
	"math"

	"github.com/google/subcommands"

	"github.com/meridian-geo/meridian"
	"github.com/meridian-geo/meridian/internal/config"
	"github.com/meridian-geo/meridian/internal/logger"
)

type prefetchCmd struct {
	lat         float64
	lon         float64
	radius      float64
	parallelism int
}

func (*prefetchCmd) Name() string     { return "prefetch" }
func (*prefetchCmd) Synopsis() string { return "Load the tiles around a coordinate." }
func (*prefetchCmd) Usage() string {
	return `prefetch -lat LAT -lon LON [-radius METERS] [-parallelism N]
	Load, and download if a remote URL is configured, every tile within radius
	of a coordinate.
`
}

func (c *prefetchCmd) SetFlags(f *flag.FlagSet) {
	f.Float64Var(&c.lat, "lat", math.NaN(), "latitude of the center")
	f.Float64Var(&c.lon, "lon", math.NaN(), "longitude of the center")
	f.Float64Var(&c.radius, "radius", 10000, "radius in meters")
	f.IntVar(&c.parallelism, "parallelism", 0, "maximum concurrent loads, overrides elevation.parallelism")
}

func (c *prefetchCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	log := args[1].(*logger.Logger)

	if !(meridian.Coord{Lat: c.lat, Lon: c.lon}).Valid() {
		return failure("-lat and -lon must be a valid coordinate")
	}
	if c.radius < 0 {
		return failure("-radius must not be negative")
	}
	parallelism := conf.Elevation.Parallelism
	if c.parallelism > 0 {
		parallelism = c.parallelism
	}

	service, err := newService(conf, log)
	if err != nil {
		return failure("failed to create elevation service: %v", err)
	}
	defer closeService(service, log)

	rect := meridian.RectFromCenter(c.lat, c.lon, c.radius)
	available, err := service.Prefetch(ctx, rect, parallelism)
	if err != nil {
		return failure("failed to prefetch tiles: %v", err)
	}
	fmt.Printf("%d of %d tiles available\n", available, len(meridian.TilesInRect(rect)))
	return subcommands.ExitSuccess
}

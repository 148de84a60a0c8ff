package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/tkrajina/gpxgo/gpx"

	"github.com/meridian-geo/meridian"
	"github.com/meridian-geo/meridian/internal/config"
	"github.com/meridian-geo/meridian/internal/logger"
)

type annotateCmd struct {
	keep bool
}

func (*annotateCmd) Name() string     { return "annotate" }
func (*annotateCmd) Synopsis() string { return "Set the elevations of the points in a GPX file." }
func (*annotateCmd) Usage() string {
	return `annotate [-keep] IN.gpx OUT.gpx
	Set the elevation of every waypoint, route point, and track point in IN.gpx
	and write the result to OUT.gpx.
`
}

func (c *annotateCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.keep, "keep", false, "keep existing elevations where there is no data")
}

func (c *annotateCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	log := args[1].(*logger.Logger)

	if f.NArg() != 2 {
		return failure("expected input and output GPX files")
	}

	g, err := gpx.ParseFile(f.Arg(0))
	if err != nil {
		return failure("failed to parse %s: %v", f.Arg(0), err)
	}

	service, err := newService(conf, log)
	if err != nil {
		return failure("failed to create elevation service: %v", err)
	}
	defer closeService(service, log)

	annotated, missing, err := annotateGPX(ctx, service, g, c.keep)
	if err != nil {
		return failure("failed to annotate %s: %v", f.Arg(0), err)
	}

	data, err := g.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return failure("failed to encode GPX: %v", err)
	}
	if err := os.WriteFile(f.Arg(1), data, 0o666); err != nil {
		return failure("failed to write %s: %v", f.Arg(1), err)
	}
	fmt.Printf("%d points annotated, %d without elevation data\n", annotated, missing)
	return subcommands.ExitSuccess
}

// annotateGPX sets the elevations of all points in g. Points without elevation
// data have their elevation cleared unless keep is set.
func annotateGPX(ctx context.Context, service *meridian.Service, g *gpx.GPX, keep bool) (int, int, error) {
	var points []*gpx.GPXPoint
	for i := range g.Waypoints {
		points = append(points, &g.Waypoints[i])
	}
	for i := range g.Routes {
		for j := range g.Routes[i].Points {
			points = append(points, &g.Routes[i].Points[j])
		}
	}
	for i := range g.Tracks {
		for j := range g.Tracks[i].Segments {
			for k := range g.Tracks[i].Segments[j].Points {
				points = append(points, &g.Tracks[i].Segments[j].Points[k])
			}
		}
	}

	coords := make([]meridian.Coord, len(points))
	for i, point := range points {
		coords[i] = meridian.Coord{Lat: point.Latitude, Lon: point.Longitude}
	}
	results, err := service.Elevations(ctx, coords)
	if err != nil {
		return 0, 0, err
	}

	annotated, missing := 0, 0
	for i, result := range results {
		switch {
		case result.Err == nil:
			points[i].Elevation.SetValue(float64(result.Elevation))
			annotated++
		case errors.Is(result.Err, meridian.ErrNotFound), errors.Is(result.Err, meridian.ErrInvalidCoordinate):
			if !keep {
				points[i].Elevation.SetNull()
			}
			missing++
		}
	}
	return annotated, missing, nil
}

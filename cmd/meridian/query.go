package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"github.com/meridian-geo/meridian"
	"github.com/meridian-geo/meridian/internal/config"
	"github.com/meridian-geo/meridian/internal/logger"
	"github.com/meridian-geo/meridian/wire"
)

type elevationFunc func(ctx context.Context, lat, lon float64) (float32, error)

type queryCmd struct {
	remote string
}

func (*queryCmd) Name() string     { return "query" }
func (*queryCmd) Synopsis() string { return "Print the elevation at one or more coordinates." }
func (*queryCmd) Usage() string {
	return `query [-remote URL] LAT LON [LAT LON...]
	Print the elevation in meters at each coordinate, either from local tiles
	or from a meridian server.
`
}

func (c *queryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.remote, "remote", "", "base URL of a meridian server")
}

func (c *queryCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	log := args[1].(*logger.Logger)

	coords, err := parseCoords(f.Args())
	if err != nil {
		return failure("%v", err)
	}

	var elevation elevationFunc
	if c.remote != "" {
		elevation = func(ctx context.Context, lat, lon float64) (float32, error) {
			return remoteElevation(ctx, c.remote, lat, lon)
		}
	} else {
		service, err := newService(conf, log)
		if err != nil {
			return failure("failed to create elevation service: %v", err)
		}
		defer closeService(service, log)
		elevation = service.Elevation
	}

	return printElevations(ctx, os.Stdout, elevation, coords)
}

// printElevations writes one line per coordinate to w. It fails if any lookup
// failed for a reason other than missing data.
func printElevations(ctx context.Context, w io.Writer, elevation elevationFunc, coords []meridian.Coord) subcommands.ExitStatus {
	status := subcommands.ExitSuccess
	for _, coord := range coords {
		switch value, err := elevation(ctx, coord.Lat, coord.Lon); {
		case err == nil:
			fmt.Fprintf(w, "%g %g %g\n", coord.Lat, coord.Lon, value)
		case errors.Is(err, meridian.ErrNotFound):
			fmt.Fprintf(w, "%g %g not found\n", coord.Lat, coord.Lon)
		default:
			fmt.Fprintf(w, "%g %g error: %v\n", coord.Lat, coord.Lon, err)
			status = subcommands.ExitFailure
		}
	}
	return status
}

func parseCoords(args []string) ([]meridian.Coord, error) {
	if len(args) == 0 || len(args)%2 != 0 {
		return nil, errors.New("expected pairs of latitude and longitude")
	}
	coords := make([]meridian.Coord, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		lat, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return nil, fmt.Errorf("latitude %q: %w", args[i], err)
		}
		lon, err := strconv.ParseFloat(args[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("longitude %q: %w", args[i+1], err)
		}
		coords = append(coords, meridian.Coord{Lat: lat, Lon: lon})
	}
	return coords, nil
}

// remoteElevation queries the raw elevation endpoint of a meridian server.
func remoteElevation(ctx context.Context, baseURL string, lat, lon float64) (float32, error) {
	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	endpoint := strings.TrimSuffix(baseURL, "/") + "/api/elevation/raw?" + query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s: %s", endpoint, response.Status)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, 64))
	if err != nil {
		return 0, err
	}
	code, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid response %q: %w", body, err)
	}
	return wire.Decode(int32(code))
}

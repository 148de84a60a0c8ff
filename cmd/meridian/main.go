package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/subcommands"

	"github.com/meridian-geo/meridian"
	"github.com/meridian-geo/meridian/internal/config"
	"github.com/meridian-geo/meridian/internal/logger"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&queryCmd{}, "")
	subcommands.Register(&serveCmd{}, "")
	subcommands.Register(&prefetchCmd{}, "")
	subcommands.Register(&annotateCmd{}, "")
	subcommands.Register(&heightmapCmd{}, "")
	subcommands.Register(&versionCmd{}, "")

	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	conf, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(conf.LogLevel)
	if err := meridian.EnableLoggerWithHandler(log.Handler()); err != nil {
		log.Warn("failed to enable diagnostic logger", logger.Err(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := subcommands.Execute(ctx, conf, log)
	stop()
	os.Exit(int(status))
}

func loadConfig(configFile string) (*config.Config, error) {
	if configFile == "" {
		return config.New()
	}
	return config.NewFromFile(filepath.Dir(configFile), filepath.Base(configFile))
}

// newService returns a new elevation service configured by conf.
func newService(conf *config.Config, log *logger.Logger) (*meridian.Service, error) {
	tileFilenameFunc := meridian.SRTMTileFilename(".hgt")
	if conf.Elevation.Format == "tif" {
		tileFilenameFunc = meridian.QuarterTileFilename(".tif")
	}

	var source meridian.Source
	if conf.Elevation.RemoteURL != "" {
		source = meridian.NewHTTPSource(conf.Elevation.RemoteURL, conf.Elevation.CacheDir,
			meridian.WithRemoteTileFilenameFunc(tileFilenameFunc),
		)
	} else {
		source = meridian.NewFSSource(os.DirFS(conf.Elevation.DataDir),
			meridian.WithTileFilenameFunc(tileFilenameFunc),
		)
	}

	return meridian.NewService(source,
		meridian.WithCacheSize(conf.Elevation.CacheSize),
		meridian.WithCacheBytes(conf.Elevation.CacheBytes),
		meridian.WithLoadTimeout(conf.Elevation.LoadTimeout),
		meridian.WithLogger(log.Logger),
	)
}

func closeService(service *meridian.Service, log *logger.Logger) {
	if err := service.Close(); err != nil {
		log.Error("failed to close elevation service", logger.Err(err))
	}
}

func failure(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return subcommands.ExitFailure
}

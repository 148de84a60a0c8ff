package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"

	"github.com/meridian-geo/meridian/internal/config"
	"github.com/meridian-geo/meridian/internal/logger"
	"github.com/meridian-geo/meridian/internal/server"
)

type serveCmd struct {
	addr string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "Serve elevations over HTTP." }
func (*serveCmd) Usage() string {
	return `serve [-addr ADDR]
	Serve the elevation API until interrupted.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "", "listen address, overrides server.addr")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	log := args[1].(*logger.Logger)
	if c.addr != "" {
		conf.Server.Addr = c.addr
	}

	service, err := newService(conf, log)
	if err != nil {
		return failure("failed to create elevation service: %v", err)
	}
	defer closeService(service, log)

	s, err := server.New(conf, log, service)
	if err != nil {
		return failure("failed to create server: %v", err)
	}
	if err := s.Run(ctx); err != nil {
		log.Error("server failed", logger.Err(err))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

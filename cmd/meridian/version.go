package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/meridian-geo/meridian"
)

type versionCmd struct{}

func (*versionCmd) Name() string     { return "version" }
func (*versionCmd) Synopsis() string { return "Print the version." }
func (*versionCmd) Usage() string {
	return `version
	Print the version and the binary directory.
`
}

func (*versionCmd) SetFlags(*flag.FlagSet) {}

func (*versionCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	fmt.Printf("meridian %s (%s)\n", meridian.VersionString(), meridian.BinaryDirectory())
	return subcommands.ExitSuccess
}

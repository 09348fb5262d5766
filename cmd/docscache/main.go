package main

import (
	"os"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/gophersatwork/incremental"
	"github.com/gophersatwork/incremental/cmd/docscache/commands"
)

func main() {
	cli := &commands.CLI{}
	ctx := kong.Parse(cli,
		kong.Name("docscache"),
		kong.Description("Inspect and maintain the incremental build cache of a documentation project."),
		kong.UsageOnError(),
		kong.Vars{"version": incremental.PackageVersion},
	)

	err := ctx.Run(&commands.Global{
		Fs:       afero.NewOsFs(),
		Out:      os.Stdout,
		Registry: prom.NewRegistry(),
	}, cli)
	ctx.FatalIfErrorf(err)
}

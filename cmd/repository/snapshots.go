package repository

import (
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/cmd"
)

var snapshotsCommand = &cli.Command{
	Name:   "snapshots",
	Usage:  "lists the snapshots of the repository",
	Action: runSnapshots,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  tagFlagName,
			Usage: "only list snapshots carrying all of the given tags",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print the snapshots as JSON",
		},
	},
}

func runSnapshots(c *cli.Context) error {
	conf, err := cmd.ValidConfig(c)
	if err != nil {
		return err
	}
	e, err := cmd.Engine(c, conf)
	if err != nil {
		return err
	}

	ctx, cancel := cmd.SignalContext(c)
	defer cancel()

	snapshots, err := e.Snapshots(ctx, c.StringSlice(tagFlagName)...)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshots)
	}
	sortNewestFirst(snapshots)
	return printSnapshots(c.App.Writer, snapshots)
}

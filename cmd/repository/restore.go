package repository

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/cmd"
	"github.com/vshn/timevault/engine"
)

var restoreCommand = &cli.Command{
	Name:   "restore",
	Usage:  "restores a snapshot or a path of it into a directory",
	Action: runRestore,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "snapshot",
			Usage: "id or unique prefix of the snapshot, the latest snapshot if empty",
		},
		&cli.StringFlag{
			Name:     "target",
			Required: true,
			Usage:    "directory to restore into",
		},
		&cli.StringFlag{
			Name:  "path",
			Usage: "path inside the snapshot to restore, the whole snapshot if empty",
		},
		&cli.BoolFlag{
			Name:  "overwrite",
			Usage: "overwrite existing files in the target",
		},
	},
}

func runRestore(c *cli.Context) error {
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

	result, err := e.Restore(ctx, engine.RestoreRequest{
		SnapshotID: c.String("snapshot"),
		SourcePath: c.String("path"),
		TargetPath: c.String("target"),
		Overwrite:  c.Bool("overwrite"),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "restored %d files of snapshot %s to %s\n", result.Files, result.SnapshotID, result.Target)
	return err
}

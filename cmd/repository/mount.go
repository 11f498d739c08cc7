package repository

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/cmd"
)

var mountCommand = &cli.Command{
	Name:      "mount",
	Usage:     "serves the repository as a file system until interrupted",
	ArgsUsage: "[mountpoint]",
	Action:    runMount,
}

func runMount(c *cli.Context) error {
	conf, err := cmd.ValidConfig(c)
	if err != nil {
		return err
	}
	e, err := cmd.Engine(c, conf)
	if err != nil {
		return err
	}

	mountpoint := conf.MountPath
	if c.Args().Present() {
		mountpoint = c.Args().First()
	}

	ctx, cancel := cmd.SignalContext(c)
	defer cancel()

	fmt.Fprintf(c.App.Writer, "serving the repository at %s, press Ctrl-C to unmount\n", mountpoint)
	return e.Mount(ctx, mountpoint)
}

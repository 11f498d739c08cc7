package repository

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/cmd"
)

var initCommand = &cli.Command{
	Name:   "init",
	Usage:  "initialises the repository if it doesn't exist yet",
	Action: runInit,
}

var unlockCommand = &cli.Command{
	Name:   "unlock",
	Usage:  "removes stale locks from the repository",
	Action: runUnlock,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "remove-all",
			Usage: "remove all locks, even those that are not stale",
		},
	},
}

var statsCommand = &cli.Command{
	Name:   "stats",
	Usage:  "shows how much data the repository stores",
	Action: runStats,
}

func runInit(c *cli.Context) error {
	conf, err := cmd.ValidConfig(c)
	if err != nil {
		return err
	}
	e, err := cmd.Engine(c, conf)
	if err != nil {
		return err
	}
	i, ok := e.(initializer)
	if !ok {
		return unsupported(e, "initialising repositories")
	}

	ctx, cancel := cmd.SignalContext(c)
	defer cancel()
	return i.Init(ctx)
}

func runUnlock(c *cli.Context) error {
	conf, err := cmd.ValidConfig(c)
	if err != nil {
		return err
	}
	e, err := cmd.Engine(c, conf)
	if err != nil {
		return err
	}
	u, ok := e.(unlocker)
	if !ok {
		return unsupported(e, "unlocking repositories")
	}

	ctx, cancel := cmd.SignalContext(c)
	defer cancel()
	return u.Unlock(ctx, c.Bool("remove-all"))
}

func runStats(c *cli.Context) error {
	conf, err := cmd.ValidConfig(c)
	if err != nil {
		return err
	}
	e, err := cmd.Engine(c, conf)
	if err != nil {
		return err
	}
	s, ok := e.(statsProvider)
	if !ok {
		return unsupported(e, "repository statistics")
	}

	ctx, cancel := cmd.SignalContext(c)
	defer cancel()

	stats, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	tw := newTable(c.App.Writer)
	fmt.Fprintf(tw, "snapshots:\t%d\n", stats.SnapshotsCount)
	fmt.Fprintf(tw, "stored size:\t%s\n", formatBytes(stats.TotalSize))
	fmt.Fprintf(tw, "uncompressed size:\t%s\n", formatBytes(stats.TotalUncompressedSize))
	fmt.Fprintf(tw, "compression ratio:\t%.2fx\n", stats.CompressionRatio)
	fmt.Fprintf(tw, "blobs:\t%d\n", stats.TotalBlobCount)
	return tw.Flush()
}

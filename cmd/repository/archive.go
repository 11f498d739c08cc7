package repository

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/cfg"
	"github.com/vshn/timevault/cmd"
	"github.com/vshn/timevault/s3"
)

var archiveCommand = &cli.Command{
	Name:   "archive",
	Usage:  "uploads a snapshot as tar.gz to the archive bucket",
	Action: runArchive,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "snapshot",
			Usage: "id or unique prefix of the snapshot, the latest snapshot if empty",
		},
	},
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "lists the archives in the archive bucket",
			Action: runArchiveList,
		},
	},
}

func archiveClient(ctx context.Context, conf *cfg.Configuration) (*s3.Client, error) {
	if conf.ArchiveS3Endpoint == "" {
		return nil, fmt.Errorf("no archive s3 endpoint configured")
	}
	client := s3.New(conf.ArchiveS3Endpoint, conf.ArchiveS3AccessKey, conf.ArchiveS3SecretKey)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func runArchive(c *cli.Context) error {
	conf, err := cmd.ValidConfig(c)
	if err != nil {
		return err
	}
	e, err := cmd.Engine(c, conf)
	if err != nil {
		return err
	}
	a, ok := e.(archiver)
	if !ok {
		return unsupported(e, "archiving")
	}

	ctx, cancel := cmd.SignalContext(c)
	defer cancel()

	client, err := archiveClient(ctx, conf)
	if err != nil {
		return err
	}
	name, err := a.Archive(ctx, c.String("snapshot"), client)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "uploaded %s\n", name)
	return err
}

func runArchiveList(c *cli.Context) error {
	conf, err := cmd.ValidConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := cmd.SignalContext(c)
	defer cancel()

	client, err := archiveClient(ctx, conf)
	if err != nil {
		return err
	}
	objects, err := client.ListObjects(ctx)
	if err != nil {
		return err
	}

	tw := newTable(c.App.Writer)
	fmt.Fprintln(tw, "NAME\tMODIFIED\tSIZE")
	for _, o := range objects {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Key, formatTime(o.LastModified), formatBytes(o.Size))
	}
	return tw.Flush()
}

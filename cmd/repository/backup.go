package repository

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/cfg"
	"github.com/vshn/timevault/cmd"
	"github.com/vshn/timevault/orchestrator"
)

var backupCommand = &cli.Command{
	Name:      "backup",
	Usage:     "backs up the configured paths and prunes what the retention policy does not keep",
	ArgsUsage: "[path...]",
	Description: "Without arguments every configured backup set is backed up. " +
		"Paths given as arguments form a single backup set tagged with --tag.",
	Action: runBackup,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  tagFlagName,
			Value: cfg.DefaultTag,
			Usage: "tag of the backup set formed by the paths given as arguments",
		},
		&cli.BoolFlag{
			Name:  dryRunFlagName,
			Usage: "back up, but only report what retention would prune",
		},
		&cli.BoolFlag{
			Name:  "skip-init",
			Usage: "do not initialise the repository if it doesn't exist",
		},
	},
}

func runBackup(c *cli.Context) error {
	conf, err := cmd.ValidConfig(c)
	if err != nil {
		return err
	}
	sets, err := backupSets(c, conf)
	if err != nil {
		return err
	}
	e, err := cmd.Engine(c, conf)
	if err != nil {
		return err
	}

	ctx, cancel := cmd.SignalContext(c)
	defer cancel()

	if i, ok := e.(initializer); ok && !c.Bool("skip-init") {
		if err := i.Init(ctx); err != nil {
			return fmt.Errorf("cannot initialise repository: %w", err)
		}
	}

	o := orchestrator.New(e, cmd.AppLogger(c),
		orchestrator.WithLocker(cmd.Locker(c, conf), conf.Repository),
		orchestrator.WithStatsHandler(cmd.StatsHandler(c, conf)),
		orchestrator.WithDryRun(c.Bool(dryRunFlagName)),
		orchestrator.WithHost(conf.Hostname),
	)

	var errs []error
	for _, set := range sets {
		report, err := o.Run(ctx, set.Paths, set.Policy(conf.Policy), set.Tag)
		if err != nil {
			errs = append(errs, fmt.Errorf("backup set %s: %w", set.Tag, err))
			continue
		}
		printReport(c.App.Writer, set.Tag, report)
	}
	return errors.Join(errs...)
}

func backupSets(c *cli.Context, conf *cfg.Configuration) ([]cfg.BackupSet, error) {
	if c.Args().Present() {
		return []cfg.BackupSet{{Tag: c.String(tagFlagName), Paths: c.Args().Slice()}}, nil
	}
	sets := conf.BackupSets()
	if len(sets) == 0 {
		return nil, fmt.Errorf("no backup paths configured and none given as arguments")
	}
	return sets, nil
}

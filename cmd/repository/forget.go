package repository

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/cmd"
	"github.com/vshn/timevault/orchestrator"
	"github.com/vshn/timevault/retention"
)

var forgetCommand = &cli.Command{
	Name:  "forget",
	Usage: "applies the retention policy without creating a backup",
	Description: "The policy is evaluated for each configured backup set. " +
		"With --tag, only the snapshots carrying all given tags are evaluated.",
	Action: runForget,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  tagFlagName,
			Usage: "evaluate the snapshots carrying all of the given tags instead of the backup sets",
		},
		&cli.BoolFlag{
			Name:  dryRunFlagName,
			Usage: "only print which snapshots would be kept and pruned",
		},
	},
}

// retentionTarget is a group of snapshots the policy is evaluated on.
type retentionTarget struct {
	name   string
	tags   []string
	policy retention.Policy
}

func runForget(c *cli.Context) error {
	conf, err := cmd.ValidConfig(c)
	if err != nil {
		return err
	}
	e, err := cmd.Engine(c, conf)
	if err != nil {
		return err
	}

	var targets []retentionTarget
	switch tags := c.StringSlice(tagFlagName); {
	case len(tags) > 0:
		targets = append(targets, retentionTarget{name: fmt.Sprint(tags), tags: tags, policy: conf.Policy})
	case len(conf.BackupPaths) > 0:
		for _, set := range conf.BackupSets() {
			targets = append(targets, retentionTarget{name: set.Tag, tags: []string{set.Tag}, policy: set.Policy(conf.Policy)})
		}
	default:
		targets = append(targets, retentionTarget{name: "all snapshots", policy: conf.Policy})
	}

	ctx, cancel := cmd.SignalContext(c)
	defer cancel()

	dryRun := c.Bool(dryRunFlagName)
	o := orchestrator.New(e, cmd.AppLogger(c),
		orchestrator.WithLocker(cmd.Locker(c, conf), conf.Repository),
		orchestrator.WithDryRun(dryRun),
	)

	var errs []error
	for _, target := range targets {
		report, err := o.ApplyRetention(ctx, target.policy, target.tags...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.name, err))
			continue
		}
		fmt.Fprintf(c.App.Writer, "%s:\n", target.name)
		if err := printDecision(c.App.Writer, report.Decision); err != nil {
			return err
		}
		if report.Pruned {
			fmt.Fprintf(c.App.Writer, "pruned %d snapshots, reclaimed %s\n", report.Prune.RemovedCount, formatBytes(report.Prune.ReclaimedBytes))
		} else if dryRun {
			fmt.Fprintln(c.App.Writer, "dry run, nothing pruned")
		}
	}
	return errors.Join(errs...)
}

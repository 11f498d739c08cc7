// Package policy contains the commands to inspect retention policies.
package policy

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/cmd"
	"github.com/vshn/timevault/retention"
)

var Command = &cli.Command{
	Name:  "policy",
	Usage: "inspects retention policies",
	Subcommands: []*cli.Command{
		{
			Name:      "validate",
			Usage:     "validates a policy file, or the policy of the configuration if no file is given",
			ArgsUsage: "[file]",
			Action:    validate,
		},
		{
			Name:   "show",
			Usage:  "prints the effective retention policy of the configuration",
			Action: show,
		},
	},
}

func validate(c *cli.Context) error {
	if c.Args().Present() {
		path := c.Args().First()
		if _, err := retention.Load(path); err != nil {
			return err
		}
		_, err := fmt.Fprintf(c.App.Writer, "%s is valid\n", path)
		return err
	}

	conf, err := cmd.Config(c)
	if err != nil {
		return err
	}
	if err := conf.Policy.Validate(); err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, "the configured policy is valid")
	return err
}

func show(c *cli.Context) error {
	conf, err := cmd.Config(c)
	if err != nil {
		return err
	}
	out, err := retention.Marshal(conf.Policy)
	if err != nil {
		return err
	}
	if conf.Policy.KeepsNothing() {
		cmd.Logger(c, "policy").Info("the policy keeps no snapshots, every snapshot of a backup set is pruned")
	}
	_, err = c.App.Writer.Write(out)
	return err
}

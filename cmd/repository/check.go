package repository

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/cmd"
)

var checkCommand = &cli.Command{
	Name:   "check",
	Usage:  "verifies the integrity of the repository",
	Action: runCheck,
}

func runCheck(c *cli.Context) error {
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

	result, err := e.Check(ctx)
	if err != nil {
		return err
	}
	if result.OK {
		fmt.Fprintln(c.App.Writer, "no errors were found")
		return nil
	}
	for _, issue := range result.Issues {
		fmt.Fprintln(c.App.Writer, issue)
	}
	return cli.Exit(fmt.Sprintf("the repository has %d issues", len(result.Issues)), 1)
}

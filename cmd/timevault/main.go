package main

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/cfg"
	"github.com/vshn/timevault/cmd"
	"github.com/vshn/timevault/cmd/daemon"
	"github.com/vshn/timevault/cmd/policy"
	"github.com/vshn/timevault/cmd/repository"
	_ "github.com/vshn/timevault/engine/restic"
)

// Strings are populated by Goreleaser
var (
	version = "snapshot"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	err := app().Run(os.Args)
	if err != nil {
		log.Fatalf("timevault: %v", err)
	}
}

func mainAction(c *cli.Context) error {
	logger, err := cmd.NewLogger(c.Bool(cmd.DebugFlagName))
	if err != nil {
		return fmt.Errorf("cannot create logger: %w", err)
	}
	cmd.SetAppLogger(c, logger)

	cmd.Logger(c, "timevault").V(1).Info("Starting timevault…",
		"version", version,
		"date", date,
		"commit", commit,
		"go_os", runtime.GOOS,
		"go_arch", runtime.GOARCH,
		"go_version", runtime.Version(),
	)
	return nil
}

func app() *cli.App {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("version=%s revision=%s date=%s\n", c.App.Version, commit, date)
	}

	commands := append([]*cli.Command{}, repository.Commands...)
	commands = append(commands, daemon.Command, policy.Command)

	return &cli.App{
		Name:                 "timevault",
		Usage:                "backs up your files with restic and keeps them with a grandfather-father-son retention policy",
		Version:              version,
		EnableBashCompletion: true,
		Before:               mainAction,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        cmd.DebugFlagName,
				Aliases:     []string{"verbose", "d"},
				Usage:       "sets the log level to debug",
				EnvVars:     []string{cfg.EnvPrefix + "DEBUG"},
				DefaultText: "false",
			},
			&cli.StringFlag{
				Name:    cmd.ConfigFlagName,
				Aliases: []string{"c"},
				Usage:   "path to the configuration file",
				Value:   cfg.DefaultConfigFile(),
				EnvVars: []string{cfg.EnvPrefix + "CONFIG"},
			},
		},
		Commands: commands,
	}
}

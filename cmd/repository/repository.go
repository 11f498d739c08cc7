// Package repository contains the commands that operate on the configured repository.
package repository

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/engine"
	"github.com/vshn/timevault/engine/restic"
)

// Commands are the repository commands of the timevault CLI.
var Commands = []*cli.Command{
	backupCommand,
	snapshotsCommand,
	forgetCommand,
	checkCommand,
	restoreCommand,
	mountCommand,
	archiveCommand,
	initCommand,
	unlockCommand,
	statsCommand,
}

const (
	tagFlagName    = "tag"
	dryRunFlagName = "dry-run"
)

type initializer interface {
	Init(ctx context.Context) error
}

type unlocker interface {
	Unlock(ctx context.Context, all bool) error
}

type archiver interface {
	Archive(ctx context.Context, snapshotID string, uploader restic.Uploader) (string, error)
}

type statsProvider interface {
	Stats(ctx context.Context) (restic.RepositoryStats, error)
}

func unsupported(e engine.Engine, operation string) error {
	return fmt.Errorf("the engine %T does not support %s", e, operation)
}

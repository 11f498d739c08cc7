// Package orchestrator runs a backup and applies the retention policy to the
// backup set afterwards.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/vshn/timevault/engine"
	"github.com/vshn/timevault/engine/dto"
	"github.com/vshn/timevault/retention"
)

// Orchestrator composes an engine with the retention evaluator.
// A single Orchestrator must not run concurrently against the same repository,
// use WithLocker to enforce that across processes.
type Orchestrator struct {
	engine  engine.Engine
	log     logr.Logger
	clock   func() time.Time
	stats   StatsHandler
	locker  Locker
	lockKey string
	dryRun  bool
	host    string
}

type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

func WithStatsHandler(h StatsHandler) Option {
	return func(o *Orchestrator) {
		o.stats = h
	}
}

// WithLocker locks key for the duration of every run.
func WithLocker(l Locker, key string) Option {
	return func(o *Orchestrator) {
		o.locker = l
		o.lockKey = key
	}
}

// WithDryRun evaluates the retention policy without pruning.
func WithDryRun(dryRun bool) Option {
	return func(o *Orchestrator) {
		o.dryRun = dryRun
	}
}

func WithHost(host string) Option {
	return func(o *Orchestrator) {
		o.host = host
	}
}

func New(e engine.Engine, log logr.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine: e,
		log:    log.WithName("orchestrator"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Report summarises a run.
type Report struct {
	Backup engine.BackupResult
	// Snapshots is the listing retention was evaluated on.
	Snapshots []dto.Snapshot
	Decision  retention.Decision
	Prune     engine.PruneResult
	// Pruned is false if nothing had to be pruned, the run was a dry run or pruning failed.
	Pruned bool
	// Warnings aggregates the backup warnings and the failures of the retention stage.
	Warnings []string
	Started  time.Time
	Finished time.Time
}

// Run backs up paths and prunes the snapshots carrying all tags that the policy
// does not keep.
//
// A failed backup aborts the run before any snapshot is listed or pruned.
// Once the backup succeeded, failures while listing or pruning are reported
// as warnings and Run returns no error.
func (o *Orchestrator) Run(ctx context.Context, paths []string, policy retention.Policy, tags ...string) (Report, error) {
	log := o.log.WithName("run")

	if len(paths) == 0 {
		return Report{}, errors.New("no paths to back up")
	}
	release, err := o.lock(ctx)
	if err != nil {
		return Report{}, err
	}
	defer release()

	report := Report{Started: o.clock()}

	log.Info("starting backup", "paths", paths, "tags", tags)
	backup, err := o.engine.Backup(ctx, engine.BackupRequest{
		Paths:    paths,
		Excludes: policy.ExcludePatterns,
		Tags:     tags,
		Host:     o.host,
	})
	if err != nil {
		report.Finished = o.clock()
		err = fmt.Errorf("backup failed: %w", err)
		o.sendStats(log, newBackupStats(o.host, paths, tags, report, err))
		return report, err
	}
	report.Backup = backup
	for _, w := range backup.Warnings {
		report.Warnings = append(report.Warnings, w.String())
	}
	if backup.Partial() {
		log.Info("backup completed with warnings", "snapshot", backup.SnapshotID, "warnings", len(backup.Warnings))
	} else {
		log.Info("backup completed", "snapshot", backup.SnapshotID)
	}

	if err := o.retain(ctx, log, policy, tags, report.Started, &report); err != nil {
		log.Error(err, "retention failed, the backup is kept")
		report.Warnings = append(report.Warnings, err.Error())
	}

	report.Finished = o.clock()
	o.sendStats(log, newBackupStats(o.host, paths, tags, report, nil))
	return report, nil
}

// ApplyRetention prunes the snapshots carrying all tags that the policy does
// not keep, without creating a new backup. Slots are relative to the current time.
func (o *Orchestrator) ApplyRetention(ctx context.Context, policy retention.Policy, tags ...string) (Report, error) {
	log := o.log.WithName("retention")

	release, err := o.lock(ctx)
	if err != nil {
		return Report{}, err
	}
	defer release()

	report := Report{Started: o.clock()}
	err = o.retain(ctx, log, policy, tags, report.Started, &report)
	report.Finished = o.clock()
	return report, err
}

func (o *Orchestrator) retain(ctx context.Context, log logr.Logger, policy retention.Policy, tags []string, now time.Time, report *Report) error {
	snapshots, err := o.engine.Snapshots(ctx, tags...)
	if err != nil {
		return fmt.Errorf("cannot list snapshots: %w", err)
	}
	report.Snapshots = snapshots

	report.Decision = retention.Evaluate(snapshots, policy, now)
	for _, s := range report.Decision.Keep {
		log.V(1).Info("keeping snapshot", "id", s.ID, "time", s.Time, "bucket", report.Decision.Reasons[s.ID])
	}
	log.Info("evaluated retention policy", "snapshots", len(snapshots),
		"keep", len(report.Decision.Keep), "prune", len(report.Decision.Prune))

	ids := report.Decision.PruneIDs()
	if len(ids) == 0 {
		return nil
	}
	if o.dryRun {
		log.Info("dry run, not pruning", "ids", ids)
		return nil
	}

	result, err := o.engine.Prune(ctx, ids)
	if err != nil {
		return fmt.Errorf("cannot prune snapshots: %w", err)
	}
	report.Prune = result
	report.Pruned = true
	log.Info("pruned snapshots", "removed", result.RemovedCount, "reclaimed", result.ReclaimedBytes)
	return nil
}

func (o *Orchestrator) lock(ctx context.Context) (func(), error) {
	if o.locker == nil {
		return func() {}, nil
	}
	release, err := o.locker.Lock(ctx, o.lockKey)
	if err != nil {
		return nil, fmt.Errorf("cannot lock repository: %w", err)
	}
	return func() {
		if err := release(); err != nil {
			o.log.Error(err, "cannot release repository lock")
		}
	}, nil
}

func (o *Orchestrator) sendStats(log logr.Logger, stats *BackupStats) {
	if o.stats == nil {
		return
	}
	if err := o.stats.SendWebhook(stats); err != nil {
		log.Error(err, "webhooks couldn't send")
	}
	if err := o.stats.SendPrometheus(stats); err != nil {
		log.Error(err, "prometheus send failed")
	}
}

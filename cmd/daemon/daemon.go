// Package daemon runs the backup sets on their schedule in a long running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/cfg"
	"github.com/vshn/timevault/cmd"
	"github.com/vshn/timevault/orchestrator"
	"github.com/vshn/timevault/retention"
	"github.com/vshn/timevault/scheduler"
)

const shutdownTimeout = 10 * time.Second

var Command = &cli.Command{
	Name:  "daemon",
	Usage: "backs up every backup set on the configured schedule",
	Description: "Serves /metrics, /healthz and /schedules on the metrics bind address. " +
		"POST /schedules/{name}/run starts a run of a backup set immediately.",
	Action: run,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "metrics-bindaddress",
			Usage: "overrides the address the metrics server listens on",
		},
	},
}

type initializer interface {
	Init(ctx context.Context) error
}

func run(c *cli.Context) error {
	conf, err := cmd.ValidConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("metrics-bindaddress"); addr != "" {
		conf.MetricsBindAddress = addr
	}
	sets := conf.BackupSets()
	if len(sets) == 0 {
		return fmt.Errorf("no backup paths configured")
	}
	e, err := cmd.Engine(c, conf)
	if err != nil {
		return err
	}
	log := cmd.Logger(c, "daemon")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s, err := scheduler.New(cmd.AppLogger(c), registry)
	if err != nil {
		return err
	}

	o := orchestrator.New(e, cmd.AppLogger(c),
		orchestrator.WithLocker(cmd.Locker(c, conf), conf.Repository),
		orchestrator.WithStatsHandler(cmd.StatsHandler(c, conf)),
		orchestrator.WithHost(conf.Hostname),
	)
	for _, set := range sets {
		if err := s.SetSchedule(set.Tag, conf.Schedule, backupJob(o, set, conf.Policy, log)); err != nil {
			return fmt.Errorf("cannot schedule backup set %s: %w", set.Tag, err)
		}
	}

	ctx, cancel := cmd.SignalContext(c)
	defer cancel()

	if i, ok := e.(initializer); ok {
		if err := i.Init(ctx); err != nil {
			return fmt.Errorf("cannot initialise repository: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              conf.MetricsBindAddress,
		Handler:           newRouter(ctx, s, registry, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("serving metrics", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
		close(serveErr)
	}()

	s.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "cannot shut down metrics server")
	}
	if err := <-serveErr; err != nil {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

func backupJob(o *orchestrator.Orchestrator, set cfg.BackupSet, base retention.Policy, log logr.Logger) scheduler.Job {
	policy := set.Policy(base)
	return func(ctx context.Context) error {
		report, err := o.Run(ctx, set.Paths, policy, set.Tag)
		if err != nil {
			return err
		}
		log.Info("backup set finished", "set", set.Tag, "snapshot", report.Backup.SnapshotID,
			"keep", len(report.Decision.Keep), "pruned", report.Prune.RemovedCount, "warnings", len(report.Warnings))
		return nil
	}
}

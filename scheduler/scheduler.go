// Package scheduler runs jobs on cron schedules inside a long running process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

var (
	ErrUnknownSchedule = errors.New("unknown schedule")
	ErrAlreadyRunning  = errors.New("schedule is already running")
)

const (
	resultCompleted = "completed"
	resultFailed    = "failed"
	resultSkipped   = "skipped"
)

// Job is the work a schedule runs.
type Job func(ctx context.Context) error

type (
	// Scheduler handles all the schedules.
	// A schedule never runs twice at the same time, a run that is due while the
	// previous run is still active is skipped.
	Scheduler struct {
		cron      *cron.Cron
		schedules sync.Map
		log       logr.Logger
		metrics   *metrics

		mu      sync.Mutex
		baseCtx context.Context
	}
	scheduleRef struct {
		EntryID  cron.EntryID
		Schedule string
		Runnable Job
		running  atomic.Bool
	}
	metrics struct {
		schedules prometheus.Gauge
		runs      *prometheus.CounterVec
		running   *prometheus.GaugeVec
	}
)

// New returns a stopped Scheduler. Its metrics are registered with registerer.
func New(log logr.Logger, registerer prometheus.Registerer) (*Scheduler, error) {
	log = log.WithName("scheduler")
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(log.WithName("cron")),
			cron.WithChain(cron.Recover(log.WithName("cron"))),
		),
		log:     log,
		metrics: m,
		baseCtx: context.Background(),
	}, nil
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		schedules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "timevault",
			Name:      "schedules",
			Help:      "How many schedules are registered",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timevault",
			Name:      "schedule_runs_total",
			Help:      "How many times a schedule was due, by result",
		}, []string{"schedule", "result"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "timevault",
			Name:      "schedule_running",
			Help:      "Whether a run of the schedule is active",
		}, []string{"schedule"}),
	}
	for _, c := range []prometheus.Collector{m.schedules, m.runs, m.running} {
		if err := registerer.Register(c); err != nil {
			return nil, fmt.Errorf("cannot register scheduler metrics: %w", err)
		}
	}
	return m, nil
}

// SetSchedule runs fn on the given cron schedule, replacing any schedule registered under key.
func (s *Scheduler) SetSchedule(key, schedule string, fn Job) error {
	ref := &scheduleRef{
		Schedule: schedule,
		Runnable: fn,
	}
	id, err := s.cron.AddFunc(schedule, func() {
		s.log.Info("running schedule", "cron", schedule, "key", key)
		if err := s.run(s.context(), key, ref); errors.Is(err, ErrAlreadyRunning) {
			s.log.Info("previous run is still active, skipping", "key", key)
		}
	})
	if err != nil {
		return fmt.Errorf("cannot set schedule: %w", err)
	}
	ref.EntryID = id

	if existingRaw, exists := s.schedules.Swap(key, ref); exists {
		s.cron.Remove(existingRaw.(*scheduleRef).EntryID)
	} else {
		s.metrics.schedules.Inc()
	}
	s.log.V(1).Info("set schedule", "cron", schedule, "key", key)
	return nil
}

func (s *Scheduler) RemoveSchedule(key string) {
	raw, loaded := s.schedules.LoadAndDelete(key)
	if !loaded {
		return
	}
	ref := raw.(*scheduleRef)
	s.cron.Remove(ref.EntryID)
	s.metrics.schedules.Dec()
	s.log.V(1).Info("removed schedule", "cron", ref.Schedule, "key", key)
}

func (s *Scheduler) HasSchedule(key string) bool {
	_, loaded := s.schedules.Load(key)
	return loaded
}

// Running reports whether a run of the schedule registered under key is active.
func (s *Scheduler) Running(key string) bool {
	raw, ok := s.schedules.Load(key)
	return ok && raw.(*scheduleRef).running.Load()
}

// Keys returns the keys of all registered schedules.
func (s *Scheduler) Keys() []string {
	var keys []string
	s.schedules.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// RunNow runs the schedule registered under key and waits for it to finish.
// It fails with ErrAlreadyRunning if a run of the schedule is active.
func (s *Scheduler) RunNow(ctx context.Context, key string) error {
	raw, ok := s.schedules.Load(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, key)
	}
	return s.run(ctx, key, raw.(*scheduleRef))
}

func (s *Scheduler) run(ctx context.Context, key string, ref *scheduleRef) error {
	if !ref.running.CompareAndSwap(false, true) {
		s.metrics.runs.WithLabelValues(key, resultSkipped).Inc()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
	}
	defer ref.running.Store(false)

	s.metrics.running.WithLabelValues(key).Set(1)
	defer s.metrics.running.WithLabelValues(key).Set(0)

	if err := ref.Runnable(ctx); err != nil {
		s.metrics.runs.WithLabelValues(key, resultFailed).Inc()
		s.log.Error(err, "schedule failed", "key", key)
		return err
	}
	s.metrics.runs.WithLabelValues(key, resultCompleted).Inc()
	return nil
}

// Start runs the schedules until ctx is cancelled and waits for active runs to finish.
// Runs started by the cron receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info("started scheduler", "schedules", len(s.cron.Entries()))
	<-ctx.Done()

	s.log.Info("stopping scheduler, waiting for active runs")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

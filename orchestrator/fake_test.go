package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/vshn/timevault/engine"
	"github.com/vshn/timevault/engine/dto"
)

var _ engine.Engine = &fakeEngine{}

// fakeEngine keeps the repository in memory and counts the calls it receives.
type fakeEngine struct {
	mu sync.Mutex

	snapshots    []dto.Snapshot
	backupResult engine.BackupResult
	backupErr    error
	listErr      error
	pruneErr     error

	backupCalls int
	listCalls   int
	pruneCalls  int

	lastBackup   engine.BackupRequest
	lastListTags []string
	pruned       []string
}

func (f *fakeEngine) Backup(_ context.Context, req engine.BackupRequest) (engine.BackupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backupCalls++
	f.lastBackup = req
	if f.backupErr != nil {
		return engine.BackupResult{}, f.backupErr
	}
	return f.backupResult, nil
}

func (f *fakeEngine) Snapshots(_ context.Context, tags ...string) ([]dto.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.lastListTags = tags
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []dto.Snapshot
	for _, s := range f.snapshots {
		if s.HasTags(tags...) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeEngine) Prune(_ context.Context, ids []string) (engine.PruneResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCalls++
	if f.pruneErr != nil {
		return engine.PruneResult{}, f.pruneErr
	}

	remove := map[string]bool{}
	var unknown []string
	for _, id := range ids {
		found := false
		for _, s := range f.snapshots {
			if s.ID == id {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, id)
		}
		remove[id] = true
	}
	if len(unknown) > 0 {
		return engine.PruneResult{}, &engine.UnknownSnapshotError{IDs: unknown}
	}

	kept := f.snapshots[:0]
	for _, s := range f.snapshots {
		if !remove[s.ID] {
			kept = append(kept, s)
		}
	}
	f.snapshots = kept
	f.pruned = append(f.pruned, ids...)
	return engine.PruneResult{Removed: ids, RemovedCount: len(ids), ReclaimedBytes: int64(100 * len(ids))}, nil
}

func (f *fakeEngine) Restore(context.Context, engine.RestoreRequest) (engine.RestoreResult, error) {
	return engine.RestoreResult{}, errors.New("not implemented")
}

func (f *fakeEngine) Check(context.Context) (engine.CheckResult, error) {
	return engine.CheckResult{OK: true}, nil
}

func (f *fakeEngine) Mount(ctx context.Context, _ string) error {
	<-ctx.Done()
	return nil
}

type fakeLocker struct {
	err      error
	locked   []string
	released int
}

func (l *fakeLocker) Lock(_ context.Context, key string) (func() error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, key)
	return func() error {
		l.released++
		return nil
	}, nil
}

type fakeStatsHandler struct {
	webhooks [][]byte
	prom     int
	err      error
}

func (h *fakeStatsHandler) SendPrometheus(p PrometheusProvider) error {
	h.prom += len(p.ToProm())
	return h.err
}

func (h *fakeStatsHandler) SendWebhook(w WebhookProvider) error {
	h.webhooks = append(h.webhooks, w.ToJSON())
	return h.err
}

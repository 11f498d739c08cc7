// Package engine defines the contract every snapshot backend has to fulfil.
// Backends register themselves by name and are created with New.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/vshn/timevault/engine/dto"
)

// Engine is a snapshot backend.
type Engine interface {
	// Backup creates a new snapshot of the requested paths.
	// A soft failure (some files could not be read) is not an error, it is reported in BackupResult.Warnings.
	Backup(ctx context.Context, req BackupRequest) (BackupResult, error)
	// Snapshots lists the snapshots of the repository that carry all the given tags.
	Snapshots(ctx context.Context, tags ...string) ([]dto.Snapshot, error)
	// Prune removes the given snapshots and the data only they reference.
	// Every id must be part of the most recent listing.
	Prune(ctx context.Context, ids []string) (PruneResult, error)
	Restore(ctx context.Context, req RestoreRequest) (RestoreResult, error)
	// Check verifies the repository integrity. It never mutates the repository.
	Check(ctx context.Context) (CheckResult, error)
	// Mount blocks until ctx is cancelled or the mount process exits.
	Mount(ctx context.Context, mountpoint string) error
}

type BackupRequest struct {
	Paths    []string
	Excludes []string
	Tags     []string
	Host     string
}

type BackupResult struct {
	SnapshotID          string
	FilesNew            int
	FilesChanged        int
	FilesUnmodified     int
	DirsNew             int
	DirsChanged         int
	DirsUnmodified      int
	BytesAdded          int64
	TotalBytesProcessed int64
	Duration            time.Duration
	Warnings            []SoftBackupWarning
}

// Partial reports whether the backup finished with warnings.
func (r BackupResult) Partial() bool {
	return len(r.Warnings) > 0
}

type PruneResult struct {
	Removed        []string
	RemovedCount   int
	ReclaimedBytes int64
}

type RestoreRequest struct {
	// SnapshotID is a full id or a unique prefix. Empty selects the latest snapshot.
	SnapshotID string
	// SourcePath is the path inside the snapshot. Empty restores the whole snapshot.
	SourcePath string
	TargetPath string
	Overwrite  bool
}

type RestoreResult struct {
	SnapshotID string
	Target     string
	Files      int
}

type CheckResult struct {
	OK     bool
	Issues []string
}

// Options configure an engine instance. Credentials are only ever passed to the
// backend process through its environment.
type Options struct {
	Binary       string
	Repository   string
	Password     string
	PasswordFile string
	CacheDir     string
	Host         string
	// ExtraOptions are passed as backend specific options, e.g. `--option` for restic.
	ExtraOptions []string
	// Env holds additional environment variables, e.g. for the repository storage backend.
	Env map[string]string
	// Timeout bounds backup, prune, restore and check operations. Zero disables it.
	Timeout time.Duration
	// ListTimeout bounds listing operations. Zero disables it.
	ListTimeout time.Duration
	Dir         string
	Logger      logr.Logger
}

// Factory creates an Engine from Options.
type Factory func(opts Options) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes an engine available under the given name.
// It panics if the name is already taken.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("engine %q registered twice", name))
	}
	registry[name] = factory
}

// New creates the engine registered as name.
func New(name string, opts Options) (Engine, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownEngine, name, Names())
	}
	return factory(opts)
}

// Names returns the names of all registered engines in alphabetical order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

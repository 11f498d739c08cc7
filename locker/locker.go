// Package locker serialises mutating runs against a repository with lock files.
package locker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// DefaultTTL is the age after which a lock file is considered stale.
const DefaultTTL = 24 * time.Hour

var ErrLocked = errors.New("repository is locked")

// Locker hands out exclusive locks on keys, usually repository locations.
// A lock is held by a file in the lock directory that is created exclusively.
type Locker struct {
	dir string
	ttl time.Duration
	log logr.Logger

	mu sync.Mutex
	// held maps the keys locked by this process to a channel closed on release.
	held map[string]chan struct{}
}

// New returns a Locker that keeps its lock files in dir.
// Lock files older than ttl or of a process that no longer exists are removed,
// a ttl <= 0 only removes the latter.
func New(dir string, ttl time.Duration, log logr.Logger) *Locker {
	return &Locker{
		dir:  dir,
		ttl:  ttl,
		log:  log.WithName("locker"),
		held: map[string]chan struct{}{},
	}
}

// DefaultDir returns the runtime directory of the user, falling back to the temp directory.
func DefaultDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "timevault")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("timevault-%d", os.Getuid()))
}

// Path returns the lock file of key. The key itself never appears in the file name.
func (l *Locker) Path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(l.dir, "repo-"+hex.EncodeToString(sum[:8])+".lock")
}

// Lock is a held lock.
type Lock struct {
	locker *Locker
	key    string
	path   string
	file   *os.File
	once   sync.Once
}

// Acquire locks key. If a goroutine of this process holds the lock, Acquire
// waits for its release until ctx is done. A lock held by another process
// fails immediately with ErrLocked.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lock, error) {
	path := l.Path(key)
	for {
		l.mu.Lock()
		released, busy := l.held[key]
		if !busy {
			break
		}
		l.mu.Unlock()

		l.log.V(1).Info("waiting for lock held by this process", "path", path)
		select {
		case <-released:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s is held by this process: %w", ErrLocked, path, ctx.Err())
		}
	}
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create lock dir: %w", err)
	}

	file, err := create(path)
	if os.IsExist(err) {
		if err := l.removeStale(path); err != nil {
			return nil, err
		}
		file, err = create(path)
	}
	if os.IsExist(err) {
		return nil, fmt.Errorf("%w: %s was taken by another process", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot create lock file: %w", err)
	}

	if _, err := fmt.Fprintf(file, "%d\n", os.Getpid()); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("cannot write lock file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("cannot sync lock file: %w", err)
	}

	l.held[key] = make(chan struct{})
	l.log.V(1).Info("acquired lock", "path", path)
	return &Lock{locker: l, key: key, path: path, file: file}, nil
}

// Lock acquires key and returns the function releasing it.
func (l *Locker) Lock(ctx context.Context, key string) (func() error, error) {
	lk, err := l.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return lk.Release, nil
}

func (l *Locker) removeStale(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot stat lock file: %w", err)
	}

	age := time.Since(info.ModTime())
	pid := readPID(path)
	exited := pid > 0 && !processExists(pid)
	if !exited && (l.ttl <= 0 || age < l.ttl) {
		if pid > 0 {
			return fmt.Errorf("%w: %s is held by pid %d", ErrLocked, path, pid)
		}
		return fmt.Errorf("%w: %s", ErrLocked, path)
	}

	l.log.Info("removing stale lock", "path", path, "age", age.Round(time.Second), "pid", pid, "exited", exited)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove stale lock file: %w", err)
	}
	return nil
}

// Release removes the lock file. Releasing twice is a no-op.
func (lk *Lock) Release() error {
	var errs []error
	lk.once.Do(func() {
		if err := lk.file.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := os.Remove(lk.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}

		lk.locker.mu.Lock()
		if released, ok := lk.locker.held[lk.key]; ok {
			close(released)
			delete(lk.locker.held, lk.key)
		}
		lk.locker.mu.Unlock()
		lk.locker.log.V(1).Info("released lock", "path", lk.path)
	})
	if len(errs) > 0 {
		return fmt.Errorf("cannot release lock: %w", errors.Join(errs...))
	}
	return nil
}

func (lk *Lock) Path() string {
	return lk.path
}

func create(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

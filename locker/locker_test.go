package locker

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const repository = "s3:https://s3.example.com/backups"

func newLocker(t *testing.T, ttl time.Duration) *Locker {
	return New(t.TempDir(), ttl, zapr.NewLogger(zaptest.NewLogger(t)))
}

func TestLocker_Acquire(t *testing.T) {
	l := newLocker(t, DefaultTTL)

	lk, err := l.Acquire(context.Background(), repository)
	require.NoError(t, err)

	data, err := os.ReadFile(lk.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))
	assert.NotContains(t, lk.Path(), "s3.example.com")

	require.NoError(t, lk.Release())
	assert.NoFileExists(t, lk.Path())
	assert.NoError(t, lk.Release(), "releasing twice")
}

func TestLocker_AcquireTwice(t *testing.T) {
	l := newLocker(t, DefaultTTL)

	lk, err := l.Acquire(context.Background(), repository)
	require.NoError(t, err)
	defer lk.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, repository)
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Acquire(context.Background(), "/srv/other-repository")
	require.NoError(t, err, "other keys are independent")
	assert.NoError(t, other.Release())
}

func TestLocker_HeldByOtherProcess(t *testing.T) {
	runningPID := os.Getppid()
	tests := map[string]struct {
		givenTTL     time.Duration
		givenAge     time.Duration
		givenPID     int
		expectLocked bool
	}{
		"GivenFreshLock_ExpectLocked": {
			givenTTL:     time.Hour,
			givenAge:     time.Minute,
			givenPID:     runningPID,
			expectLocked: true,
		},
		"GivenStaleLock_ExpectAcquired": {
			givenTTL: time.Hour,
			givenAge: 2 * time.Hour,
			givenPID: runningPID,
		},
		"GivenNoTTL_ExpectLockedForever": {
			givenTTL:     0,
			givenAge:     1000 * time.Hour,
			givenPID:     runningPID,
			expectLocked: true,
		},
		"GivenFreshLockOfExitedProcess_ExpectAcquired": {
			givenTTL: DefaultTTL,
			givenAge: time.Minute,
			givenPID: exitedPID(t),
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			l := newLocker(t, tt.givenTTL)
			path := l.Path(repository)
			require.NoError(t, os.MkdirAll(l.dir, 0o700))
			require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(tt.givenPID)+"\n"), 0o600))
			modTime := time.Now().Add(-tt.givenAge)
			require.NoError(t, os.Chtimes(path, modTime, modTime))

			lk, err := l.Acquire(context.Background(), repository)

			if tt.expectLocked {
				assert.ErrorIs(t, err, ErrLocked)
				assert.ErrorContains(t, err, "pid "+strconv.Itoa(tt.givenPID))
				assert.FileExists(t, path)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, lk.Release())
		})
	}
}

func TestLocker_Lock(t *testing.T) {
	l := newLocker(t, DefaultTTL)

	release, err := l.Lock(context.Background(), repository)
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		release, err := l.Lock(context.Background(), repository)
		if err == nil {
			err = release()
		}
		acquired <- err
	}()

	select {
	case err := <-acquired:
		t.Fatalf("lock was acquired while held: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, release())
	select {
	case err := <-acquired:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiting run did not get the lock after release")
	}
}

// exitedPID returns the pid of a process that has already exited.
func exitedPID(t *testing.T) int {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

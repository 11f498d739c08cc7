package restic

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/vshn/timevault/engine/logging"
)

// Init initialises a repository, checks if the repositor exists and will
// initialise it if not. It's save to call this every time.
func (r *Restic) Init(ctx context.Context) error {
	r.opLock.Lock()
	defer r.opLock.Unlock()

	initLogger := r.logger.WithName("RepoInit")
	resticLogger := initLogger.WithName("restic")

	initErrorCatcher := &initStdErrWrapper{
		Writer: logging.NewErrorWriter(resticLogger),
	}

	cmd := r.newCommand(ctx, initLogger, r.opts.Timeout, r.globalFlags.ApplyToCommand("init"),
		logging.NewInfoWriter(resticLogger), initErrorCatcher)
	cmd.Run()

	if initErrorCatcher.repositoryExists() {
		initLogger.Info("repository already initialised")
		return nil
	}
	return executionError("init", cmd)
}

type initStdErrWrapper struct {
	mu     sync.Mutex
	exists bool
	io.Writer
}

func (i *initStdErrWrapper) Write(p []byte) (n int, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(p))

	// array of acceptable errors to attempt to continue
	okErrorArray := []string{"already initialized", "already exists"}

	for scanner.Scan() {
		for _, errorString := range okErrorArray {
			if strings.Contains(scanner.Text(), errorString) {
				i.mu.Lock()
				i.exists = true
				i.mu.Unlock()
				return len(p), nil
			}
		}
	}

	return i.Writer.Write(p)
}

func (i *initStdErrWrapper) repositoryExists() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exists
}

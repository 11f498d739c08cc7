// Package restic implements engine.Engine on top of the restic binary.
package restic

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/vshn/timevault/engine"
	"github.com/vshn/timevault/engine/command"
	"github.com/vshn/timevault/engine/dto"
	"github.com/vshn/timevault/engine/logging"
)

// Name is the name the adapter is registered with.
const Name = "restic"

// Exit codes of restic, see https://restic.readthedocs.io/en/stable/075_scripting.html#exit-codes
const (
	exitOK         = 0
	exitFatal      = 1
	exitIncomplete = 3
)

// ambientEnv lists the variables taken over from the parent environment.
var ambientEnv = []string{"PATH", "HOME", "TMPDIR"}

func init() {
	engine.Register(Name, func(opts engine.Options) (engine.Engine, error) {
		return New(opts)
	})
}

type Restic struct {
	resticPath string
	logger     logr.Logger
	opts       engine.Options

	// globalFlags are applied to all invocations of restic
	globalFlags Flags
	env         map[string]string

	// opLock serialises mutating operations against read-only ones.
	opLock sync.RWMutex

	snapMu    sync.Mutex
	snapshots []dto.Snapshot
	listed    bool
}

var _ engine.Engine = &Restic{}

// New returns a new Restic reference
func New(opts engine.Options) (*Restic, error) {
	if opts.Repository == "" {
		return nil, fmt.Errorf("repository must be set")
	}
	hasPasswordCommand := opts.Env["RESTIC_PASSWORD_COMMAND"] != ""
	if opts.Password != "" && opts.PasswordFile != "" {
		return nil, fmt.Errorf("only one of password and password file may be set")
	}
	if opts.Password == "" && opts.PasswordFile == "" && !hasPasswordCommand {
		return nil, fmt.Errorf("one of password, password file or RESTIC_PASSWORD_COMMAND must be set")
	}

	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	resticPath := opts.Binary
	if resticPath == "" {
		resticPath = "restic"
	}

	globalFlags := Flags{}
	if len(opts.ExtraOptions) > 0 {
		logger.Info("using the following restic options", "options", opts.ExtraOptions)
		globalFlags.AddFlag("--option", opts.ExtraOptions...)
	}

	r := &Restic{
		resticPath:  resticPath,
		logger:      logger.WithName("restic"),
		opts:        opts,
		globalFlags: globalFlags,
	}
	r.env = r.environment()
	return r, nil
}

// environment builds the complete environment of every restic process.
// Nothing else of the parent environment is passed on.
func (r *Restic) environment() map[string]string {
	env := map[string]string{}
	for _, key := range ambientEnv {
		if value, ok := os.LookupEnv(key); ok {
			env[key] = value
		}
	}
	for key, value := range r.opts.Env {
		env[key] = value
	}

	env["RESTIC_REPOSITORY"] = r.opts.Repository
	delete(env, "RESTIC_PASSWORD")
	delete(env, "RESTIC_PASSWORD_FILE")
	switch {
	case r.opts.Password != "":
		env["RESTIC_PASSWORD"] = r.opts.Password
	case r.opts.PasswordFile != "":
		env["RESTIC_PASSWORD_FILE"] = r.opts.PasswordFile
	}
	if r.opts.CacheDir != "" {
		env["RESTIC_CACHE_DIR"] = r.opts.CacheDir
	}
	r.setResticProgressFPSIfNotDefined(env)
	return env
}

func (r *Restic) setResticProgressFPSIfNotDefined(env map[string]string) {
	if _, ok := env["RESTIC_PROGRESS_FPS"]; ok {
		return
	}

	const frequency = 1.0 / 60.0
	r.logger.V(1).Info("Defining RESTIC_PROGRESS_FPS", "frequency", frequency)
	env["RESTIC_PROGRESS_FPS"] = fmt.Sprintf("%f", frequency)
}

// newCommand prepares a restic invocation with the adapter's environment.
func (r *Restic) newCommand(ctx context.Context, log logr.Logger, timeout time.Duration, args []string, stdout, stderr io.Writer, softExitCodes ...int) *command.Command {
	return command.NewCommand(ctx, log, command.Options{
		Path:          r.resticPath,
		Args:          args,
		Env:           r.env,
		Dir:           r.opts.Dir,
		Timeout:       timeout,
		StdOut:        stdout,
		StdErr:        stderr,
		SoftExitCodes: softExitCodes,
	})
}

// executionError translates the outcome of a finished command into an engine.ExecutionError.
func executionError(name string, cmd *command.Command) error {
	if cmd.FatalError == nil {
		return nil
	}
	return &engine.ExecutionError{
		Command:    name,
		ExitCode:   cmd.ExitCode,
		StderrTail: cmd.StderrTail(),
		Err:        cmd.FatalError,
	}
}

// consume hands everything written to the returned writer to fn, which runs
// in its own goroutine. wait closes the writer and blocks until fn returned.
// Whatever fn leaves unread is discarded, so the writing process never blocks.
func consume(fn func(io.Reader)) (w io.Writer, wait func()) {
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(pr)
		_, _ = io.Copy(io.Discard, pr)
	}()
	return pw, func() {
		_ = pw.Close()
		<-done
	}
}

// consumeLines is consume for line based output.
func consumeLines(fn func(*logging.Stream)) (io.Writer, func()) {
	return consume(func(r io.Reader) {
		fn(logging.NewStream(r))
	})
}

// lastListing returns a copy of the snapshots of the most recent listing.
func (r *Restic) lastListing() ([]dto.Snapshot, bool) {
	r.snapMu.Lock()
	defer r.snapMu.Unlock()

	return append([]dto.Snapshot(nil), r.snapshots...), r.listed
}

func (r *Restic) setListing(snapshots []dto.Snapshot) {
	r.snapMu.Lock()
	defer r.snapMu.Unlock()

	r.snapshots = snapshots
	r.listed = true
}

// forgetListed removes the given ids from the last listing.
func (r *Restic) forgetListed(ids []string) {
	r.snapMu.Lock()
	defer r.snapMu.Unlock()

	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		removed[id] = true
	}
	kept := r.snapshots[:0:0]
	for _, s := range r.snapshots {
		if !removed[s.ID] {
			kept = append(kept, s)
		}
	}
	r.snapshots = kept
}

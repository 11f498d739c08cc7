package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-logr/logr"
)

// DefaultKillGrace is the time a process group gets between the termination
// signal and SIGKILL.
const DefaultKillGrace = 10 * time.Second

// Options contains options for the command struct.
type Options struct {
	Path    string            // path to the executable
	Args    []string          // arguments, without the executable itself
	Env     map[string]string // complete environment of the child, nothing is inherited
	Dir     string            // working directory
	Timeout time.Duration     // zero means the command may run until the context is done
	StdIn   io.Reader         // set the StdIn for the command
	StdOut  io.Writer         // set the StdOut for the command
	StdErr  io.Writer         // set StdErr for the command

	// SoftExitCodes are non-zero exit codes that don't result in a FatalError.
	SoftExitCodes []int
	// Interrupt sends SIGINT instead of SIGTERM to the process group on cancellation.
	Interrupt bool
	// KillGrace overrides DefaultKillGrace.
	KillGrace time.Duration
}

// ExitError is set as FatalError when the process exited with a code that
// is not listed in Options.SoftExitCodes.
type ExitError struct {
	Path       string
	ExitCode   int
	StderrTail string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", filepath.Base(e.Path), e.ExitCode)
}

// Command can handle a given command.
type Command struct {
	options    Options
	FatalError error
	ExitCode   int
	cmdLogger  logr.Logger
	ctx        context.Context
	runCtx     context.Context
	cancel     context.CancelFunc
	cmd        *exec.Cmd
	stderrTail *TailBuffer
}

// NewCommand returns a new command
func NewCommand(ctx context.Context, log logr.Logger, options Options) *Command {
	return &Command{
		options:    options,
		cmdLogger:  log.WithName("command"),
		ctx:        ctx,
		stderrTail: NewTailBuffer(DefaultTailLines, DefaultTailBytes),
	}
}

// Run will run the currently configured command and wait for its completion.
func (c *Command) Run() {

	c.Configure()

	c.Start()

	c.Wait()

}

// Configure will setup the command object.
// Mainly set the env vars and wire the right stdins/outs.
func (c *Command) Configure() {
	c.cmdLogger.V(1).Info("running command", "path", c.options.Path, "args", c.options.Args, "dir", c.options.Dir)

	c.runCtx = c.ctx
	if c.options.Timeout > 0 {
		c.runCtx, c.cancel = context.WithTimeout(c.ctx, c.options.Timeout)
	}

	c.cmd = exec.CommandContext(c.runCtx, c.options.Path, c.options.Args...)
	c.cmd.Env = c.environment()
	c.cmd.Dir = c.options.Dir

	if c.options.StdIn != nil {
		c.cmd.Stdin = c.options.StdIn
	}

	if c.options.StdOut != nil {
		c.cmd.Stdout = c.options.StdOut
	}

	if c.options.StdErr != nil {
		c.cmd.Stderr = io.MultiWriter(c.options.StdErr, c.stderrTail)
	} else {
		c.cmd.Stderr = c.stderrTail
	}

	grace := c.options.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	setProcessGroup(c.cmd, c.options.Interrupt, grace)
}

// environment returns the env of the child sorted by key. An empty slice
// (instead of nil) makes sure that exec doesn't fall back to os.Environ().
func (c *Command) environment() []string {
	keys := make([]string, 0, len(c.options.Env))
	for key := range c.options.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+c.options.Env[key])
	}
	return env
}

// Start starts the specified command but does not wait for it to complete.
func (c *Command) Start() {
	if c.cmd == nil {
		c.FatalError = fmt.Errorf("command not configured")
		return
	}
	err := c.cmd.Start()
	if err != nil {
		c.ExitCode = -1
		c.FatalError = fmt.Errorf("cmd.Start() err: %w", err)
		return
	}
}

// Wait waits for the command to exit and waits for any copying to stdin or copying from stdout or stderr to complete.
func (c *Command) Wait() {
	if c.cancel != nil {
		defer c.cancel()
	}

	if c.cmd == nil {
		c.FatalError = fmt.Errorf("command not configured")
		return
	}

	if c.cmd.Process == nil {
		if c.FatalError == nil {
			c.FatalError = fmt.Errorf("the process did not start, please check if execution bit is set")
		}
		return
	}

	err := c.cmd.Wait()
	if err == nil {
		return
	}

	// A done context takes precedence: the exit status of a killed process
	// group says nothing about the engine itself.
	if ctxErr := c.runCtx.Err(); ctxErr != nil {
		c.ExitCode = -1
		c.FatalError = fmt.Errorf("command interrupted: %w", ctxErr)
		return
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		c.ExitCode = exitErr.ExitCode()
		if c.isSoft(c.ExitCode) {
			c.cmdLogger.V(1).Info("command finished with soft exit code", "code", c.ExitCode)
			return
		}
		c.FatalError = &ExitError{
			Path:       c.options.Path,
			ExitCode:   c.ExitCode,
			StderrTail: c.stderrTail.String(),
		}
		return
	}

	c.ExitCode = -1
	c.FatalError = fmt.Errorf("cmd.Wait() err: %w", err)
}

// StderrTail returns the last lines the process wrote to stderr.
func (c *Command) StderrTail() string {
	return c.stderrTail.String()
}

func (c *Command) isSoft(code int) bool {
	for _, soft := range c.options.SoftExitCodes {
		if soft == code {
			return true
		}
	}
	return false
}

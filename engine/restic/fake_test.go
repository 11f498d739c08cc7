package restic

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/go-logr/zapr"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vshn/timevault/engine"
)

// fakeCommand describes how the fake restic binary answers one subcommand.
type fakeCommand struct {
	stdout string
	stderr string
	exit   int
	// script replaces stdout, stderr and exit with arbitrary shell code.
	script string
}

// fakeRestic is a shell script standing in for the restic binary.
// It records every invocation and the environment it was started with.
type fakeRestic struct {
	dir     string
	bin     string
	callLog string
	envLog  string
}

func newFakeRestic(t *testing.T, commands map[string]fakeCommand) *fakeRestic {
	t.Helper()
	dir := t.TempDir()
	f := &fakeRestic{
		dir:     dir,
		bin:     filepath.Join(dir, "restic"),
		callLog: filepath.Join(dir, "calls.log"),
		envLog:  filepath.Join(dir, "env.log"),
	}

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	b := &strings.Builder{}
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(b, "printf '%%s\\n' \"$*\" >> '%s'\n", f.callLog)
	fmt.Fprintf(b, "env > '%s'\n", f.envLog)
	b.WriteString("case \"$1\" in\n")
	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(b, "%s)\n", name)
		if c.script != "" {
			b.WriteString(c.script + "\n")
		} else {
			if c.stdout != "" {
				fmt.Fprintf(b, "cat <<'STDOUT_EOF'\n%s\nSTDOUT_EOF\n", c.stdout)
			}
			if c.stderr != "" {
				fmt.Fprintf(b, "cat >&2 <<'STDERR_EOF'\n%s\nSTDERR_EOF\n", c.stderr)
			}
			fmt.Fprintf(b, "exit %d\n", c.exit)
		}
		b.WriteString(";;\n")
	}
	b.WriteString("*)\necho \"unexpected command $1\" >&2\nexit 99\n;;\nesac\n")

	require.NoError(t, os.WriteFile(f.bin, []byte(b.String()), 0o755))
	return f
}

// calls returns the argument lists the fake binary was invoked with.
func (f *fakeRestic) calls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.callLog)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func (f *fakeRestic) env(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.envLog)
	require.NoError(t, err)
	return string(data)
}

func (f *fakeRestic) newRestic(t *testing.T) *Restic {
	t.Helper()
	r, err := New(engine.Options{
		Binary:     f.bin,
		Repository: "s3:https://s3.example.com/backups",
		Password:   "correct horse battery staple",
		Host:       "laptop",
		Logger:     zapr.NewLogger(zaptest.NewLogger(t)),
	})
	require.NoError(t, err)
	return r
}

const snapshotListing = `[
  {"time":"2024-03-10T11:30:00.123456789+01:00","tree":"t1","paths":["/home/u/docs"],"hostname":"laptop","username":"u","tags":["daily","docs"],"id":"aaaa1111aaaa1111","short_id":"aaaa1111","summary":{"total_bytes_processed":2048}},
  {"time":"2024-03-10T09:00:00Z","tree":"t2","paths":["/home/u/docs"],"hostname":"laptop","tags":["daily"],"id":"bbbb2222bbbb2222","short_id":"bbbb2222"},
  {"time":"2024-03-09T09:00:00Z","paths":["/home/u/docs"],"hostname":"laptop","tags":["docs"]},
  {"time":"2024-03-08T09:00:00Z","paths":["/home/u/docs"],"hostname":"laptop","tags":["daily","docs"],"id":"cccc3333cccc3333","short_id":"cccc3333"}
]`

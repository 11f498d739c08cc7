package restic

import "sort"

// Flags are the global flags of every restic invocation, keyed by flag name.
// A flag without values is passed as a switch, a flag with several values is repeated.
type Flags map[string][]string

// AddFlag appends values to the flag key, adding the flag if it is not set yet.
func (f Flags) AddFlag(key string, values ...string) {
	f[key] = append(f[key], values...)
}

// ApplyToCommand returns the argument list `command flags... commandArgs...`.
// Flags are sorted by name so that the argument list is stable.
func (f Flags) ApplyToCommand(command string, commandArgs ...string) []string {
	args := make([]string, 0, 1+2*len(f)+len(commandArgs))
	if command != "" {
		args = append(args, command)
	}

	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		values := f[name]
		if len(values) == 0 {
			args = append(args, name)
			continue
		}
		for _, v := range values {
			args = append(args, name, v)
		}
	}
	return append(args, commandArgs...)
}

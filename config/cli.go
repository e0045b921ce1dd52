package config

import (
	"flag"
	"strings"
)

// Cli holds the invocation-level options of the worker binary. Everything
// else comes from the environment (see FromEnv) or the optional config file.
type Cli struct {
	TaskID            string
	APIKey            string
	ConfigFile        string
	Verbosity         string
	Debug             bool
	Reconcile         bool
	PromPort          int
	ProbeIgnoreErrors []string
}

// CommaSliceFlag registers a flag that splits its value on commas.
func CommaSliceFlag(fs *flag.FlagSet, dest *[]string, name string, value []string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if s == "" {
			*dest = []string{}
			return nil
		}
		*dest = strings.Split(s, ",")
		return nil
	})
}

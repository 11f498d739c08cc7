package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/vshn/timevault/cfg"
	"github.com/vshn/timevault/engine"
	"github.com/vshn/timevault/locker"
	"github.com/vshn/timevault/stats"
)

const (
	ConfigFlagName = "config"
	DebugFlagName  = "debug"
)

// Config loads the configuration from the file given by the config flag.
// The default file is optional, a file that was set explicitly has to exist.
func Config(c *cli.Context) (*cfg.Configuration, error) {
	path := c.String(ConfigFlagName)
	return cfg.Load(path, !c.IsSet(ConfigFlagName), Logger(c, "config"))
}

// ValidConfig loads the configuration and validates it.
func ValidConfig(c *cli.Context) (*cfg.Configuration, error) {
	conf, err := Config(c)
	if err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return conf, nil
}

// Engine creates the engine selected in the configuration.
func Engine(c *cli.Context, conf *cfg.Configuration) (engine.Engine, error) {
	return engine.New(conf.Engine, conf.EngineOptions(Logger(c, "engine")))
}

// Locker returns the locker guarding the repositories against concurrent runs.
func Locker(c *cli.Context, conf *cfg.Configuration) *locker.Locker {
	return locker.New(conf.LockDir, conf.LockTTL, AppLogger(c))
}

// StatsHandler returns the handler sending run statistics to the configured push gateway and webhook.
func StatsHandler(c *cli.Context, conf *cfg.Configuration) *stats.Handler {
	return stats.NewHandler(conf.PromURL, conf.Hostname, conf.WebhookURL, AppLogger(c))
}

// SignalContext returns a context that is cancelled on SIGINT or SIGTERM.
func SignalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	parent := c.Context
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

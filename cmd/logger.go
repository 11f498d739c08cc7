package cmd

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const loggerMetadataKeyName = "logger"

// AppLogger retrieves the application-wide logger instance from the cli.Context's Metadata.
// This function will return nil if SetAppLogger was not called before this function is called.
func AppLogger(c *cli.Context) logr.Logger {
	return c.App.Metadata[loggerMetadataKeyName].(logr.Logger)
}

// SetAppLogger stores the application-wide logger instance to the cli.Context's Metadata,
// so that it can later be retrieved by AppLogger.
func SetAppLogger(c *cli.Context, logger logr.Logger) {
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[loggerMetadataKeyName] = logger
}

// Logger returns the application-wide logger with the given name.
func Logger(c *cli.Context, name string) logr.Logger {
	return AppLogger(c).WithName(name)
}

// NewLogger returns a console logger writing to stderr.
// With debug, V(1) messages are logged as well.
func NewLogger(debug bool) (logr.Logger, error) {
	conf := zap.NewDevelopmentConfig()
	conf.DisableStacktrace = !debug
	conf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !debug {
		conf.Development = false
		conf.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	zl, err := conf.Build()
	if err != nil {
		return logr.Discard(), err
	}
	return zapr.NewLogger(zl), nil
}

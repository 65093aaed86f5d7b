package config

import (
	"io"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/compact-memory/logging"
)

// Logger holds the logging flags.
type Logger struct {
	level   string
	format  string
	output  string
	noColor bool
}

// Flags returns CLI flags for logging.
func (l *Logger) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Aliases:     []string{"l"},
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("COMPACTMEM_LOG_LEVEL"),
			Destination: &l.level,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("COMPACTMEM_LOG_FORMAT"),
			Destination: &l.format,
		},
		&cli.StringFlag{
			Name:        "log-output",
			Usage:       "Log destination: '-' for stderr or a file path",
			Value:       "-",
			Sources:     cli.EnvVars("COMPACTMEM_LOG_OUTPUT"),
			Destination: &l.output,
		},
		&cli.BoolFlag{
			Name:        "log-no-color",
			Usage:       "Disable colored console logs",
			Sources:     cli.EnvVars("NO_COLOR"),
			Destination: &l.noColor,
		},
	}
}

// LogValue implements slog.LogValuer.
func (l *Logger) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("level", l.level),
		slog.String("format", l.format),
		slog.String("output", l.output),
	)
}

// Configure installs the process logger. The returned func closes the
// log file, if any.
func (l *Logger) Configure() (func(), error) {
	var w io.Writer = os.Stderr
	closer := func() {}
	if l.output != "" && l.output != "-" {
		f, err := os.OpenFile(l.output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open log file", goerr.V("path", l.output))
		}
		w = f
		closer = func() { _ = f.Close() }
	}

	logger, err := logging.New(logging.Config{
		Level:   l.level,
		Format:  l.format,
		Output:  w,
		NoColor: l.noColor,
	})
	if err != nil {
		closer()
		return nil, goerr.Wrap(err, "failed to configure logger")
	}
	logging.SetDefault(logger)
	return closer, nil
}

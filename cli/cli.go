// Package cli implements the compactmem command.
package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/compact-memory/cli/config"
	"github.com/becomeliminal/compact-memory/logging"
)

// Run executes the compactmem command with args.
func Run(ctx context.Context, args []string, version string) error {
	var loggerCfg config.Logger
	var closer func()

	app := &cli.Command{
		Name:    "compactmem",
		Usage:   "Prototype-based compact memory for language model applications",
		Version: version,
		Flags:   loggerCfg.Flags(),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			f, err := loggerCfg.Configure()
			if err != nil {
				return ctx, err
			}
			closer = f

			logging.Default().Debug("Starting compactmem", "logger", &loggerCfg)
			return logging.With(ctx, logging.Default()), nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if closer != nil {
				closer()
			}
			return nil
		},
		Commands: []*cli.Command{
			cmdIngest(),
			cmdRecall(),
			cmdCompress(),
			cmdRebuild(),
			cmdEngines(),
			cmdPrototypes(),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		logging.Default().Error("failed to run compactmem", "error", err)
		return err
	}
	return nil
}

package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/compact-memory/cli/config"
	"github.com/becomeliminal/compact-memory/core"
	"github.com/becomeliminal/compact-memory/engine"
	"github.com/becomeliminal/compact-memory/logging"
)

// buildEngine resolves ids through reg. A single id builds that engine,
// several build a pipeline in the given order.
func buildEngine(reg *engine.Registry, ids []string, params map[string]any) (core.Engine, error) {
	if len(ids) == 1 {
		p, _ := params[ids[0]].(map[string]any)
		return reg.New(ids[0], p)
	}
	return engine.NewPipelineFromIDs(reg, ids, params)
}

func registryFor(rt *config.Runtime, anthropicCfg *config.Anthropic) (*engine.Registry, map[string]any) {
	opts := []engine.Option{
		engine.WithTokenizer(rt.Tokenizer),
		engine.WithPrototypeEngine(rt.Engine),
	}
	params := map[string]any{}
	client, model := anthropicCfg.Configure(rt.File.Anthropic)
	if client != nil {
		opts = append(opts, engine.WithSummarizer(client))
		if model != "" {
			params[engine.SummarizeID] = map[string]any{"model": model}
		}
	}
	reg := engine.DefaultRegistry(opts...)
	reg.Freeze()
	return reg, params
}

func cmdCompress() *cli.Command {
	var memCfg config.Memory
	var anthropicCfg config.Anthropic
	var engines []string
	var budget int
	var file string
	var showTrace bool

	flags := memCfg.Flags()
	flags = append(flags, anthropicCfg.Flags()...)
	flags = append(flags,
		&cli.StringSliceFlag{
			Name:        "engine",
			Aliases:     []string{"e"},
			Usage:       "Engine id; repeat or comma-separate to build a pipeline",
			Value:       []string{"prototype"},
			Destination: &engines,
		},
		&cli.IntFlag{
			Name:        "budget",
			Aliases:     []string{"b"},
			Usage:       "Token budget; 0 means unlimited",
			Value:       100,
			Destination: &budget,
		},
		&cli.StringFlag{
			Name:        "file",
			Aliases:     []string{"f"},
			Usage:       "Read text from a file instead of arguments or stdin",
			Destination: &file,
		},
		&cli.BoolFlag{
			Name:        "trace",
			Usage:       "Print the full result with its trace as JSON",
			Destination: &showTrace,
		},
	)

	return &cli.Command{
		Name:      "compress",
		Usage:     "Compress text with one engine or a pipeline of engines",
		ArgsUsage: "[text...]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			text, err := readInput(c, file)
			if err != nil {
				return err
			}
			rt, err := memCfg.Open()
			if err != nil {
				return goerr.Wrap(err, "failed to open engine")
			}
			defer rt.Close()

			reg, params := registryFor(rt, &anthropicCfg)
			eng, err := buildEngine(reg, engines, params)
			if err != nil {
				return goerr.Wrap(err, "failed to build engine", goerr.V("engines", engines))
			}

			out, err := eng.Compress(ctx, text, budget)
			if err != nil {
				return goerr.Wrap(err, "compression failed", goerr.V("engines", engines))
			}
			logging.From(ctx).Info("Compressed",
				"engine_id", eng.ID(),
				"input_tokens", out.Trace.Input.Tokens,
				"output_tokens", out.Trace.Output.Tokens,
				"compression_ratio", out.Metadata["compression_ratio"],
			)

			if showTrace {
				return writeJSON(c.Root().Writer, out)
			}
			_, err = fmt.Fprintln(c.Root().Writer, out.Text)
			return err
		},
	}
}

func cmdEngines() *cli.Command {
	var memCfg config.Memory
	var anthropicCfg config.Anthropic

	flags := memCfg.Flags()
	flags = append(flags, anthropicCfg.Flags()...)

	return &cli.Command{
		Name:  "engines",
		Usage: "List the available engine ids",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := memCfg.Open()
			if err != nil {
				return goerr.Wrap(err, "failed to open engine")
			}
			defer rt.Close()

			reg, _ := registryFor(rt, &anthropicCfg)
			for _, id := range reg.IDs() {
				fmt.Fprintln(c.Root().Writer, id)
			}
			return nil
		},
	}
}

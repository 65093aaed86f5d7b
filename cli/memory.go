package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/compact-memory/cli/config"
	"github.com/becomeliminal/compact-memory/logging"
)

// readInput returns the --file contents, the joined arguments, or stdin
// when neither is given or the only argument is "-".
func readInput(c *cli.Command, file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", goerr.Wrap(err, "failed to read input file", goerr.V("path", file))
		}
		return string(data), nil
	}
	args := c.Args().Slice()
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(c.Root().Reader)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read stdin")
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to write output")
	}
	return nil
}

func cmdIngest() *cli.Command {
	var memCfg config.Memory
	var file string

	flags := memCfg.Flags()
	flags = append(flags, &cli.StringFlag{
		Name:        "file",
		Aliases:     []string{"f"},
		Usage:       "Read text from a file instead of arguments or stdin",
		Destination: &file,
	})

	return &cli.Command{
		Name:      "ingest",
		Usage:     "Chunk, embed and consolidate text into the engine directory",
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

			res, err := rt.Engine.Ingest(ctx, text)
			if err != nil {
				return goerr.Wrap(err, "ingest failed")
			}
			logging.From(ctx).Info("Ingest finished",
				"dir", rt.Dir,
				"chunks", res.Chunks,
				"deduplicated", res.Deduplicated,
				"matched", res.Matched,
				"created", res.Created,
				"prototypes", len(rt.Engine.Prototypes()),
			)
			return writeJSON(c.Root().Writer, res)
		},
	}
}

type recallOutput struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

func cmdRecall() *cli.Command {
	var memCfg config.Memory
	var k int
	var prototypes bool

	flags := memCfg.Flags()
	flags = append(flags,
		&cli.IntFlag{
			Name:        "k",
			Usage:       "Number of results",
			Value:       5,
			Destination: &k,
		},
		&cli.BoolFlag{
			Name:        "prototypes",
			Usage:       "Match prototypes instead of stored chunks",
			Destination: &prototypes,
		},
	)

	return &cli.Command{
		Name:      "recall",
		Usage:     "Find the stored chunks most similar to a query",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				return goerr.New("query is required")
			}
			rt, err := memCfg.Open()
			if err != nil {
				return goerr.Wrap(err, "failed to open engine")
			}
			defer rt.Close()

			if prototypes {
				matches, err := rt.Engine.RecallPrototypes(ctx, query, k)
				if err != nil {
					return goerr.Wrap(err, "prototype recall failed")
				}
				return writeJSON(c.Root().Writer, matches)
			}

			results, err := rt.Engine.Recall(ctx, query, k)
			if err != nil {
				return goerr.Wrap(err, "recall failed")
			}
			out := make([]recallOutput, len(results))
			for i, r := range results {
				out[i] = recallOutput{ID: r.ID, Text: r.Text, Score: r.Score}
			}
			return writeJSON(c.Root().Writer, out)
		},
	}
}

func cmdRebuild() *cli.Command {
	var memCfg config.Memory

	return &cli.Command{
		Name:  "rebuild",
		Usage: "Rebuild the chunk index from stored vectors and save it",
		Flags: memCfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := memCfg.Open()
			if err != nil {
				return goerr.Wrap(err, "failed to open engine")
			}
			defer rt.Close()

			if err := rt.Store.RebuildIndex(ctx); err != nil {
				return goerr.Wrap(err, "rebuild failed")
			}
			if err := rt.Engine.Save(rt.Dir); err != nil {
				return goerr.Wrap(err, "failed to save rebuilt engine")
			}
			logging.From(ctx).Info("Index rebuilt", "dir", rt.Dir, "chunks", rt.Store.Count())
			return nil
		},
	}
}

func cmdPrototypes() *cli.Command {
	var memCfg config.Memory

	return &cli.Command{
		Name:  "prototypes",
		Usage: "List prototypes with their member counts",
		Flags: memCfg.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := memCfg.Open()
			if err != nil {
				return goerr.Wrap(err, "failed to open engine")
			}
			defer rt.Close()

			w := c.Root().Writer
			for _, p := range rt.Engine.Prototypes() {
				fmt.Fprintf(w, "%s\t%d\t%s\n", p.ID, p.MemberCount, p.Summary)
			}
			return nil
		},
	}
}

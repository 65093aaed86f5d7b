package cli_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/compact-memory/cli"
	"github.com/becomeliminal/compact-memory/cli/config"
	"github.com/becomeliminal/compact-memory/memory"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	return cli.Run(context.Background(), append([]string{"compactmem", "--log-level", "warn"}, args...), "test")
}

func TestIngestCompressRebuild(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mem")
	cfgPath := filepath.Join(t.TempDir(), "compactmem.toml")
	gt.NoError(t, os.WriteFile(cfgPath, []byte("[embedder]\ndimensions = 16\n[engine]\nthreshold = 0.95\n"), 0o644)).Required()

	gt.NoError(t, run(t, "ingest", "--dir", dir, "--config", cfgPath,
		"The sky is blue. Cats are mammals. The sky is blue.")).Required()

	_, err := os.Stat(filepath.Join(dir, memory.ManifestFile))
	gt.NoError(t, err).Required()

	gt.NoError(t, run(t, "recall", "--dir", dir, "--config", cfgPath, "--k", "1", "Cats are mammals.")).Required()
	gt.NoError(t, run(t, "compress", "--dir", dir, "--config", cfgPath,
		"--engine", "truncate,first_last", "--budget", "3", "one two three four five")).Required()
	gt.NoError(t, run(t, "rebuild", "--dir", dir, "--config", cfgPath)).Required()

	file, err := config.LoadFile(cfgPath)
	gt.NoError(t, err).Required()
	rt, err := config.OpenRuntime(dir, file)
	gt.NoError(t, err).Required()
	defer rt.Close()
	gt.Array(t, rt.Engine.Memories()).Length(2)
	gt.Value(t, rt.Store.Count()).Equal(2)
}

func TestUnknownEngineFails(t *testing.T) {
	dir := t.TempDir()
	err := run(t, "compress", "--dir", dir, "--engine", "nope", "text")
	gt.Value(t, err).NotNil()
}

func TestRecallNeedsQuery(t *testing.T) {
	err := run(t, "recall", "--dir", t.TempDir())
	gt.Value(t, err).NotNil()
}

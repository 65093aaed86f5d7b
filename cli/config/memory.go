package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/compact-memory/core"
	"github.com/becomeliminal/compact-memory/logging"
	"github.com/becomeliminal/compact-memory/memory"
	"github.com/becomeliminal/compact-memory/memory/embedder/cached"
	"github.com/becomeliminal/compact-memory/memory/embedder/mock"
	"github.com/becomeliminal/compact-memory/memory/store/chromem"
	"github.com/becomeliminal/compact-memory/memory/store/memstore"
	"github.com/becomeliminal/compact-memory/tokenizer/tiktoken"
)

// Embedder and backend names accepted in the config file.
const (
	EmbedderMock   = "mock"
	EmbedderONNX   = "onnx"
	BackendChromem = "chromem"
	BackendMemory  = "memory"
)

// Memory holds the flags that locate and configure an engine directory.
type Memory struct {
	dir        string
	configPath string
}

// Flags returns CLI flags for the engine directory.
func (m *Memory) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "dir",
			Aliases:     []string{"d"},
			Usage:       "Engine directory",
			Value:       ".compactmem",
			Sources:     cli.EnvVars("COMPACTMEM_DIR"),
			Destination: &m.dir,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "TOML config file",
			Sources:     cli.EnvVars("COMPACTMEM_CONFIG"),
			Destination: &m.configPath,
		},
	}
}

// LogAttrs returns log attributes for the memory configuration.
func (m *Memory) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("dir", m.dir),
		slog.String("config", m.configPath),
	}
}

// Runtime is everything a command needs to work on one engine directory.
type Runtime struct {
	Dir       string
	File      *File
	Engine    *memory.PrototypeEngine
	Store     memory.VectorStore
	Tokenizer core.Tokenizer

	closers []func()
}

// Close releases embedder caches and model sessions.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// Open loads the config file and opens the engine at the configured
// directory, creating an empty one when the directory holds no meta.yaml.
func (m *Memory) Open() (*Runtime, error) {
	file, err := LoadFile(m.configPath)
	if err != nil {
		return nil, err
	}
	return OpenRuntime(m.dir, file)
}

// OpenRuntime opens the engine at dir as described by file.
func OpenRuntime(dir string, file *File) (*Runtime, error) {
	rt := &Runtime{Dir: dir, File: file}

	tok, err := buildTokenizer(file.Tokenizer)
	if err != nil {
		return nil, err
	}
	rt.Tokenizer = tok

	store, err := buildStore(file.Store)
	if err != nil {
		return nil, err
	}
	rt.Store = store

	embedders := memory.NewEmbedderRegistry()
	if err := embedders.Register(EmbedderMock, rt.mockFactory(file.Embedder)); err != nil {
		return nil, err
	}
	if err := embedders.Register(EmbedderONNX, rt.onnxFactory(file.Embedder)); err != nil {
		return nil, err
	}

	cfg := memory.DefaultConfig()
	if file.Engine.Threshold != 0 {
		cfg.Threshold = file.Engine.Threshold
	}
	if file.Engine.Parallelism > 0 {
		cfg.Parallelism = file.Engine.Parallelism
	}
	if file.Engine.Chunker == "line" {
		cfg.Chunker = memory.LineChunker{}
	}
	cfg.Tokenizer = tok
	cfg.Path = dir
	cfg.Embedders = embedders
	cfg.Logger = logging.Default()

	name := file.Embedder.Name
	if name == "" {
		name = EmbedderMock
	}

	_, statErr := os.Stat(filepath.Join(dir, memory.ManifestFile))
	switch {
	case statErr == nil:
		rt.Engine, err = memory.Open(dir, store, memory.Named(name), cfg)
	case errors.Is(statErr, fs.ErrNotExist):
		rt.Engine, err = memory.NewPrototypeEngine(store, memory.Named(name), cfg)
	default:
		err = goerr.Wrap(statErr, "failed to inspect engine directory", goerr.V("dir", dir))
	}
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func buildTokenizer(s TokenizerSection) (core.Tokenizer, error) {
	if s.Name == "tiktoken" {
		tok, err := tiktoken.New(s.Encoding)
		if err != nil {
			return nil, err
		}
		return tok, nil
	}
	return core.WhitespaceTokenizer{}, nil
}

func buildStore(s StoreSection) (memory.VectorStore, error) {
	if s.Backend == BackendMemory {
		return memstore.New(), nil
	}
	store, err := chromem.New()
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (r *Runtime) mockFactory(s EmbedderSection) memory.EmbedderFactory {
	return func() (memory.Embedder, error) {
		var opts []mock.Option
		if s.Dimensions > 0 {
			opts = append(opts, mock.WithDimensions(s.Dimensions))
		}
		return r.withCache(mock.New(opts...), s.CacheMB)
	}
}

func (r *Runtime) withCache(inner memory.Embedder, cacheMB int64) (memory.Embedder, error) {
	if cacheMB <= 0 {
		return inner, nil
	}
	c, err := cached.New(inner, cached.Config{MaxBytes: cacheMB << 20})
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, c.Close)
	return c, nil
}

package memory

import (
	"log/slog"
	"time"

	"github.com/becomeliminal/compact-memory/core"
	"github.com/becomeliminal/compact-memory/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Config holds PrototypeEngine configuration.
type Config struct {
	// Threshold is the minimum similarity [-1.0, 1.0] for a chunk to join
	// an existing prototype. A match at exactly Threshold is assigned.
	// Zero selects the default; use a small negative value to let every
	// non-opposing chunk join. Default: 0.8
	Threshold float64

	// Parallelism bounds concurrent Embed calls during ingestion.
	// Default: 4
	Parallelism int

	// Path is the engine root directory. When set, every successful ingest
	// is persisted there. Empty means in-memory only.
	Path string

	// Chunker splits ingested text. Default: SentenceChunker.
	Chunker Chunker

	// Tokenizer measures budgets in Compress. Default: whitespace.
	Tokenizer core.Tokenizer

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time

	// Embedders resolves Named embedder references.
	Embedders *EmbedderRegistry

	// Logger defaults to logging.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:   0.8,
		Parallelism: 4,
		Chunker:     SentenceChunker{},
		Tokenizer:   core.WhitespaceTokenizer{},
		Clock:       time.Now,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Threshold == 0 {
		c.Threshold = defaults.Threshold
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaults.Parallelism
	}
	if c.Chunker == nil {
		c.Chunker = defaults.Chunker
	}
	if c.Tokenizer == nil {
		c.Tokenizer = defaults.Tokenizer
	}
	if c.Clock == nil {
		c.Clock = defaults.Clock
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	return c
}

func (c Config) validate() error {
	if c.Threshold < -1 || c.Threshold > 1 {
		return Mark(ErrConfiguration, nil, "threshold out of range", goerr.V("threshold", c.Threshold))
	}
	return nil
}

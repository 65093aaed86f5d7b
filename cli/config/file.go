package config

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
)

// File is the TOML configuration file.
//
//	[engine]
//	threshold = 0.8
//	parallelism = 4
//	chunker = "sentence"
//
//	[embedder]
//	name = "mock"
//	dimensions = 384
//	cache_mb = 64
//
//	[store]
//	backend = "chromem"
//
//	[tokenizer]
//	name = "tiktoken"
//	encoding = "cl100k_base"
//
//	[anthropic]
//	model = "claude-sonnet-4-20250514"
type File struct {
	Engine    EngineSection    `toml:"engine"`
	Embedder  EmbedderSection  `toml:"embedder"`
	Store     StoreSection     `toml:"store"`
	Tokenizer TokenizerSection `toml:"tokenizer"`
	Anthropic AnthropicSection `toml:"anthropic"`
}

// EngineSection configures the prototype engine.
type EngineSection struct {
	// Threshold 0 keeps the engine default.
	Threshold   float64 `toml:"threshold"`
	Parallelism int     `toml:"parallelism"`
	Chunker     string  `toml:"chunker"`
}

// Validate checks threshold range and chunker name.
func (s *EngineSection) Validate() error {
	if s.Threshold < -1 || s.Threshold > 1 {
		return goerr.New("engine threshold must be between -1 and 1", goerr.V("threshold", s.Threshold))
	}
	if s.Parallelism < 0 {
		return goerr.New("engine parallelism must not be negative", goerr.V("parallelism", s.Parallelism))
	}
	switch s.Chunker {
	case "", "sentence", "line":
		return nil
	}
	return goerr.New("unknown chunker", goerr.V("chunker", s.Chunker))
}

// EmbedderSection selects the embedding model.
type EmbedderSection struct {
	// Name is "mock" or "onnx". It is recorded in meta.yaml.
	Name       string `toml:"name"`
	Dimensions int    `toml:"dimensions"`

	// CacheMB sizes the embedding cache. 0 disables it.
	CacheMB int64 `toml:"cache_mb"`

	ModelPath     string `toml:"model_path"`
	TokenizerPath string `toml:"tokenizer_path"`
	SharedLibrary string `toml:"shared_library"`
}

// Validate checks the embedder name and the paths onnx needs.
func (s *EmbedderSection) Validate() error {
	if s.Dimensions < 0 {
		return goerr.New("embedder dimensions must not be negative", goerr.V("dimensions", s.Dimensions))
	}
	if s.CacheMB < 0 {
		return goerr.New("embedder cache_mb must not be negative", goerr.V("cache_mb", s.CacheMB))
	}
	switch s.Name {
	case "", EmbedderMock:
		return nil
	case EmbedderONNX:
		if s.ModelPath == "" || s.TokenizerPath == "" {
			return goerr.New("onnx embedder needs model_path and tokenizer_path")
		}
		return nil
	}
	return goerr.New("unknown embedder", goerr.V("name", s.Name))
}

// StoreSection selects the chunk VectorStore backend.
type StoreSection struct {
	// Backend is "chromem" (default) or "memory".
	Backend string `toml:"backend"`
}

// Validate checks the backend name.
func (s *StoreSection) Validate() error {
	switch s.Backend {
	case "", BackendChromem, BackendMemory:
		return nil
	}
	return goerr.New("unknown store backend", goerr.V("backend", s.Backend))
}

// TokenizerSection selects how budgets are counted.
type TokenizerSection struct {
	// Name is "whitespace" (default) or "tiktoken".
	Name     string `toml:"name"`
	Encoding string `toml:"encoding"`
}

// Validate checks the tokenizer name.
func (s *TokenizerSection) Validate() error {
	switch s.Name {
	case "", "whitespace", "tiktoken":
		return nil
	}
	return goerr.New("unknown tokenizer", goerr.V("name", s.Name))
}

// AnthropicSection configures the llm_summary engine. APIKey is masked in
// logs; prefer the ANTHROPIC_API_KEY environment variable.
type AnthropicSection struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// Validate checks every section.
func (f *File) Validate() error {
	if err := f.Engine.Validate(); err != nil {
		return goerr.Wrap(err, "invalid [engine]")
	}
	if err := f.Embedder.Validate(); err != nil {
		return goerr.Wrap(err, "invalid [embedder]")
	}
	if err := f.Store.Validate(); err != nil {
		return goerr.Wrap(err, "invalid [store]")
	}
	if err := f.Tokenizer.Validate(); err != nil {
		return goerr.Wrap(err, "invalid [tokenizer]")
	}
	return nil
}

// LoadFile reads and validates a TOML config. An empty path returns the
// zero File, which selects every default.
func LoadFile(path string) (*File, error) {
	var f File
	if path == "" {
		return &f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}
	if err := f.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid config file", goerr.V("path", path))
	}
	return &f, nil
}

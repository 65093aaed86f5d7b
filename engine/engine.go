package engine

import (
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/compact-memory/core"
	"github.com/becomeliminal/compact-memory/memory"
)

var (
	// ErrUnknownEngine is returned for an id no factory is registered for.
	ErrUnknownEngine = goerr.New("unknown engine")

	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = goerr.New("engine registry is frozen")
)

// Factory builds an engine from free-form parameters.
type Factory func(params map[string]any) (core.Engine, error)

// Registry maps engine ids to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	frozen    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under id. Registering an id twice is an error.
func (r *Registry) Register(id string, f Factory) error {
	if id == "" || f == nil {
		return goerr.Wrap(memory.ErrConfiguration, "engine id and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return goerr.Wrap(ErrRegistryFrozen, "cannot register engine", goerr.V("engine_id", id))
	}
	if _, ok := r.factories[id]; ok {
		return goerr.Wrap(memory.ErrConfiguration, "engine already registered", goerr.V("engine_id", id))
	}
	r.factories[id] = f
	return nil
}

// New builds the engine registered as id.
func (r *Registry) New(id string, params map[string]any) (core.Engine, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, goerr.Wrap(ErrUnknownEngine, "engine not registered",
			goerr.V("engine_id", id), goerr.V("available", r.IDs()))
	}

	e, err := f(params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build engine", goerr.V("engine_id", id))
	}
	return e, nil
}

// IDs lists the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Option configures DefaultRegistry.
type Option func(*defaults)

type defaults struct {
	tokenizer  core.Tokenizer
	prototype  *memory.PrototypeEngine
	summarizer MessageClient
}

// WithTokenizer sets the tokenizer handed to the built-in engines.
func WithTokenizer(tok core.Tokenizer) Option {
	return func(d *defaults) {
		d.tokenizer = tok
	}
}

// WithPrototypeEngine registers e under memory.EngineID.
func WithPrototypeEngine(e *memory.PrototypeEngine) Option {
	return func(d *defaults) {
		d.prototype = e
	}
}

// WithSummarizer registers the llm_summary engine backed by client.
func WithSummarizer(client MessageClient) Option {
	return func(d *defaults) {
		d.summarizer = client
	}
}

// DefaultRegistry returns a new registry holding the built-in engines:
// none, first_last, truncate and pipeline, plus prototype and llm_summary
// when their dependencies are supplied. The registry is not frozen.
func DefaultRegistry(opts ...Option) *Registry {
	d := &defaults{tokenizer: core.WhitespaceTokenizer{}}
	for _, opt := range opts {
		opt(d)
	}

	r := NewRegistry()
	must := func(id string, f Factory) {
		if err := r.Register(id, f); err != nil {
			panic(err)
		}
	}

	must(NoCompressionID, func(map[string]any) (core.Engine, error) {
		return NewNoCompression(d.tokenizer), nil
	})
	must(FirstLastID, func(map[string]any) (core.Engine, error) {
		return NewFirstLast(d.tokenizer), nil
	})
	must(TruncateID, func(params map[string]any) (core.Engine, error) {
		limit, err := intParam(params, "max_tokens")
		if err != nil {
			return nil, err
		}
		return NewTruncate(limit, d.tokenizer), nil
	})
	must(PipelineID, func(params map[string]any) (core.Engine, error) {
		ids, err := stringsParam(params, "stages")
		if err != nil {
			return nil, err
		}
		return NewPipelineFromIDs(r, ids, params)
	})

	if d.prototype != nil {
		proto := d.prototype
		must(memory.EngineID, func(map[string]any) (core.Engine, error) {
			return proto, nil
		})
	}
	if d.summarizer != nil {
		client := d.summarizer
		must(SummarizeID, func(params map[string]any) (core.Engine, error) {
			var sopts []SummarizeOption
			if model, ok := params["model"].(string); ok && model != "" {
				sopts = append(sopts, WithModel(model))
			}
			return NewSummarize(client, d.tokenizer, sopts...), nil
		})
	}
	return r
}

func intParam(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, goerr.Wrap(memory.ErrConfiguration, "parameter must be a number", goerr.V("param", key), goerr.V("value", v))
}

func stringsParam(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, nil
	}
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, goerr.Wrap(memory.ErrConfiguration, "parameter must be a list of strings", goerr.V("param", key))
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, goerr.Wrap(memory.ErrConfiguration, "parameter must be a list of strings", goerr.V("param", key), goerr.V("value", v))
}

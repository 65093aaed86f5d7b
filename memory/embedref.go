package memory

import (
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// EmbedderFactory builds an embedder on demand.
type EmbedderFactory func() (Embedder, error)

// EmbedderRegistry maps names to embedder factories. Names are what
// meta.yaml records, so a saved engine can be reopened by name.
type EmbedderRegistry struct {
	mu        sync.RWMutex
	factories map[string]EmbedderFactory
}

// NewEmbedderRegistry returns an empty registry.
func NewEmbedderRegistry() *EmbedderRegistry {
	return &EmbedderRegistry{factories: make(map[string]EmbedderFactory)}
}

// Register adds a factory under name.
func (r *EmbedderRegistry) Register(name string, f EmbedderFactory) error {
	if name == "" || f == nil {
		return goerr.Wrap(ErrConfiguration, "embedder name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return goerr.Wrap(ErrConfiguration, "embedder already registered", goerr.V("name", name))
	}
	r.factories[name] = f
	return nil
}

// Resolve builds the embedder registered as name.
func (r *EmbedderRegistry) Resolve(name string) (Embedder, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, goerr.Wrap(ErrConfiguration, "unknown embedder", goerr.V("name", name), goerr.V("available", r.Names()))
	}
	e, err := f()
	if err != nil {
		return nil, Mark(ErrConfiguration, err, "failed to build embedder", goerr.V("name", name))
	}
	return e, nil
}

// Names lists registered names in sorted order.
func (r *EmbedderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reference kinds recorded as meta.yaml embedding_ref.
const (
	RefNamed  = "named"
	RefInline = "inline"
)

// EmbedderRef says which embedder an engine uses. It is either Named
// (resolved through an EmbedderRegistry, reopenable from meta.yaml) or
// Inline (a caller-held instance that cannot be rebuilt from disk).
type EmbedderRef interface {
	// Name is the value stored as meta.yaml embedding_model.
	Name() string

	// Persistable reports whether Name alone is enough to rebuild the
	// embedder.
	Persistable() bool

	resolve(reg *EmbedderRegistry) (Embedder, error)
}

func refKind(ref EmbedderRef) string {
	if ref.Persistable() {
		return RefNamed
	}
	return RefInline
}

type namedRef struct {
	name string
}

// Named refers to an embedder registered under name.
func Named(name string) EmbedderRef {
	return namedRef{name: name}
}

func (r namedRef) Name() string      { return r.name }
func (r namedRef) Persistable() bool { return true }

func (r namedRef) resolve(reg *EmbedderRegistry) (Embedder, error) {
	if reg == nil {
		return nil, goerr.Wrap(ErrConfiguration, "named embedder needs a registry", goerr.V("name", r.name))
	}
	return reg.Resolve(r.name)
}

type inlineRef struct {
	embedder Embedder
}

// Inline wraps an embedder instance. Its ModelID is recorded on save, but
// reopening the engine needs the same instance (or one with that ModelID)
// passed again.
func Inline(e Embedder) EmbedderRef {
	return inlineRef{embedder: e}
}

func (r inlineRef) Name() string {
	if r.embedder == nil {
		return ""
	}
	return r.embedder.ModelID()
}

func (r inlineRef) Persistable() bool { return false }

func (r inlineRef) resolve(*EmbedderRegistry) (Embedder, error) {
	if r.embedder == nil {
		return nil, goerr.Wrap(ErrConfiguration, "inline embedder is nil")
	}
	return r.embedder, nil
}

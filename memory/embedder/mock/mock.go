package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"

	"github.com/becomeliminal/compact-memory/memory"
	"github.com/m-mizutani/goerr/v2"
)

// DefaultModelID is recorded in meta.yaml for the hash embedder.
const DefaultModelID = "mock-fnv"

// MockEmbedder is a simple mock embedder for testing.
// It generates deterministic embeddings based on text hash.
type MockEmbedder struct {
	dimensions int
	modelID    string
	calls      atomic.Int64
}

// Option configures a MockEmbedder.
type Option func(*MockEmbedder)

// WithDimensions sets the vector size. Default: 384 (all-MiniLM-L6-v2).
func WithDimensions(n int) Option {
	return func(m *MockEmbedder) {
		m.dimensions = n
	}
}

// WithModelID overrides DefaultModelID.
func WithModelID(id string) Option {
	return func(m *MockEmbedder) {
		m.modelID = id
	}
}

// New creates a new mock embedder.
func New(opts ...Option) *MockEmbedder {
	m := &MockEmbedder{
		dimensions: 384,
		modelID:    DefaultModelID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Embed creates a deterministic unit vector from the FNV hash of text.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.calls.Add(1)

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// LCG step, mapped to [-1, 1]
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return memory.Normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

// ModelID implements memory.Embedder.
func (m *MockEmbedder) ModelID() string {
	return m.modelID
}

// Calls returns how many times Embed ran.
func (m *MockEmbedder) Calls() int {
	return int(m.calls.Load())
}

// ErrUnknownText is returned by Table for texts it has no vector for.
var ErrUnknownText = goerr.New("no vector for text")

// Table embeds texts by lookup. Vectors are returned as given, so tests
// can check that callers normalize.
type Table struct {
	Vectors map[string][]float32
	Dim     int
	Model   string

	// Fail makes Embed return the mapped error for a text.
	Fail map[string]error

	calls atomic.Int64
}

func (t *Table) Embed(ctx context.Context, text string) ([]float32, error) {
	t.calls.Add(1)
	if err, ok := t.Fail[text]; ok {
		return nil, err
	}
	v, ok := t.Vectors[text]
	if !ok {
		return nil, goerr.Wrap(ErrUnknownText, "table lookup failed", goerr.V("text", text))
	}
	return append([]float32(nil), v...), nil
}

func (t *Table) Dimensions() int {
	return t.Dim
}

func (t *Table) ModelID() string {
	if t.Model == "" {
		return "mock-table"
	}
	return t.Model
}

// Calls returns how many times Embed ran.
func (t *Table) Calls() int {
	return int(t.calls.Load())
}

package memory

import (
	"context"
)

// Entry is one row of a VectorStore: an id, its text and its vector.
type Entry struct {
	ID     string
	Text   string
	Vector []float32
}

// Match is one FindNearest hit.
type Match struct {
	ID    string
	Score float32
}

// VectorStore maps ids to (vector, text) and answers top-k similarity
// queries. The store owns the vectors and the id→text mapping.
//
// Implementations: memstore.Store (brute force, in-memory),
// chromem.ChromemStore (chromem-go index, persistent).
//
// A store is driven by a single writer. Concurrent readers are allowed
// while no write is in progress.
type VectorStore interface {
	// Add inserts entries. Every id must be new, both to the store and
	// within the batch; a collision fails the whole batch with
	// ErrDuplicateID before anything is indexed. All vectors must share
	// the store's dimension (fixed by the first batch), otherwise
	// ErrDimensionMismatch. Entries are queryable once Add returns.
	Add(ctx context.Context, entries []Entry) error

	// FindNearest returns at most k matches ordered by descending score.
	// Equal scores keep insertion order. An empty store returns an empty
	// slice and no error.
	FindNearest(ctx context.Context, vector []float32, k int) ([]Match, error)

	// GetTexts resolves ids to texts. Unknown ids are omitted.
	GetTexts(ctx context.Context, ids []string) (map[string]string, error)

	// Delete removes the entries with the given ids. Unknown ids are
	// ignored. The remaining entries keep their relative order.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of entries.
	Count() int

	// RebuildIndex reconstructs the search index from the stored rows.
	// Persistent backends flush the rebuilt index to their last save path.
	RebuildIndex(ctx context.Context) error

	// Save writes the complete store state to the directory path.
	Save(path string) error

	// Load replaces the store state with the one saved at path.
	Load(path string) error
}

// Relocator is implemented by stores that remember the directory they were
// last saved to. The engine saves its store into a staging directory, moves
// it into place and then reports the final path.
type Relocator interface {
	Relocate(path string)
}

// Iterator is implemented by stores that can enumerate their rows in
// insertion order. fn returning false stops the iteration.
type Iterator interface {
	Iterate(fn func(Entry) bool)
}

// Embedder converts text to vector embeddings.
// Implementations: mock.Embedder (testing), onnx.Embedder (local model),
// cached.Embedder (decorator).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// ModelID names the model, recorded in meta.yaml.
	ModelID() string
}

// Chunker splits text into the units the engine ingests.
type Chunker interface {
	Chunk(text string) []string
}

// ChunkerFunc adapts a function to Chunker.
type ChunkerFunc func(text string) []string

func (f ChunkerFunc) Chunk(text string) []string {
	return f(text)
}

// Package memstore is an in-memory, brute-force memory.VectorStore.
package memstore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/becomeliminal/compact-memory/logging"
	"github.com/becomeliminal/compact-memory/memory"
	"github.com/becomeliminal/compact-memory/memory/npy"
	"github.com/m-mizutani/goerr/v2"
)

// File names inside a saved store directory.
const (
	EntriesFile = "entries.jsonl"
	VectorsFile = "vectors.npy"
)

type entryRecord struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Store keeps every row in insertion order and scans all of them on query.
type Store struct {
	mu         sync.RWMutex
	normalized bool
	dim        int
	rows       []memory.Entry
	index      map[string]int
	createdAt  time.Time
	clock      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNormalize toggles unit-normalization on insert. When off, scores are
// cosine similarity instead of the dot product. Default: on.
func WithNormalize(on bool) Option {
	return func(s *Store) {
		s.normalized = on
	}
}

// WithClock overrides time.Now for manifest timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		normalized: true,
		index:      make(map[string]int),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalized reports whether vectors are normalized on insert.
func (s *Store) Normalized() bool {
	return s.normalized
}

// Dimensions returns the vector size, 0 while the store is empty.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Check validates entries against the current contents without inserting
// them.
func (s *Store) Check(entries []memory.Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(entries)
}

func (s *Store) check(entries []memory.Entry) error {
	dim := s.dim
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return goerr.Wrap(memory.ErrConfiguration, "entry id is empty")
		}
		if _, ok := s.index[e.ID]; ok {
			return goerr.Wrap(memory.ErrDuplicateID, "id already stored", goerr.V("id", e.ID))
		}
		if _, ok := seen[e.ID]; ok {
			return goerr.Wrap(memory.ErrDuplicateID, "id repeated in batch", goerr.V("id", e.ID))
		}
		seen[e.ID] = struct{}{}

		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) == 0 || len(e.Vector) != dim {
			return memory.DimensionError(dim, len(e.Vector), goerr.V("id", e.ID))
		}
	}
	return nil
}

// Add implements memory.VectorStore.
func (s *Store) Add(ctx context.Context, entries []memory.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(entries); err != nil {
		return err
	}
	for _, e := range entries {
		vec := e.Vector
		if s.normalized {
			vec = memory.Normalize(vec)
		} else {
			vec = append([]float32(nil), vec...)
		}
		s.index[e.ID] = len(s.rows)
		s.rows = append(s.rows, memory.Entry{ID: e.ID, Text: e.Text, Vector: vec})
	}
	if s.dim == 0 {
		s.dim = len(entries[0].Vector)
	}
	if s.createdAt.IsZero() {
		s.createdAt = s.clock()
	}

	logging.From(ctx).Debug("memstore add", "entries", len(entries), "total", len(s.rows))
	return nil
}

func (s *Store) score(stored, query []float32) float64 {
	if s.normalized {
		return memory.Dot(stored, query)
	}
	return memory.CosineSimilarity(stored, query)
}

// FindNearest implements memory.VectorStore.
func (s *Store) FindNearest(ctx context.Context, vector []float32, k int) ([]memory.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.rows) == 0 {
		return []memory.Match{}, nil
	}
	if len(vector) != s.dim {
		return nil, memory.DimensionError(s.dim, len(vector))
	}

	query := vector
	if s.normalized {
		query = memory.Normalize(vector)
	}

	matches := make([]memory.Match, len(s.rows))
	for i, row := range s.rows {
		matches[i] = memory.Match{ID: row.ID, Score: float32(s.score(row.Vector, query))}
	}
	// rows are in insertion order, so a stable sort keeps earlier ids first
	// among equal scores.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete implements memory.VectorStore. Emptying the store releases its
// dimension.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.index[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return nil
	}

	rows := make([]memory.Entry, 0, len(s.rows)-len(drop))
	index := make(map[string]int, len(s.rows)-len(drop))
	for _, row := range s.rows {
		if _, ok := drop[row.ID]; ok {
			continue
		}
		index[row.ID] = len(rows)
		rows = append(rows, row)
	}
	s.rows = rows
	s.index = index
	if len(rows) == 0 {
		s.dim = 0
	}

	logging.From(ctx).Debug("memstore delete", "entries", len(drop), "total", len(s.rows))
	return nil
}

// GetTexts implements memory.VectorStore.
func (s *Store) GetTexts(ctx context.Context, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if i, ok := s.index[id]; ok {
			out[id] = s.rows[i].Text
		}
	}
	return out, nil
}

// Seq returns the insertion position of id.
func (s *Store) Seq(id string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	return i, ok
}

// Count implements memory.VectorStore.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Iterate implements memory.Iterator.
func (s *Store) Iterate(fn func(memory.Entry) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		if !fn(row) {
			return
		}
	}
}

// RebuildIndex rebuilds the id lookup from the rows.
func (s *Store) RebuildIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := make(map[string]int, len(s.rows))
	for i, row := range s.rows {
		if _, ok := index[row.ID]; ok {
			return goerr.Wrap(memory.ErrIndexRebuild, "duplicate id in rows", goerr.V("id", row.ID))
		}
		if len(row.Vector) != s.dim {
			return goerr.Wrap(memory.ErrIndexRebuild, "row dimension differs", goerr.V("id", row.ID), goerr.V("dim", len(row.Vector)))
		}
		index[row.ID] = i
	}
	s.index = index
	return nil
}

// Save implements memory.VectorStore.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(path, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create store directory", goerr.V("path", path))
	}

	records := make([]entryRecord, len(s.rows))
	vectors := make([][]float32, len(s.rows))
	for i, row := range s.rows {
		records[i] = entryRecord{ID: row.ID, Text: row.Text}
		vectors[i] = row.Vector
	}

	if err := memory.WriteJSONL(filepath.Join(path, EntriesFile), records); err != nil {
		return err
	}
	if err := npy.WriteFile(filepath.Join(path, VectorsFile), vectors, s.dim); err != nil {
		return err
	}

	now := s.clock()
	created := s.createdAt
	if created.IsZero() {
		created = now
	}
	// The manifest is written last.
	return memory.WriteManifest(path, &memory.Manifest{
		Version:      memory.FormatVersion,
		EmbeddingDim: s.dim,
		Normalized:   s.normalized,
		CreatedAt:    created,
		UpdatedAt:    now,
	})
}

// Load implements memory.VectorStore.
func (s *Store) Load(path string) error {
	manifest, err := memory.ReadManifest(path)
	if err != nil {
		return err
	}

	records, err := memory.ReadJSONL[entryRecord](filepath.Join(path, EntriesFile), false)
	if err != nil {
		return err
	}
	vectors, dim, err := npy.ReadFile(filepath.Join(path, VectorsFile))
	if err != nil {
		return memory.Mark(memory.ErrStorageCorruption, err, "failed to read store vectors", goerr.V("path", path))
	}
	if len(vectors) != len(records) {
		return goerr.Wrap(memory.ErrStorageCorruption, "entry and vector counts differ",
			goerr.V("entries", len(records)), goerr.V("vectors", len(vectors)), goerr.V("path", path))
	}
	if len(records) > 0 && dim != manifest.EmbeddingDim {
		return goerr.Wrap(memory.ErrStorageCorruption, "vector dimension differs from manifest",
			goerr.V("manifest", manifest.EmbeddingDim), goerr.V("vectors", dim), goerr.V("path", path))
	}

	rows := make([]memory.Entry, len(records))
	index := make(map[string]int, len(records))
	for i, rec := range records {
		if _, ok := index[rec.ID]; ok {
			return goerr.Wrap(memory.ErrStorageCorruption, "duplicate id in saved entries", goerr.V("id", rec.ID), goerr.V("path", path))
		}
		index[rec.ID] = i
		rows[i] = memory.Entry{ID: rec.ID, Text: rec.Text, Vector: vectors[i]}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
	s.index = index
	s.dim = manifest.EmbeddingDim
	s.normalized = manifest.Normalized
	s.createdAt = manifest.CreatedAt
	return nil
}

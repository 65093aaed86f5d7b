// Package chromem is a persistent memory.VectorStore whose search index is
// a chromem-go collection.
package chromem

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/compact-memory/logging"
	"github.com/becomeliminal/compact-memory/memory"
	"github.com/becomeliminal/compact-memory/memory/store/memstore"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// IndexFile holds the chromem-go export inside a saved store directory.
	IndexFile = "index.gob.gz"

	collectionName = "chunks"
)

var errNoEmbeddingFunc = goerr.New("chromem store only accepts precomputed embeddings")

// ChromemStore keeps the authoritative rows in a memstore.Store and mirrors
// them into a chromem-go collection that answers similarity queries.
// chromem-go is a pure Go, embedded vector database.
type ChromemStore struct {
	mu       sync.RWMutex
	rows     *memstore.Store
	db       *chromem.DB
	col      *chromem.Collection
	lastPath string
}

// New creates an empty store.
func New() (*ChromemStore, error) {
	db, col, err := newIndex()
	if err != nil {
		return nil, err
	}
	return &ChromemStore{rows: memstore.New(), db: db, col: col}, nil
}

func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

func newIndex() (*chromem.DB, *chromem.Collection, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, noEmbedding)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create chromem collection")
	}
	return db, col, nil
}

func document(e memory.Entry, seq int) chromem.Document {
	return chromem.Document{
		ID:        e.ID,
		Content:   e.Text,
		Embedding: e.Vector,
		Metadata:  map[string]string{"seq": strconv.Itoa(seq)},
	}
}

func concurrency() int {
	return max(1, runtime.NumCPU())
}

// Add implements memory.VectorStore. The batch is validated against the
// rows first, then indexed, then committed to the rows.
func (s *ChromemStore) Add(ctx context.Context, entries []memory.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rows.Check(entries); err != nil {
		return err
	}

	base := s.rows.Count()
	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		vec := memory.Normalize(e.Vector)
		docs[i] = document(memory.Entry{ID: e.ID, Text: e.Text, Vector: vec}, base+i)
	}
	if err := s.col.AddDocuments(ctx, docs, concurrency()); err != nil {
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		if delErr := s.col.Delete(ctx, nil, nil, ids...); delErr != nil {
			logging.From(ctx).Warn("failed to roll back chromem documents", "error", delErr)
		}
		return goerr.Wrap(err, "failed to index entries", goerr.V("entries", len(entries)))
	}

	if err := s.rows.Add(ctx, entries); err != nil {
		return err
	}

	logging.From(ctx).Debug("chromem add", "entries", len(entries), "total", s.rows.Count())
	return nil
}

// FindNearest implements memory.VectorStore. Results are ordered by score,
// then by insertion sequence.
func (s *ChromemStore) FindNearest(ctx context.Context, vector []float32, k int) ([]memory.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.col.Count()
	if k <= 0 || count == 0 {
		return []memory.Match{}, nil
	}
	if dim := s.rows.Dimensions(); len(vector) != dim {
		return nil, memory.DimensionError(dim, len(vector))
	}
	query := memory.Normalize(vector)

	// chromem-go requires nResults <= collection size and does not order
	// ties. Over-fetch until the last fetched score drops below the k-th,
	// so no earlier-inserted tie is cut off.
	n := min(2*k, count)
	for {
		results, err := s.col.QueryEmbedding(ctx, query, n, nil, nil)
		if err != nil {
			return nil, goerr.Wrap(err, "chromem query failed", goerr.V("n", n))
		}

		type ranked struct {
			match memory.Match
			seq   int
		}
		all := make([]ranked, len(results))
		for i, r := range results {
			all[i] = ranked{match: memory.Match{ID: r.ID, Score: r.Similarity}, seq: s.seq(r)}
		}
		sort.Slice(all, func(a, b int) bool {
			if all[a].match.Score != all[b].match.Score {
				return all[a].match.Score > all[b].match.Score
			}
			return all[a].seq < all[b].seq
		})

		limit := min(k, len(all))
		if n < count && all[limit-1].match.Score == all[len(all)-1].match.Score {
			n = min(count, 2*n)
			continue
		}
		matches := make([]memory.Match, limit)
		for i := range matches {
			matches[i] = all[i].match
		}
		return matches, nil
	}
}

func (s *ChromemStore) seq(r chromem.Result) int {
	if v, err := strconv.Atoi(r.Metadata["seq"]); err == nil {
		return v
	}
	if v, ok := s.rows.Seq(r.ID); ok {
		return v
	}
	return math.MaxInt
}

// Delete implements memory.VectorStore. The index is rebuilt so sequence
// numbers stay dense.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.rows.Count()
	if err := s.rows.Delete(ctx, ids); err != nil {
		return err
	}
	if s.rows.Count() == before {
		return nil
	}
	return s.rebuild(ctx)
}

// GetTexts implements memory.VectorStore.
func (s *ChromemStore) GetTexts(ctx context.Context, ids []string) (map[string]string, error) {
	return s.rows.GetTexts(ctx, ids)
}

// Count implements memory.VectorStore.
func (s *ChromemStore) Count() int {
	return s.rows.Count()
}

// Iterate implements memory.Iterator.
func (s *ChromemStore) Iterate(fn func(memory.Entry) bool) {
	s.rows.Iterate(fn)
}

// RebuildIndex recreates the chromem collection from the rows and, when
// the store was saved or loaded before, rewrites the index export there.
func (s *ChromemStore) RebuildIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rebuild(ctx); err != nil {
		return err
	}
	if s.lastPath != "" {
		if err := s.exportIndex(s.lastPath); err != nil {
			return memory.Mark(memory.ErrIndexRebuild, err, "failed to flush rebuilt index", goerr.V("path", s.lastPath))
		}
	}
	return nil
}

func (s *ChromemStore) rebuild(ctx context.Context) error {
	if err := s.rows.RebuildIndex(ctx); err != nil {
		return err
	}
	db, col, err := buildIndex(ctx, s.rows)
	if err != nil {
		return err
	}
	s.db = db
	s.col = col
	logging.From(ctx).Info("chromem index rebuilt", "rows", col.Count())
	return nil
}

// buildIndex indexes rows into a new collection. Sequence numbers follow
// row order.
func buildIndex(ctx context.Context, rows *memstore.Store) (*chromem.DB, *chromem.Collection, error) {
	db, col, err := newIndex()
	if err != nil {
		return nil, nil, memory.Mark(memory.ErrIndexRebuild, err, "failed to reset index")
	}

	var docs []chromem.Document
	rows.Iterate(func(e memory.Entry) bool {
		docs = append(docs, document(memory.Entry{ID: e.ID, Text: e.Text, Vector: memory.Normalize(e.Vector)}, len(docs)))
		return true
	})
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, concurrency()); err != nil {
			return nil, nil, memory.Mark(memory.ErrIndexRebuild, err, "failed to re-index rows", goerr.V("rows", len(docs)))
		}
	}
	if col.Count() != len(docs) {
		return nil, nil, goerr.Wrap(memory.ErrIndexRebuild, "index count differs from rows",
			goerr.V("index", col.Count()), goerr.V("rows", len(docs)))
	}
	return db, col, nil
}

func (s *ChromemStore) exportIndex(path string) error {
	//nolint:staticcheck // Export is kept for the single-file layout.
	if err := s.db.Export(filepath.Join(path, IndexFile), true, ""); err != nil {
		return goerr.Wrap(err, "failed to export chromem index", goerr.V("path", path))
	}
	return nil
}

// Save implements memory.VectorStore: the rows in memstore layout plus the
// chromem export.
func (s *ChromemStore) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(path, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create store directory", goerr.V("path", path))
	}
	if err := s.exportIndex(path); err != nil {
		return err
	}
	if err := s.rows.Save(path); err != nil {
		return err
	}
	s.lastPath = path
	return nil
}

// Relocate implements memory.Relocator.
func (s *ChromemStore) Relocate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPath = path
}

// Load implements memory.VectorStore. The index is imported from the
// export when it matches the rows, otherwise rebuilt from them. The store
// is unchanged when Load fails.
func (s *ChromemStore) Load(path string) error {
	rows := memstore.New()
	if err := rows.Load(path); err != nil {
		return err
	}
	db, col, err := loadIndex(context.Background(), path, rows)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
	s.db = db
	s.col = col
	s.lastPath = path
	return nil
}

func loadIndex(ctx context.Context, path string, rows *memstore.Store) (*chromem.DB, *chromem.Collection, error) {
	logger := logging.Default()

	indexPath := filepath.Join(path, IndexFile)
	if _, err := os.Stat(indexPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, memory.Mark(memory.ErrStorageCorruption, err, "failed to stat index export", goerr.V("path", indexPath))
		}
		logger.Info("chromem index export missing, rebuilding", "path", path)
		return buildIndex(ctx, rows)
	}

	db := chromem.NewDB()
	//nolint:staticcheck // Import pairs with Export.
	if err := db.Import(indexPath, ""); err != nil {
		logger.Warn("chromem index export unreadable, rebuilding", "path", indexPath, "error", err)
		return buildIndex(ctx, rows)
	}
	col := db.GetCollection(collectionName, noEmbedding)
	if col == nil || col.Count() != rows.Count() {
		logger.Warn("chromem index export out of date, rebuilding", "path", indexPath, "rows", rows.Count())
		return buildIndex(ctx, rows)
	}
	return db, col, nil
}

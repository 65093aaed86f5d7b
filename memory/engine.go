package memory

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/compact-memory/core"
	"github.com/becomeliminal/compact-memory/logging"
)

// EngineID is the registry id of the prototype engine.
const EngineID = "prototype"

// PrototypeEngine consolidates ingested text into prototypes: every unique
// chunk is embedded, then either joins the nearest prototype (similarity >=
// Config.Threshold) or founds a new one.
//
// Chunks live in the VectorStore; prototype centroids live in the engine's
// own index since they change on every assignment.
//
// One engine drives writes to its store. Recall and accessors may run
// concurrently with each other.
type PrototypeEngine struct {
	mu       sync.RWMutex
	cfg      Config
	ref      EmbedderRef
	embedder Embedder
	store    VectorStore
	logger   *slog.Logger

	dim        int
	prototypes []Prototype
	byID       map[string]int
	hashes     map[string]string
	memories   []RawMemory
	evidence   []Evidence
	manifest   *Manifest

	// persisted tracks what the JSONL logs at savedPath already hold.
	savedPath         string
	persistedMemories int
	persistedEvidence int
}

// IngestResult counts what happened to each chunk of one ingest call.
type IngestResult struct {
	Chunks       int
	Deduplicated int
	Matched      int
	Created      int

	// MemoryIDs are the ids of the stored chunks, in input order.
	MemoryIDs []string
}

// RecallResult is one chunk returned by Recall.
type RecallResult struct {
	ID    string
	Text  string
	Score float32
}

// PrototypeMatch is one prototype returned by RecallPrototypes.
type PrototypeMatch struct {
	Prototype Prototype
	Score     float64
}

// NewPrototypeEngine creates an empty engine over store.
func NewPrototypeEngine(store VectorStore, ref EmbedderRef, cfg Config) (*PrototypeEngine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, goerr.Wrap(ErrConfiguration, "vector store is required")
	}
	if ref == nil {
		return nil, goerr.Wrap(ErrConfiguration, "embedder reference is required")
	}
	embedder, err := ref.resolve(cfg.Embedders)
	if err != nil {
		return nil, err
	}

	return &PrototypeEngine{
		cfg:      cfg,
		ref:      ref,
		embedder: embedder,
		store:    store,
		logger:   cfg.Logger,
		dim:      embedder.Dimensions(),
		byID:     make(map[string]int),
		hashes:   make(map[string]string),
	}, nil
}

// Open loads the engine saved at dir. When ref is nil the embedder named
// in meta.yaml is resolved through cfg.Embedders; a directory saved with an
// Inline embedder needs that embedder passed again.
func Open(dir string, store VectorStore, ref EmbedderRef, cfg Config) (*PrototypeEngine, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		if manifest.EmbeddingRef == RefInline {
			return nil, goerr.Wrap(ErrConfiguration, "engine was saved with an inline embedder, pass it to Open",
				goerr.V("model", manifest.EmbeddingModel), goerr.V("path", dir))
		}
		ref = Named(manifest.EmbeddingModel)
	}
	e, err := NewPrototypeEngine(store, ref, cfg)
	if err != nil {
		return nil, err
	}
	if err := e.Load(dir); err != nil {
		return nil, err
	}
	return e, nil
}

// ID implements core.Engine.
func (e *PrototypeEngine) ID() string {
	return EngineID
}

// Ingest chunks text with the configured Chunker and ingests the chunks.
func (e *PrototypeEngine) Ingest(ctx context.Context, text string) (*IngestResult, error) {
	return e.IngestChunks(ctx, e.cfg.Chunker.Chunk(text))
}

// IngestChunks deduplicates, embeds and places chunks. Either every unique
// chunk is stored, placed and (with a Path) saved, or nothing changes.
func (e *PrototypeEngine) IngestChunks(ctx context.Context, chunks []string) (*IngestResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	logger := logging.From(ctx)
	if logger == logging.Default() {
		logger = e.logger
	}

	result := &IngestResult{Chunks: len(chunks)}
	var texts, hashes []string
	batch := make(map[string]struct{})
	for _, chunk := range chunks {
		text := strings.TrimSpace(chunk)
		if text == "" {
			continue
		}
		h := ContentHash(text)
		if _, ok := e.hashes[h]; ok {
			result.Deduplicated++
			continue
		}
		if _, ok := batch[h]; ok {
			result.Deduplicated++
			continue
		}
		batch[h] = struct{}{}
		texts = append(texts, text)
		hashes = append(hashes, h)
	}
	if len(texts) == 0 {
		logger.Debug("nothing new to ingest", "chunks", len(chunks), "deduplicated", result.Deduplicated)
		return result, nil
	}

	vectors, err := e.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}
	dim := e.dim
	for i, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim || len(v) == 0 {
			return nil, DimensionError(dim, len(v), goerr.V("chunk", i))
		}
		vectors[i] = Normalize(v)
	}

	// Stage every change on copies. The live state is only replaced once
	// the store accepted the batch and, with a Path, the save committed.
	staged := make([]Prototype, len(e.prototypes))
	copy(staged, e.prototypes)
	now := e.cfg.Clock()

	entries := make([]Entry, len(texts))
	memories := make([]RawMemory, len(texts))
	evidence := make([]Evidence, len(texts))
	for i, vec := range vectors {
		memID := uuid.NewString()
		best, sim := nearest(staged, vec)

		var protoID string
		if best >= 0 && sim >= e.cfg.Threshold {
			p := &staged[best]
			p.Centroid, p.MeanNorm = updateCentroid(p.Centroid, p.MeanNorm, p.MemberCount, vec)
			p.MemberCount++
			p.UpdatedAt = now
			protoID = p.ID
			result.Matched++
		} else {
			p := Prototype{
				ID:          uuid.NewString(),
				Centroid:    vec,
				CreatedAt:   now,
				UpdatedAt:   now,
				MemberCount: 1,
				Summary:     texts[i],
				MeanNorm:    1,
			}
			staged = append(staged, p)
			protoID = p.ID
			sim = 1
			result.Created++
		}

		entries[i] = Entry{ID: memID, Text: texts[i], Vector: vec}
		memories[i] = RawMemory{
			ID:          memID,
			Text:        texts[i],
			ContentHash: hashes[i],
			Embedding:   vec,
			PrototypeID: protoID,
			CreatedAt:   now,
		}
		evidence[i] = Evidence{PrototypeID: protoID, MemoryID: memID, Timestamp: now, Similarity: sim}
		result.MemoryIDs = append(result.MemoryIDs, memID)
	}

	if err := e.store.Add(ctx, entries); err != nil {
		return nil, goerr.Wrap(err, "failed to store chunks", goerr.V("chunks", len(entries)))
	}

	next := snapshot{
		dim:        dim,
		prototypes: staged,
		memories:   slices.Concat(e.memories, memories),
		evidence:   slices.Concat(e.evidence, evidence),
	}
	if e.cfg.Path != "" {
		if err := e.saveLocked(e.cfg.Path, next); err != nil {
			if delErr := e.store.Delete(ctx, result.MemoryIDs); delErr != nil {
				logger.Error("failed to remove unsaved chunks from store", "error", delErr, "chunks", len(entries))
			}
			return nil, goerr.Wrap(err, "failed to persist ingest", goerr.V("path", e.cfg.Path))
		}
	}

	e.dim = next.dim
	e.prototypes = next.prototypes
	e.byID = make(map[string]int, len(staged))
	for i, p := range staged {
		e.byID[p.ID] = i
	}
	for i, h := range hashes {
		e.hashes[h] = memories[i].ID
	}
	e.memories = next.memories
	e.evidence = next.evidence

	logger.Info("ingested chunks",
		"chunks", result.Chunks,
		"deduplicated", result.Deduplicated,
		"matched", result.Matched,
		"created", result.Created,
		"prototypes", len(e.prototypes),
	)
	return result, nil
}

func (e *PrototypeEngine) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, text := range texts {
		g.Go(func() error {
			v, err := e.embedder.Embed(gctx, text)
			if err != nil {
				return Mark(ErrEmbedding, err, "failed to embed chunk", goerr.V("index", i), goerr.V("model", e.ref.Name()))
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *PrototypeEngine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	v, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, Mark(ErrEmbedding, err, "failed to embed query", goerr.V("model", e.ref.Name()))
	}
	if e.dim != 0 && len(v) != e.dim {
		return nil, DimensionError(e.dim, len(v))
	}
	return Normalize(v), nil
}

// nearest returns the index and similarity of the closest prototype, or -1.
// Earlier prototypes win ties.
func nearest(prototypes []Prototype, vec []float32) (int, float64) {
	best, bestSim := -1, 0.0
	for i, p := range prototypes {
		sim := Dot(p.Centroid, vec)
		if best < 0 || sim > bestSim {
			best, bestSim = i, sim
		}
	}
	return best, bestSim
}

// Recall returns the k stored chunks most similar to query, best first.
// Ids the store cannot resolve are dropped.
func (e *PrototypeEngine) Recall(ctx context.Context, query string, k int) ([]RecallResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if k <= 0 {
		return []RecallResult{}, nil
	}
	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := e.store.FindNearest(ctx, vec, k)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search store")
	}
	if len(matches) == 0 {
		return []RecallResult{}, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	texts, err := e.store.GetTexts(ctx, ids)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve texts")
	}

	results := make([]RecallResult, 0, len(matches))
	for _, m := range matches {
		text, ok := texts[m.ID]
		if !ok {
			continue
		}
		results = append(results, RecallResult{ID: m.ID, Text: text, Score: m.Score})
	}
	e.logger.Debug("recall", "query_len", len(query), "k", k, "results", len(results))
	return results, nil
}

// RecallPrototypes returns the k prototypes closest to query, best first.
// Equal scores keep creation order.
func (e *PrototypeEngine) RecallPrototypes(ctx context.Context, query string, k int) ([]PrototypeMatch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if k <= 0 || len(e.prototypes) == 0 {
		return []PrototypeMatch{}, nil
	}
	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	matches := make([]PrototypeMatch, len(e.prototypes))
	for i, p := range e.prototypes {
		matches[i] = PrototypeMatch{Prototype: p.clone(), Score: Dot(p.Centroid, vec)}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Compress implements core.Engine. It ingests the text (the previous
// stage's output when given) and returns prototype summaries, largest
// prototype first, one per line, within budget tokens.
func (e *PrototypeEngine) Compress(ctx context.Context, text string, budget int, opts ...core.CompressOption) (*core.CompressedMemory, error) {
	start := time.Now()
	o := core.ApplyCompressOptions(opts...)
	src := o.SourceText(text)

	ingested, err := e.Ingest(ctx, src)
	if err != nil {
		return nil, err
	}

	protos := e.Prototypes()
	sort.SliceStable(protos, func(i, j int) bool {
		return protos[i].MemberCount > protos[j].MemberCount
	})

	tok := e.cfg.Tokenizer
	var lines []string
	for _, p := range protos {
		candidate := strings.Join(append(lines, p.Summary), "\n")
		if budget > 0 && tok.Count(candidate) > budget {
			break
		}
		lines = append(lines, p.Summary)
	}
	out := strings.Join(lines, "\n")

	params := map[string]any{"budget": budget, "threshold": e.cfg.Threshold}
	trace := &core.CompressionTrace{
		EngineName: EngineID,
		Params:     params,
		Input:      core.Summarize(tok, src),
		Output:     core.Summarize(tok, out),
		Steps: []core.Step{
			{Type: "ingest", Details: map[string]any{
				"chunks":       ingested.Chunks,
				"deduplicated": ingested.Deduplicated,
				"matched":      ingested.Matched,
				"created":      ingested.Created,
			}},
			{Type: "select_prototypes", Details: map[string]any{
				"available": len(protos),
				"selected":  len(lines),
			}},
		},
		Duration:     time.Since(start),
		FinalPreview: core.Preview(out),
	}

	return &core.CompressedMemory{
		Text:         out,
		EngineID:     EngineID,
		EngineConfig: maps.Clone(params),
		Trace:        trace,
		Metadata:     map[string]any{"compression_ratio": core.CompressionRatio(src, out)},
	}, nil
}

// Prototypes returns copies of all prototypes in creation order.
func (e *PrototypeEngine) Prototypes() []Prototype {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Prototype, len(e.prototypes))
	for i, p := range e.prototypes {
		out[i] = p.clone()
	}
	return out
}

// Evidence returns the evidence log.
func (e *PrototypeEngine) Evidence() []Evidence {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Evidence(nil), e.evidence...)
}

// Memories returns the ingested chunks in ingestion order.
func (e *PrototypeEngine) Memories() []RawMemory {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]RawMemory(nil), e.memories...)
}

// Store returns the chunk store.
func (e *PrototypeEngine) Store() VectorStore {
	return e.store
}

// Embedder returns the resolved embedder.
func (e *PrototypeEngine) Embedder() Embedder {
	return e.embedder
}

// Manifest returns a copy of the manifest of the last save or load, nil if
// the engine was never persisted.
func (e *PrototypeEngine) Manifest() *Manifest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.manifest == nil {
		return nil
	}
	m := *e.manifest
	return &m
}

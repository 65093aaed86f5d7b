package memory_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/becomeliminal/compact-memory/core"
	"github.com/becomeliminal/compact-memory/memory"
	"github.com/becomeliminal/compact-memory/memory/embedder/mock"
	"github.com/becomeliminal/compact-memory/memory/npy"
	"github.com/becomeliminal/compact-memory/memory/store/memstore"
	"github.com/m-mizutani/gt"
)

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func newEngine(t *testing.T, emb memory.Embedder, threshold float64) (*memory.PrototypeEngine, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	e, err := memory.NewPrototypeEngine(store, memory.Inline(emb), memory.Config{
		Threshold: threshold,
		Clock:     fixedClock,
	})
	gt.NoError(t, err).Required()
	return e, store
}

func sumMembers(protos []memory.Prototype) int {
	n := 0
	for _, p := range protos {
		n += p.MemberCount
	}
	return n
}

func TestTwoSentenceScenario(t *testing.T) {
	ctx := context.Background()
	emb := &mock.Table{Dim: 3, Vectors: map[string][]float32{
		"the sky is blue":  {1, 0, 0},
		"cats are mammals": {0.01, 1, 0},
	}}
	e, store := newEngine(t, emb, 0.99)

	res, err := e.IngestChunks(ctx, []string{"the sky is blue", "the sky is blue", "cats are mammals"})
	gt.NoError(t, err).Required()

	gt.Value(t, res.Chunks).Equal(3)
	gt.Value(t, res.Deduplicated).Equal(1)
	gt.Value(t, res.Created).Equal(2)
	gt.Value(t, res.Matched).Equal(0)

	protos := e.Prototypes()
	gt.Array(t, protos).Length(2)
	gt.Value(t, protos[0].MemberCount).Equal(1)
	gt.Value(t, protos[0].Summary).Equal("the sky is blue")
	gt.Value(t, protos[1].MemberCount).Equal(1)
	gt.Value(t, protos[1].Summary).Equal("cats are mammals")

	gt.Array(t, e.Evidence()).Length(2)
	gt.Value(t, store.Count()).Equal(2)
	gt.Value(t, emb.Calls()).Equal(2)
}

func TestDedupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	emb := mock.New(mock.WithDimensions(16))
	e, store := newEngine(t, emb, 0.9)

	chunks := []string{"alpha", "beta", "gamma"}
	_, err := e.IngestChunks(ctx, chunks)
	gt.NoError(t, err).Required()

	protos := len(e.Prototypes())
	evidence := len(e.Evidence())
	calls := emb.Calls()

	res, err := e.IngestChunks(ctx, []string{"alpha", "  beta  ", "gamma"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Deduplicated).Equal(3)
	gt.Array(t, res.MemoryIDs).Length(0)
	gt.Array(t, e.Prototypes()).Length(protos)
	gt.Array(t, e.Evidence()).Length(evidence)
	gt.Value(t, store.Count()).Equal(3)
	gt.Value(t, emb.Calls()).Equal(calls)
}

func TestMemberCountsMatchDistinctChunks(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, mock.New(mock.WithDimensions(4)), 0.2)

	distinct := map[string]struct{}{}
	for round := 0; round < 3; round++ {
		var chunks []string
		for i := 0; i < 20; i++ {
			text := fmt.Sprintf("chunk %d", (i*7+round*5)%30)
			chunks = append(chunks, text)
			distinct[text] = struct{}{}
		}
		_, err := e.IngestChunks(ctx, chunks)
		gt.NoError(t, err).Required()

		gt.Value(t, sumMembers(e.Prototypes())).Equal(len(distinct))
		gt.Array(t, e.Memories()).Length(len(distinct))
		gt.Array(t, e.Evidence()).Length(len(distinct))
	}
}

// meanOf recomputes normalize(mean(normalize(v))) over member vectors.
func meanOf(vectors ...[]float32) []float32 {
	sum := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		u := memory.Normalize(v)
		for i := range u {
			sum[i] += u[i]
		}
	}
	return memory.Normalize(sum)
}

func assertClose(t *testing.T, got, want []float32) {
	t.Helper()
	gt.Array(t, got).Length(len(want))
	for i := range want {
		gt.Bool(t, math.Abs(float64(got[i]-want[i])) < 1e-5).True()
	}
}

func TestCentroidIsNormalizedMean(t *testing.T) {
	ctx := context.Background()
	vectors := map[string][]float32{
		"a": {1, 0.1, 0},
		"b": {2, 0.4, 0},
		"c": {1, -0.1, 0.05},
		"d": {0.9, 0.2, 0.1},
	}
	emb := &mock.Table{Dim: 3, Vectors: vectors}
	e, _ := newEngine(t, emb, 0.9)

	_, err := e.IngestChunks(ctx, []string{"a", "b"})
	gt.NoError(t, err).Required()
	protos := e.Prototypes()
	gt.Array(t, protos).Length(1)
	assertClose(t, protos[0].Centroid, meanOf(vectors["a"], vectors["b"]))
	gt.Bool(t, math.Abs(memory.Norm(protos[0].Centroid)-1) < 1e-6).True()

	_, err = e.IngestChunks(ctx, []string{"c"})
	gt.NoError(t, err).Required()
	assertClose(t, e.Prototypes()[0].Centroid, meanOf(vectors["a"], vectors["b"], vectors["c"]))

	// the running mean survives a save/load cycle
	dir := t.TempDir()
	gt.NoError(t, e.Save(dir)).Required()
	reopened, err := memory.Open(dir, memstore.New(), memory.Inline(emb), memory.Config{Threshold: 0.9})
	gt.NoError(t, err).Required()

	_, err = reopened.IngestChunks(ctx, []string{"d"})
	gt.NoError(t, err).Required()
	protos = reopened.Prototypes()
	gt.Value(t, protos[0].MemberCount).Equal(4)
	assertClose(t, protos[0].Centroid, meanOf(vectors["a"], vectors["b"], vectors["c"], vectors["d"]))
}

func TestExactThresholdIsAssigned(t *testing.T) {
	ctx := context.Background()
	emb := &mock.Table{Dim: 2, Vectors: map[string][]float32{
		"x":    {1, 0},
		"tilt": {3, 4},
	}}
	// cos(x, tilt) == 0.6 once both are normalized
	threshold := float64(memory.Normalize([]float32{3, 4})[0])
	e, _ := newEngine(t, emb, threshold)

	res, err := e.IngestChunks(ctx, []string{"x", "tilt"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Matched).Equal(1)
	gt.Array(t, e.Prototypes()).Length(1)
}

func TestEmbeddingFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("model offline")
	emb := &mock.Table{Dim: 2,
		Vectors: map[string][]float32{"ok": {1, 0}, "flaky": {0, 1}},
		Fail:    map[string]error{"flaky": boom},
	}
	e, store := newEngine(t, emb, 0.9)

	_, err := e.IngestChunks(ctx, []string{"ok", "flaky"})
	gt.Error(t, err).Is(memory.ErrEmbedding)
	gt.Error(t, err).Is(boom)
	gt.Array(t, e.Prototypes()).Length(0)
	gt.Array(t, e.Evidence()).Length(0)
	gt.Value(t, store.Count()).Equal(0)

	// nothing was marked as seen, so a retry ingests both
	delete(emb.Fail, "flaky")
	res, err := e.IngestChunks(ctx, []string{"ok", "flaky"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Created).Equal(2)
}

type failingStore struct {
	*memstore.Store
	err error
}

func (s *failingStore) Add(ctx context.Context, entries []memory.Entry) error {
	return s.err
}

func TestStoreFailureDiscardsBatch(t *testing.T) {
	ctx := context.Background()
	emb := mock.New(mock.WithDimensions(8))
	storeErr := errors.New("disk full")
	store := &failingStore{Store: memstore.New(), err: storeErr}
	e, err := memory.NewPrototypeEngine(store, memory.Inline(emb), memory.Config{Threshold: 0.5})
	gt.NoError(t, err).Required()

	_, err = e.IngestChunks(ctx, []string{"one", "two"})
	gt.Error(t, err).Is(storeErr)
	gt.Array(t, e.Prototypes()).Length(0)
	gt.Array(t, e.Memories()).Length(0)
	gt.Array(t, e.Evidence()).Length(0)

	store.err = nil
	store.Store = memstore.New()
	res, err := e.IngestChunks(ctx, []string{"one"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Deduplicated).Equal(0)
}

func TestPersistFailureLeavesEngineUnchanged(t *testing.T) {
	ctx := context.Background()
	emb := mock.New(mock.WithDimensions(8))
	blocker := filepath.Join(t.TempDir(), "blocker")
	gt.NoError(t, os.WriteFile(blocker, []byte("file"), 0o644)).Required()
	dir := filepath.Join(blocker, "engine")

	store := memstore.New()
	e, err := memory.NewPrototypeEngine(store, memory.Inline(emb), memory.Config{Threshold: 0.5, Path: dir})
	gt.NoError(t, err).Required()

	_, err = e.IngestChunks(ctx, []string{"a", "b"})
	gt.Value(t, err).NotNil()
	gt.Array(t, e.Prototypes()).Length(0)
	gt.Array(t, e.Memories()).Length(0)
	gt.Array(t, e.Evidence()).Length(0)
	gt.Value(t, store.Count()).Equal(0)

	gt.NoError(t, os.Remove(blocker)).Required()
	res, err := e.IngestChunks(ctx, []string{"a", "b"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Deduplicated).Equal(0)
	gt.Array(t, res.MemoryIDs).Length(2)
	gt.Value(t, store.Count()).Equal(2)

	reopened, err := memory.Open(dir, memstore.New(), memory.Inline(emb), memory.Config{Threshold: 0.5})
	gt.NoError(t, err).Required()
	gt.Array(t, reopened.Memories()).Length(2)
}

type saveFailingStore struct {
	*memstore.Store
	err error
}

func (s *saveFailingStore) Save(path string) error {
	if s.err != nil {
		return s.err
	}
	return s.Store.Save(path)
}

func TestFailedSaveKeepsPreviousStateOnDisk(t *testing.T) {
	ctx := context.Background()
	emb := mock.New(mock.WithDimensions(8))
	dir := filepath.Join(t.TempDir(), "engine")
	store := &saveFailingStore{Store: memstore.New()}
	e, err := memory.NewPrototypeEngine(store, memory.Inline(emb), memory.Config{Threshold: 0.5, Path: dir})
	gt.NoError(t, err).Required()

	_, err = e.IngestChunks(ctx, []string{"first"})
	gt.NoError(t, err).Required()

	saveErr := errors.New("disk full")
	store.err = saveErr
	_, err = e.IngestChunks(ctx, []string{"second", "third"})
	gt.Error(t, err).Is(saveErr)
	gt.Array(t, e.Memories()).Length(1)
	gt.Value(t, store.Count()).Equal(1)

	_, err = os.Stat(filepath.Join(dir, memory.StoreDir+".staging"))
	gt.Bool(t, errors.Is(err, os.ErrNotExist)).True()

	onDisk, err := memory.Open(dir, memstore.New(), memory.Inline(emb), memory.Config{Threshold: 0.5})
	gt.NoError(t, err).Required()
	gt.Array(t, onDisk.Memories()).Length(1)
	gt.Array(t, onDisk.Evidence()).Length(1)
	gt.Value(t, onDisk.Memories()[0].Text).Equal("first")

	store.err = nil
	res, err := e.IngestChunks(ctx, []string{"second"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Deduplicated).Equal(0)
	// records past the last committed size were dropped before appending
	gt.Value(t, countLines(t, filepath.Join(dir, memory.MemoriesFile))).Equal(2)
	gt.Value(t, countLines(t, filepath.Join(dir, memory.EvidenceFile))).Equal(2)

	reopened, err := memory.Open(dir, memstore.New(), memory.Inline(emb), memory.Config{Threshold: 0.5})
	gt.NoError(t, err).Required()
	gt.Array(t, reopened.Memories()).Length(2)
}

func TestZeroThresholdSelectsDefault(t *testing.T) {
	ctx := context.Background()
	emb := &mock.Table{Dim: 2, Vectors: map[string][]float32{
		"a": {1, 0},
		"b": {1, 1},
	}}

	e, _ := newEngine(t, emb, 0)
	res, err := e.IngestChunks(ctx, []string{"a", "b"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Created).Equal(2)

	loose, _ := newEngine(t, emb, -1)
	res, err = loose.IngestChunks(ctx, []string{"a", "b"})
	gt.NoError(t, err).Required()
	gt.Value(t, res.Created).Equal(1)
	gt.Value(t, res.Matched).Equal(1)
}

func TestDimensionMismatchFromEmbedder(t *testing.T) {
	emb := &mock.Table{Dim: 3, Vectors: map[string][]float32{"short": {1, 0}}}
	e, _ := newEngine(t, emb, 0.9)

	_, err := e.IngestChunks(context.Background(), []string{"short"})
	gt.Error(t, err).Is(memory.ErrDimensionMismatch)
	gt.Bool(t, errors.Is(err, memory.ErrConfiguration)).True()
}

func TestRecall(t *testing.T) {
	ctx := context.Background()
	emb := &mock.Table{Dim: 3, Vectors: map[string][]float32{
		"the sky is blue":   {1, 0, 0},
		"cats are mammals":  {0, 1, 0},
		"dogs are mammals":  {0, 0.9, 0.3},
		"what are mammals?": {0, 1, 0.1},
	}}
	e, _ := newEngine(t, emb, 0.99)

	cold, err := e.Recall(ctx, "what are mammals?", 3)
	gt.NoError(t, err).Required()
	gt.Array(t, cold).Length(0)

	_, err = e.IngestChunks(ctx, []string{"the sky is blue", "cats are mammals", "dogs are mammals"})
	gt.NoError(t, err).Required()

	got, err := e.Recall(ctx, "what are mammals?", 2)
	gt.NoError(t, err).Required()
	gt.Array(t, got).Length(2)
	gt.Value(t, got[0].Text).Equal("cats are mammals")
	gt.Value(t, got[1].Text).Equal("dogs are mammals")
	gt.Bool(t, got[0].Score >= got[1].Score).True()

	none, err := e.Recall(ctx, "what are mammals?", 0)
	gt.NoError(t, err).Required()
	gt.Array(t, none).Length(0)

	protos, err := e.RecallPrototypes(ctx, "what are mammals?", 1)
	gt.NoError(t, err).Required()
	gt.Array(t, protos).Length(1)
	gt.Value(t, protos[0].Prototype.Summary).Equal("cats are mammals")
}

type forgetfulStore struct {
	*memstore.Store
	forget string
}

func (s *forgetfulStore) GetTexts(ctx context.Context, ids []string) (map[string]string, error) {
	texts, err := s.Store.GetTexts(ctx, ids)
	delete(texts, s.forget)
	return texts, err
}

func TestRecallDropsUnresolvedIDs(t *testing.T) {
	ctx := context.Background()
	emb := &mock.Table{Dim: 3, Vectors: map[string][]float32{
		"x":     {1, 0, 0},
		"xy":    {1, 1, 0},
		"y":     {0, 1, 0},
		"query": {1, 0.1, 0},
	}}
	store := &forgetfulStore{Store: memstore.New()}
	e, err := memory.NewPrototypeEngine(store, memory.Inline(emb), memory.Config{Threshold: 0.99})
	gt.NoError(t, err).Required()

	res, err := e.IngestChunks(ctx, []string{"x", "xy", "y"})
	gt.NoError(t, err).Required()
	store.forget = res.MemoryIDs[1]

	got, err := e.Recall(ctx, "query", 3)
	gt.NoError(t, err).Required()
	gt.Array(t, got).Length(2)
	gt.Value(t, got[0].Text).Equal("x")
	gt.Value(t, got[1].Text).Equal("y")
	gt.Bool(t, got[0].Score > got[1].Score).True()
}

func TestRecallEmbeddingError(t *testing.T) {
	emb := &mock.Table{Dim: 2, Vectors: map[string][]float32{}}
	e, _ := newEngine(t, emb, 0.9)

	_, err := e.Recall(context.Background(), "unknown", 3)
	gt.Error(t, err).Is(memory.ErrEmbedding)
	gt.Error(t, err).Is(mock.ErrUnknownText)
}

func TestCompress(t *testing.T) {
	ctx := context.Background()
	emb := &mock.Table{Dim: 2, Vectors: map[string][]float32{
		"Beta.":      {0, 1},
		"Alpha one.": {1, 0},
		"Alpha two.": {1, 0.05},
	}}
	e, _ := newEngine(t, emb, 0.9)

	out, err := e.Compress(ctx, "ignored", 2,
		core.WithPrevious(&core.CompressedMemory{Text: "Beta. Alpha one. Alpha two."}))
	gt.NoError(t, err).Required()

	// Alpha holds two members and sorts first; Beta would exceed the budget.
	gt.Value(t, out.Text).Equal("Alpha one.")
	gt.Value(t, out.EngineID).Equal(memory.EngineID)
	gt.Map(t, out.Metadata).HasKey("compression_ratio")
	gt.Array(t, out.Trace.Steps).Length(2)
	gt.Value(t, out.Trace.Steps[0].Type).Equal("ingest")
	gt.Value(t, out.Trace.Steps[1].Type).Equal("select_prototypes")
	gt.Value(t, out.Trace.Output.Tokens).Equal(2)

	all, err := e.Compress(ctx, "Beta.", 0)
	gt.NoError(t, err).Required()
	gt.Value(t, all.Text).Equal("Alpha one.\nBeta.")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	emb := mock.New(mock.WithDimensions(8))
	dir := filepath.Join(t.TempDir(), "engine")

	store := memstore.New()
	e, err := memory.NewPrototypeEngine(store, memory.Inline(emb), memory.Config{
		Threshold: 0.5,
		Path:      dir,
		Clock:     fixedClock,
	})
	gt.NoError(t, err).Required()

	_, err = e.Ingest(ctx, "The sky is blue. Cats are mammals. Dogs bark loudly.")
	gt.NoError(t, err).Required()
	_, err = e.Ingest(ctx, "Rain falls in spring. The sky is blue.")
	gt.NoError(t, err).Required()

	for _, name := range []string{memory.ManifestFile, memory.PrototypesFile, memory.VectorsFile, memory.MemoriesFile, memory.EvidenceFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		gt.NoError(t, err).Required()
	}
	// the chunk log was appended, not rewritten
	gt.Value(t, countLines(t, filepath.Join(dir, memory.MemoriesFile))).Equal(len(e.Memories()))
	gt.Value(t, countLines(t, filepath.Join(dir, memory.EvidenceFile))).Equal(len(e.Evidence()))

	loaded, err := memory.Open(dir, memstore.New(), memory.Inline(emb), memory.Config{Threshold: 0.5})
	gt.NoError(t, err).Required()

	gt.Value(t, loaded.Prototypes()).Equal(e.Prototypes())
	gt.Value(t, loaded.Evidence()).Equal(e.Evidence())
	gt.Array(t, loaded.Memories()).Length(len(e.Memories()))
	gt.Value(t, loaded.Manifest().EmbeddingModel).Equal(mock.DefaultModelID)
	gt.Value(t, loaded.Manifest().EmbeddingDim).Equal(8)

	want, err := e.Recall(ctx, "Cats are mammals.", 3)
	gt.NoError(t, err).Required()
	got, err := loaded.Recall(ctx, "Cats are mammals.", 3)
	gt.NoError(t, err).Required()
	gt.Value(t, got).Equal(want)

	res, err := loaded.Ingest(ctx, "Dogs bark loudly.")
	gt.NoError(t, err).Required()
	gt.Value(t, res.Deduplicated).Equal(1)
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	gt.NoError(t, err).Required()
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestLoadRefusesNewerVersionBeforeReadingData(t *testing.T) {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, memory.ManifestFile), []byte("version: 2\nembedding_model: mock-fnv\nembedding_dim: 8\n"), 0o644)).Required()
	// would be a corruption error if it were read
	gt.NoError(t, os.WriteFile(filepath.Join(dir, memory.PrototypesFile), []byte("{not json"), 0o644)).Required()

	_, err := memory.Open(dir, memstore.New(), memory.Inline(mock.New(mock.WithDimensions(8))), memory.Config{})
	gt.Error(t, err).Is(memory.ErrUnsupportedVersion)
	gt.Bool(t, errors.Is(err, memory.ErrStorageCorruption)).False()

	e, _ := newEngine(t, mock.New(mock.WithDimensions(8)), 0.5)
	gt.Error(t, e.Load(dir)).Is(memory.ErrUnsupportedVersion)
}

func TestLoadRejectsInvalidState(t *testing.T) {
	ctx := context.Background()
	emb := mock.New(mock.WithDimensions(8))
	save := func(t *testing.T) string {
		e, _ := newEngine(t, emb, 0.5)
		_, err := e.IngestChunks(ctx, []string{"a", "b", "c"})
		gt.NoError(t, err).Required()
		dir := t.TempDir()
		gt.NoError(t, e.Save(dir)).Required()
		return dir
	}

	t.Run("missing directory", func(t *testing.T) {
		_, err := memory.Open(filepath.Join(t.TempDir(), "nope"), memstore.New(), memory.Inline(emb), memory.Config{})
		gt.Error(t, err).Is(memory.ErrStorageCorruption)
	})

	t.Run("version zero", func(t *testing.T) {
		dir := t.TempDir()
		gt.NoError(t, os.WriteFile(filepath.Join(dir, memory.ManifestFile), []byte("embedding_dim: 8\n"), 0o644)).Required()
		_, err := memory.Open(dir, memstore.New(), memory.Inline(emb), memory.Config{})
		gt.Error(t, err).Is(memory.ErrStorageCorruption)
	})

	t.Run("vector rows differ from prototypes", func(t *testing.T) {
		dir := save(t)
		gt.NoError(t, npy.WriteFile(filepath.Join(dir, memory.VectorsFile), nil, 8)).Required()
		_, err := memory.Open(dir, memstore.New(), memory.Inline(emb), memory.Config{})
		gt.Error(t, err).Is(memory.ErrStorageCorruption)
	})

	t.Run("truncated chunk log", func(t *testing.T) {
		dir := save(t)
		gt.NoError(t, os.WriteFile(filepath.Join(dir, memory.MemoriesFile), []byte("{\"id\":"), 0o644)).Required()
		_, err := memory.Open(dir, memstore.New(), memory.Inline(emb), memory.Config{})
		gt.Error(t, err).Is(memory.ErrStorageCorruption)
	})

	t.Run("different embedder", func(t *testing.T) {
		dir := save(t)
		other := mock.New(mock.WithDimensions(8), mock.WithModelID("other"))
		_, err := memory.Open(dir, memstore.New(), memory.Inline(other), memory.Config{})
		gt.Error(t, err).Is(memory.ErrConfiguration)
	})

	t.Run("different dimension", func(t *testing.T) {
		dir := save(t)
		wide := mock.New(mock.WithDimensions(16))
		_, err := memory.Open(dir, memstore.New(), memory.Inline(wide), memory.Config{})
		gt.Error(t, err).Is(memory.ErrDimensionMismatch)
	})
}

func TestOpenResolvesNamedEmbedder(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewEmbedderRegistry()
	gt.NoError(t, reg.Register("mini", func() (memory.Embedder, error) {
		return mock.New(mock.WithDimensions(8)), nil
	})).Required()

	cfg := memory.Config{Threshold: 0.5, Embedders: reg}
	e, err := memory.NewPrototypeEngine(memstore.New(), memory.Named("mini"), cfg)
	gt.NoError(t, err).Required()
	_, err = e.IngestChunks(ctx, []string{"hello"})
	gt.NoError(t, err).Required()
	dir := t.TempDir()
	gt.NoError(t, e.Save(dir)).Required()

	reopened, err := memory.Open(dir, memstore.New(), nil, cfg)
	gt.NoError(t, err).Required()
	gt.Value(t, reopened.Manifest().EmbeddingModel).Equal("mini")
	gt.Value(t, reopened.Manifest().EmbeddingRef).Equal(memory.RefNamed)
	gt.Array(t, reopened.Memories()).Length(1)

	_, err = memory.Open(dir, memstore.New(), nil, memory.Config{})
	gt.Error(t, err).Is(memory.ErrConfiguration)
}

func TestInlineEmbedderIsNotReopenedByName(t *testing.T) {
	ctx := context.Background()
	emb := mock.New(mock.WithDimensions(8))
	e, _ := newEngine(t, emb, 0.5)
	_, err := e.IngestChunks(ctx, []string{"hello"})
	gt.NoError(t, err).Required()
	dir := t.TempDir()
	gt.NoError(t, e.Save(dir)).Required()
	gt.Value(t, e.Manifest().EmbeddingRef).Equal(memory.RefInline)

	reg := memory.NewEmbedderRegistry()
	gt.NoError(t, reg.Register(mock.DefaultModelID, func() (memory.Embedder, error) {
		return mock.New(mock.WithDimensions(8)), nil
	})).Required()
	cfg := memory.Config{Threshold: 0.5, Embedders: reg}

	_, err = memory.Open(dir, memstore.New(), nil, cfg)
	gt.Error(t, err).Is(memory.ErrConfiguration)

	_, err = memory.Open(dir, memstore.New(), memory.Named(mock.DefaultModelID), cfg)
	gt.Error(t, err).Is(memory.ErrConfiguration)

	reopened, err := memory.Open(dir, memstore.New(), memory.Inline(emb), cfg)
	gt.NoError(t, err).Required()
	gt.Array(t, reopened.Memories()).Length(1)
}

func TestEngineConfiguration(t *testing.T) {
	emb := mock.New()

	_, err := memory.NewPrototypeEngine(memstore.New(), memory.Inline(emb), memory.Config{Threshold: 1.5})
	gt.Error(t, err).Is(memory.ErrConfiguration)

	_, err = memory.NewPrototypeEngine(nil, memory.Inline(emb), memory.Config{})
	gt.Error(t, err).Is(memory.ErrConfiguration)

	_, err = memory.NewPrototypeEngine(memstore.New(), memory.Named("missing"), memory.Config{})
	gt.Error(t, err).Is(memory.ErrConfiguration)

	gt.Bool(t, memory.Named("x").Persistable()).True()
	gt.Bool(t, memory.Inline(emb).Persistable()).False()
	gt.Value(t, memory.Inline(emb).Name()).Equal(mock.DefaultModelID)
}

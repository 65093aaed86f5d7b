// Package storetest is the behaviour suite every memory.VectorStore backend
// runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/becomeliminal/compact-memory/memory"
	"github.com/m-mizutani/gt"
)

// Run exercises newStore against the VectorStore contract. newStore must
// return an empty, normalizing store each call.
func Run(t *testing.T, newStore func(t *testing.T) memory.VectorStore) {
	t.Helper()

	t.Run("empty store returns no matches", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		matches, err := store.FindNearest(ctx, []float32{1, 0, 0}, 5)
		gt.NoError(t, err).Required()
		gt.Array(t, matches).Length(0)
		gt.Value(t, store.Count()).Equal(0)

		texts, err := store.GetTexts(ctx, []string{"missing"})
		gt.NoError(t, err).Required()
		gt.Value(t, len(texts)).Equal(0)
	})

	t.Run("Add makes entries queryable", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		gt.NoError(t, store.Add(ctx, []memory.Entry{
			{ID: "x", Text: "along x", Vector: []float32{1, 0, 0}},
			{ID: "y", Text: "along y", Vector: []float32{0, 2, 0}},
			{ID: "xy", Text: "between", Vector: []float32{1, 1, 0}},
		})).Required()
		gt.Value(t, store.Count()).Equal(3)

		matches, err := store.FindNearest(ctx, []float32{1, 0, 0}, 2)
		gt.NoError(t, err).Required()
		gt.Array(t, matches).Length(2)
		gt.Value(t, matches[0].ID).Equal("x")
		gt.Value(t, matches[1].ID).Equal("xy")
		gt.Bool(t, math.Abs(float64(matches[0].Score)-1) < 1e-5).True()
		gt.Bool(t, math.Abs(float64(matches[1].Score)-1/math.Sqrt2) < 1e-5).True()

		all, err := store.FindNearest(ctx, []float32{0, 1, 0}, 10)
		gt.NoError(t, err).Required()
		gt.Array(t, all).Length(3)
		for i := 1; i < len(all); i++ {
			gt.Bool(t, all[i-1].Score >= all[i].Score).True()
		}
	})

	t.Run("non-positive k returns nothing", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		gt.NoError(t, store.Add(ctx, []memory.Entry{{ID: "a", Text: "a", Vector: []float32{1, 0}}})).Required()

		matches, err := store.FindNearest(ctx, []float32{1, 0}, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, matches).Length(0)
	})

	t.Run("equal scores keep insertion order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		gt.NoError(t, store.Add(ctx, []memory.Entry{
			{ID: "first", Text: "1", Vector: []float32{0, 1, 0}},
			{ID: "far", Text: "far", Vector: []float32{0, 0, 1}},
		})).Required()
		gt.NoError(t, store.Add(ctx, []memory.Entry{
			{ID: "second", Text: "2", Vector: []float32{0, 3, 0}},
			{ID: "third", Text: "3", Vector: []float32{0, 1, 0}},
		})).Required()

		matches, err := store.FindNearest(ctx, []float32{0, 1, 0}, 3)
		gt.NoError(t, err).Required()
		gt.Array(t, matches).Length(3)
		gt.Value(t, matches[0].ID).Equal("first")
		gt.Value(t, matches[1].ID).Equal("second")
		gt.Value(t, matches[2].ID).Equal("third")

		top, err := store.FindNearest(ctx, []float32{0, 1, 0}, 1)
		gt.NoError(t, err).Required()
		gt.Value(t, top[0].ID).Equal("first")
	})

	t.Run("duplicate ids fail the whole batch", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		gt.NoError(t, store.Add(ctx, []memory.Entry{{ID: "a", Text: "a", Vector: []float32{1, 0}}})).Required()

		err := store.Add(ctx, []memory.Entry{
			{ID: "b", Text: "b", Vector: []float32{0, 1}},
			{ID: "a", Text: "again", Vector: []float32{1, 1}},
		})
		gt.Error(t, err).Is(memory.ErrDuplicateID)
		gt.Value(t, store.Count()).Equal(1)

		err = store.Add(ctx, []memory.Entry{
			{ID: "c", Text: "c", Vector: []float32{0, 1}},
			{ID: "c", Text: "c", Vector: []float32{0, 1}},
		})
		gt.Error(t, err).Is(memory.ErrDuplicateID)
		gt.Value(t, store.Count()).Equal(1)

		texts, err := store.GetTexts(ctx, []string{"a", "b", "c"})
		gt.NoError(t, err).Required()
		gt.Value(t, texts).Equal(map[string]string{"a": "a"})
	})

	t.Run("dimension mismatch is a configuration error", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		gt.NoError(t, store.Add(ctx, []memory.Entry{{ID: "a", Text: "a", Vector: []float32{1, 0, 0}}})).Required()

		err := store.Add(ctx, []memory.Entry{{ID: "b", Text: "b", Vector: []float32{1, 0}}})
		gt.Error(t, err).Is(memory.ErrDimensionMismatch)
		gt.Bool(t, errors.Is(err, memory.ErrConfiguration)).True()
		gt.Value(t, store.Count()).Equal(1)

		_, err = store.FindNearest(ctx, []float32{1, 0}, 1)
		gt.Error(t, err).Is(memory.ErrDimensionMismatch)
	})

	t.Run("GetTexts omits unknown ids", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		gt.NoError(t, store.Add(ctx, []memory.Entry{
			{ID: "a", Text: "alpha", Vector: []float32{1, 0}},
			{ID: "b", Text: "beta", Vector: []float32{0, 1}},
		})).Required()

		texts, err := store.GetTexts(ctx, []string{"b", "zzz"})
		gt.NoError(t, err).Required()
		gt.Value(t, texts).Equal(map[string]string{"b": "beta"})
	})

	t.Run("Save and Load round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		entries := fixture(40, 8)
		gt.NoError(t, store.Add(ctx, entries)).Required()

		dir := filepath.Join(t.TempDir(), "store")
		gt.NoError(t, store.Save(dir)).Required()

		loaded := newStore(t)
		gt.NoError(t, loaded.Load(dir)).Required()
		gt.Value(t, loaded.Count()).Equal(store.Count())

		for _, q := range [][]float32{axis(8, 0), entries[3].Vector, entries[17].Vector} {
			want, err := store.FindNearest(ctx, q, 5)
			gt.NoError(t, err).Required()
			got, err := loaded.FindNearest(ctx, q, 5)
			gt.NoError(t, err).Required()
			gt.Value(t, ids(got)).Equal(ids(want))
		}

		allIDs := entryIDs(entries)
		want, err := store.GetTexts(ctx, allIDs)
		gt.NoError(t, err).Required()
		got, err := loaded.GetTexts(ctx, allIDs)
		gt.NoError(t, err).Required()
		gt.Value(t, got).Equal(want)
	})

	t.Run("rebuilt index agrees with brute force", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		entries := fixture(60, 8)
		gt.NoError(t, store.Add(ctx, entries)).Required()
		gt.NoError(t, store.RebuildIndex(ctx)).Required()

		query := axis(8, 0)
		want := bruteForce(entries, query, 10)
		got, err := store.FindNearest(ctx, query, 10)
		gt.NoError(t, err).Required()
		gt.Value(t, ids(got)).Equal(ids(want))
		for i := range got {
			gt.Bool(t, math.Abs(float64(got[i].Score-want[i].Score)) < 1e-4).True()
		}
	})

	t.Run("Iterate yields rows in insertion order", func(t *testing.T) {
		store := newStore(t)
		it, ok := store.(memory.Iterator)
		if !ok {
			t.Skip("store does not implement memory.Iterator")
		}
		ctx := context.Background()
		entries := fixture(5, 4)
		gt.NoError(t, store.Add(ctx, entries)).Required()

		var seen []string
		it.Iterate(func(e memory.Entry) bool {
			seen = append(seen, e.ID)
			return true
		})
		gt.Value(t, seen).Equal(entryIDs(entries))
	})

	t.Run("Delete removes entries and keeps order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		entries := fixture(5, 4)
		gt.NoError(t, store.Add(ctx, entries)).Required()

		gone := []string{entries[1].ID, entries[3].ID, "unknown"}
		gt.NoError(t, store.Delete(ctx, gone)).Required()
		gt.Value(t, store.Count()).Equal(3)

		texts, err := store.GetTexts(ctx, gone)
		gt.NoError(t, err).Required()
		gt.Value(t, len(texts)).Equal(0)

		kept := []memory.Entry{entries[0], entries[2], entries[4]}
		query := axis(4, 0)
		matches, err := store.FindNearest(ctx, query, 5)
		gt.NoError(t, err).Required()
		gt.Value(t, ids(matches)).Equal(ids(bruteForce(kept, query, 5)))

		// a store emptied by Delete accepts a new dimension
		gt.NoError(t, store.Delete(ctx, entryIDs(kept))).Required()
		gt.Value(t, store.Count()).Equal(0)
		gt.NoError(t, store.Add(ctx, []memory.Entry{{ID: "wide", Text: "wide", Vector: []float32{1, 0, 0, 0, 0, 0}}})).Required()
	})

	t.Run("Load rejects missing or corrupt state", func(t *testing.T) {
		store := newStore(t)
		err := store.Load(filepath.Join(t.TempDir(), "does-not-exist"))
		gt.Error(t, err).Is(memory.ErrStorageCorruption)

		src := newStore(t)
		gt.NoError(t, src.Add(context.Background(), fixture(3, 4))).Required()
		dir := filepath.Join(t.TempDir(), "store")
		gt.NoError(t, src.Save(dir)).Required()
		gt.NoError(t, os.WriteFile(filepath.Join(dir, "vectors.npy"), []byte("garbage"), 0o644)).Required()

		err = newStore(t).Load(dir)
		gt.Error(t, err).Is(memory.ErrStorageCorruption)
	})

	t.Run("Load refuses newer manifest versions", func(t *testing.T) {
		dir := t.TempDir()
		gt.NoError(t, os.WriteFile(filepath.Join(dir, memory.ManifestFile), []byte("version: 2\nembedding_dim: 4\n"), 0o644)).Required()

		err := newStore(t).Load(dir)
		gt.Error(t, err).Is(memory.ErrUnsupportedVersion)
	})
}

// fixture builds n entries of dimension dim whose similarity to the first
// axis is strictly decreasing in a shuffled order, so rankings are unique.
func fixture(n, dim int) []memory.Entry {
	rng := rand.New(rand.NewSource(42))
	perm := rng.Perm(n)
	entries := make([]memory.Entry, n)
	for i := range entries {
		theta := 0.05 + 0.03*float64(perm[i])

		// random direction orthogonal to axis 0
		dir := make([]float64, dim)
		var norm float64
		for j := 1; j < dim; j++ {
			dir[j] = rng.NormFloat64()
			norm += dir[j] * dir[j]
		}
		norm = math.Sqrt(norm)

		vec := make([]float32, dim)
		vec[0] = float32(math.Cos(theta))
		for j := 1; j < dim; j++ {
			vec[j] = float32(math.Sin(theta) * dir[j] / norm)
		}
		entries[i] = memory.Entry{
			ID:     "e" + string(rune('A'+i/26)) + string(rune('a'+i%26)),
			Text:   "entry text " + string(rune('A'+i/26)) + string(rune('a'+i%26)),
			Vector: vec,
		}
	}
	return entries
}

func axis(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

func bruteForce(entries []memory.Entry, query []float32, k int) []memory.Match {
	q := memory.Normalize(query)
	matches := make([]memory.Match, len(entries))
	for i, e := range entries {
		matches[i] = memory.Match{ID: e.ID, Score: float32(memory.Dot(memory.Normalize(e.Vector), q))}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func entryIDs(entries []memory.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func ids(matches []memory.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ID
	}
	return out
}

// Package cached wraps a memory.Embedder with a ristretto cache so repeated
// texts skip model inference.
package cached

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/compact-memory/memory"
)

// Config sizes the cache.
type Config struct {
	// MaxBytes bounds the cached vector bytes. Default: 64 MiB.
	MaxBytes int64

	// NumCounters is ristretto's admission counter count, roughly 10x the
	// expected number of entries. Default: 100000.
	NumCounters int64
}

// Embedder caches the vectors produced by an inner embedder, keyed by
// model id and text.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// New wraps inner.
func New(inner memory.Embedder, cfg Config) (*Embedder, error) {
	if inner == nil {
		return nil, goerr.Wrap(memory.ErrConfiguration, "inner embedder is nil")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 100_000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache")
	}
	return &Embedder{inner: inner, cache: cache}, nil
}

func (e *Embedder) key(text string) string {
	return e.inner.ModelID() + "\x00" + text
}

// Embed returns the cached vector for text or computes and caches it.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	if v, ok := e.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return append([]float32(nil), vec...), nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, append([]float32(nil), vec...), int64(4*len(vec)))
	return vec, nil
}

// Wait blocks until pending cache writes are applied.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Dimensions implements memory.Embedder.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// ModelID is the inner embedder's id; caching does not change vectors.
func (e *Embedder) ModelID() string {
	return e.inner.ModelID()
}

// Close releases the cache.
func (e *Embedder) Close() {
	e.cache.Close()
}

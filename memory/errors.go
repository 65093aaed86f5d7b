package memory

import (
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrConfiguration reports an invalid engine or store setup.
	ErrConfiguration = goerr.New("invalid configuration")

	// ErrDimensionMismatch reports a vector whose length differs from the
	// configured dimension. It is a configuration error: errors.Is also
	// matches ErrConfiguration.
	ErrDimensionMismatch = goerr.New("embedding dimension mismatch")

	// ErrStorageCorruption reports missing or unreadable persisted state.
	ErrStorageCorruption = goerr.New("storage corrupted")

	// ErrUnsupportedVersion reports a manifest written by a newer format.
	ErrUnsupportedVersion = goerr.New("unsupported storage version")

	// ErrDuplicateID reports an id that already exists in a store or batch.
	ErrDuplicateID = goerr.New("duplicate id")

	// ErrEmbedding reports an embedder failure.
	ErrEmbedding = goerr.New("embedding failed")

	// ErrIndexRebuild reports a failed index reconstruction.
	ErrIndexRebuild = goerr.New("index rebuild failed")
)

// Mark tags cause with sentinel so errors.Is matches both, then wraps the
// result with msg and the given context values.
func Mark(sentinel, cause error, msg string, values ...goerr.Option) error {
	if cause == nil {
		return goerr.Wrap(sentinel, msg, values...)
	}
	return goerr.Wrap(fmt.Errorf("%w: %w", sentinel, cause), msg, values...)
}

// DimensionError builds an ErrDimensionMismatch that also matches
// ErrConfiguration.
func DimensionError(want, got int, values ...goerr.Option) error {
	values = append(values, goerr.V("want", want), goerr.V("got", got))
	return Mark(ErrDimensionMismatch, ErrConfiguration, "vector dimension mismatch", values...)
}

package core

import "context"

// Engine is anything that compresses text under a token budget.
// A budget <= 0 means no limit.
type Engine interface {
	// ID is the registry identifier of the engine (e.g. "prototype").
	ID() string

	// Compress reduces text. Engines decide for themselves whether to read
	// CompressOptions.Previous.Text or the original text.
	Compress(ctx context.Context, text string, budget int, opts ...CompressOption) (*CompressedMemory, error)
}

// CompressOptions carries the optional inputs of a Compress call.
type CompressOptions struct {
	// Previous is the result of the preceding pipeline stage, if any.
	Previous *CompressedMemory

	// Params holds engine-specific extras.
	Params map[string]any
}

// CompressOption configures a Compress call.
type CompressOption func(*CompressOptions)

// WithPrevious passes the preceding stage's result.
func WithPrevious(prev *CompressedMemory) CompressOption {
	return func(o *CompressOptions) {
		o.Previous = prev
	}
}

// WithParam sets one engine-specific parameter.
func WithParam(key string, value any) CompressOption {
	return func(o *CompressOptions) {
		if o.Params == nil {
			o.Params = make(map[string]any)
		}
		o.Params[key] = value
	}
}

// ApplyCompressOptions folds opts into a CompressOptions value.
func ApplyCompressOptions(opts ...CompressOption) CompressOptions {
	var o CompressOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SourceText returns the text an engine should consume: the previous
// stage's output when present, otherwise text.
func (o CompressOptions) SourceText(text string) string {
	if o.Previous != nil {
		return o.Previous.Text
	}
	return text
}

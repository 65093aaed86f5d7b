package engine

import (
	"context"
	"maps"
	"time"

	"github.com/becomeliminal/compact-memory/core"
)

// Built-in engine ids.
const (
	NoCompressionID = "none"
	FirstLastID     = "first_last"
	TruncateID      = "truncate"
)

// NoCompression passes text through, cutting it to the budget when one is
// given.
type NoCompression struct {
	tok core.Tokenizer
}

func NewNoCompression(tok core.Tokenizer) *NoCompression {
	return &NoCompression{tok: orWhitespace(tok)}
}

func (e *NoCompression) ID() string { return NoCompressionID }

func (e *NoCompression) Compress(ctx context.Context, text string, budget int, opts ...core.CompressOption) (*core.CompressedMemory, error) {
	start := time.Now()
	src := core.ApplyCompressOptions(opts...).SourceText(text)

	out := src
	truncated := false
	if budget > 0 && e.tok.Count(src) > budget {
		out = e.tok.Truncate(src, budget)
		truncated = true
	}
	return result(e.ID(), e.tok, src, out, map[string]any{"budget": budget}, start,
		core.Step{Type: "passthrough", Details: map[string]any{"truncated": truncated}}), nil
}

// FirstLast keeps the first and last tokens of the text, half the budget
// each, and drops the middle.
type FirstLast struct {
	tok core.Tokenizer
}

func NewFirstLast(tok core.Tokenizer) *FirstLast {
	return &FirstLast{tok: orWhitespace(tok)}
}

func (e *FirstLast) ID() string { return FirstLastID }

func (e *FirstLast) Compress(ctx context.Context, text string, budget int, opts ...core.CompressOption) (*core.CompressedMemory, error) {
	start := time.Now()
	src := core.ApplyCompressOptions(opts...).SourceText(text)

	total := e.tok.Count(src)
	if budget <= 0 || total <= budget {
		return result(e.ID(), e.tok, src, src, map[string]any{"budget": budget}, start,
			core.Step{Type: "keep_all", Details: map[string]any{"tokens": total}}), nil
	}

	head := (budget + 1) / 2
	tail := budget - head
	out := e.join(src, head, tail)
	// The separator can merge into a neighbouring token or add one.
	for e.tok.Count(out) > budget && head+tail > 0 {
		if tail > 0 {
			tail--
		} else {
			head--
		}
		out = e.join(src, head, tail)
	}
	return result(e.ID(), e.tok, src, out, map[string]any{"budget": budget}, start,
		core.Step{Type: "first_last", Details: map[string]any{
			"head":    head,
			"tail":    tail,
			"dropped": total - budget,
		}}), nil
}

func (e *FirstLast) join(src string, head, tail int) string {
	out := e.tok.Truncate(src, head)
	if tail > 0 {
		if out != "" {
			out += " "
		}
		out += e.tok.Tail(src, tail)
	}
	return out
}

// Truncate keeps a prefix of the text. The effective limit is the smaller
// positive value of its own MaxTokens and the call budget.
type Truncate struct {
	MaxTokens int
	tok       core.Tokenizer
}

func NewTruncate(maxTokens int, tok core.Tokenizer) *Truncate {
	return &Truncate{MaxTokens: maxTokens, tok: orWhitespace(tok)}
}

func (e *Truncate) ID() string { return TruncateID }

func (e *Truncate) Compress(ctx context.Context, text string, budget int, opts ...core.CompressOption) (*core.CompressedMemory, error) {
	start := time.Now()
	src := core.ApplyCompressOptions(opts...).SourceText(text)

	limit := effectiveLimit(e.MaxTokens, budget)
	out := src
	if limit > 0 && e.tok.Count(src) > limit {
		out = e.tok.Truncate(src, limit)
	}
	return result(e.ID(), e.tok, src, out, map[string]any{"budget": budget, "max_tokens": e.MaxTokens}, start,
		core.Step{Type: "truncate", Details: map[string]any{"limit": limit}}), nil
}

func effectiveLimit(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	}
	return b
}

func orWhitespace(tok core.Tokenizer) core.Tokenizer {
	if tok == nil {
		return core.WhitespaceTokenizer{}
	}
	return tok
}

func result(id string, tok core.Tokenizer, src, out string, params map[string]any, start time.Time, steps ...core.Step) *core.CompressedMemory {
	trace := &core.CompressionTrace{
		EngineName:   id,
		Params:       params,
		Input:        core.Summarize(tok, src),
		Output:       core.Summarize(tok, out),
		Steps:        steps,
		Duration:     time.Since(start),
		FinalPreview: core.Preview(out),
	}
	return &core.CompressedMemory{
		Text:         out,
		EngineID:     id,
		EngineConfig: maps.Clone(params),
		Trace:        trace,
		Metadata:     map[string]any{"compression_ratio": core.CompressionRatio(src, out)},
	}
}

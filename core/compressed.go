package core

import (
	"maps"
	"time"
)

// CompressedMemory is the result of one Compress call.
// It is immutable once returned: engines build a new value instead of
// mutating one they received.
type CompressedMemory struct {
	// Text is the compressed output.
	Text string `json:"text"`

	// EngineID identifies the engine that produced this result.
	EngineID string `json:"engine_id"`

	// EngineConfig is a snapshot of the engine parameters used.
	EngineConfig map[string]any `json:"engine_config,omitempty"`

	// Trace explains how Text was produced.
	Trace *CompressionTrace `json:"trace,omitempty"`

	// Metadata is free-form engine output (e.g. compression_ratio).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WithTrace returns a copy of m carrying trace.
func (m *CompressedMemory) WithTrace(trace *CompressionTrace) *CompressedMemory {
	cp := *m
	cp.EngineConfig = maps.Clone(m.EngineConfig)
	cp.Metadata = maps.Clone(m.Metadata)
	cp.Trace = trace
	return &cp
}

// TextSummary describes the size of a piece of text.
type TextSummary struct {
	Chars  int `json:"chars"`
	Tokens int `json:"tokens"`
}

// Summarize measures text with tok.
func Summarize(tok Tokenizer, text string) TextSummary {
	if tok == nil {
		tok = WhitespaceTokenizer{}
	}
	return TextSummary{Chars: len(text), Tokens: tok.Count(text)}
}

// Step is one recorded action inside a compression.
type Step struct {
	Type    string         `json:"type"`
	Details map[string]any `json:"details,omitempty"`
}

// StageSummary records one pipeline stage.
type StageSummary struct {
	Index    int           `json:"index"`
	EngineID string        `json:"engine_id"`
	Duration time.Duration `json:"duration"`
}

// CompressionTrace is a write-once record of how a compression ran.
type CompressionTrace struct {
	EngineName   string         `json:"engine_name"`
	Params       map[string]any `json:"params,omitempty"`
	Input        TextSummary    `json:"input"`
	Output       TextSummary    `json:"output"`
	Steps        []Step         `json:"steps,omitempty"`
	Duration     time.Duration  `json:"duration"`
	FinalPreview string         `json:"final_preview,omitempty"`

	// Stages is set by pipelines, one entry per stage in execution order.
	Stages []StageSummary `json:"stages,omitempty"`
}

// Clone returns a deep-enough copy to extend without touching t.
func (t *CompressionTrace) Clone() *CompressionTrace {
	if t == nil {
		return &CompressionTrace{}
	}
	cp := *t
	cp.Params = maps.Clone(t.Params)
	cp.Steps = append([]Step(nil), t.Steps...)
	cp.Stages = append([]StageSummary(nil), t.Stages...)
	return &cp
}

const previewLength = 120

// Preview shortens text for trace display.
func Preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLength {
		return text
	}
	return string(r[:previewLength-3]) + "..."
}

// CompressionRatio is output chars over input chars, 0 for empty input.
func CompressionRatio(input, output string) float64 {
	if len(input) == 0 {
		return 0
	}
	return float64(len(output)) / float64(len(input))
}

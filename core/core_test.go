package core_test

import (
	"testing"
	"time"

	"github.com/becomeliminal/compact-memory/core"
	"github.com/m-mizutani/gt"
)

func TestWhitespaceTokenizer(t *testing.T) {
	tok := core.WhitespaceTokenizer{}
	text := "one  two\tthree\nfour five"

	gt.Value(t, tok.Count(text)).Equal(5)
	gt.Value(t, tok.Truncate(text, 2)).Equal("one two")
	gt.Value(t, tok.Truncate(text, 10)).Equal("one two three four five")
	gt.Value(t, tok.Truncate(text, 0)).Equal("")
	gt.Value(t, tok.Tail(text, 2)).Equal("four five")
	gt.Value(t, tok.Count("")).Equal(0)
}

func TestCompressOptions(t *testing.T) {
	t.Run("source text defaults to the original", func(t *testing.T) {
		o := core.ApplyCompressOptions()
		gt.Value(t, o.SourceText("original")).Equal("original")
	})

	t.Run("previous result wins", func(t *testing.T) {
		prev := &core.CompressedMemory{Text: "shorter"}
		o := core.ApplyCompressOptions(core.WithPrevious(prev), core.WithParam("k", 3))
		gt.Value(t, o.SourceText("original")).Equal("shorter")
		gt.Value(t, o.Params["k"]).Equal(any(3))
	})
}

func TestCompressedMemoryWithTrace(t *testing.T) {
	orig := &core.CompressedMemory{
		Text:     "out",
		EngineID: "truncate",
		Metadata: map[string]any{"compression_ratio": 0.5},
		Trace:    &core.CompressionTrace{EngineName: "truncate"},
	}

	trace := orig.Trace.Clone()
	trace.Stages = append(trace.Stages, core.StageSummary{Index: 0, EngineID: "truncate", Duration: time.Millisecond})
	derived := orig.WithTrace(trace)
	derived.Metadata["extra"] = true

	gt.Array(t, orig.Trace.Stages).Length(0)
	gt.Array(t, derived.Trace.Stages).Length(1)
	_, leaked := orig.Metadata["extra"]
	gt.Bool(t, leaked).False()
	gt.Value(t, derived.Text).Equal("out")
}

func TestCompressionRatio(t *testing.T) {
	gt.Value(t, core.CompressionRatio("", "x")).Equal(0.0)
	gt.Value(t, core.CompressionRatio("abcd", "ab")).Equal(0.5)
}

func TestPreview(t *testing.T) {
	short := "short text"
	gt.Value(t, core.Preview(short)).Equal(short)

	long := make([]rune, 500)
	for i := range long {
		long[i] = 'a'
	}
	p := core.Preview(string(long))
	gt.Value(t, len([]rune(p))).Equal(120)
}

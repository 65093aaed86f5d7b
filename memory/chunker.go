package memory

import (
	"strings"
	"unicode"
)

// SentenceChunker splits text at sentence terminators (. ! ?) followed by
// whitespace, and at blank lines. Chunks are trimmed; empty ones dropped.
type SentenceChunker struct{}

func (SentenceChunker) Chunk(text string) []string {
	var chunks []string
	var b strings.Builder
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			chunks = append(chunks, s)
		}
		b.Reset()
	}

	r := []rune(text)
	for i := 0; i < len(r); i++ {
		c := r[i]
		if c == '\n' && i+1 < len(r) && r[i+1] == '\n' {
			flush()
			continue
		}
		b.WriteRune(c)
		if (c == '.' || c == '!' || c == '?') && (i+1 == len(r) || unicode.IsSpace(r[i+1])) {
			flush()
		}
	}
	flush()
	return chunks
}

// LineChunker treats every non-empty line as a chunk.
type LineChunker struct{}

func (LineChunker) Chunk(text string) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			chunks = append(chunks, s)
		}
	}
	return chunks
}

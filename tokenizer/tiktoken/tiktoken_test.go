package tiktoken_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/compact-memory/core"
	"github.com/becomeliminal/compact-memory/tokenizer/tiktoken"
)

var _ core.Tokenizer = (*tiktoken.Tokenizer)(nil)

// newTokenizer skips when the BPE ranks cannot be fetched (offline CI).
func newTokenizer(t *testing.T) *tiktoken.Tokenizer {
	t.Helper()
	tok, err := tiktoken.New("")
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	return tok
}

func TestCountAndTruncate(t *testing.T) {
	tok := newTokenizer(t)
	gt.Value(t, tok.Name()).Equal(tiktoken.DefaultEncoding)

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	total := tok.Count(text)
	gt.Bool(t, total > 100).True()

	head := tok.Truncate(text, 10)
	gt.Value(t, tok.Count(head)).Equal(10)
	gt.Bool(t, strings.HasPrefix(text, head)).True()

	tail := tok.Tail(text, 10)
	gt.Bool(t, tok.Count(tail) <= 10).True()
	gt.Bool(t, strings.HasSuffix(text, tail)).True()

	gt.Value(t, tok.Truncate(text, total+5)).Equal(text)
	gt.Value(t, tok.Truncate(text, 0)).Equal("")
	gt.Value(t, tok.Count("")).Equal(0)
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	tok := newTokenizer(t)
	text := strings.Repeat("記憶の圧縮 ", 30)
	for n := 1; n < 15; n++ {
		gt.Bool(t, utf8.ValidString(tok.Truncate(text, n))).True()
		gt.Bool(t, utf8.ValidString(tok.Tail(text, n))).True()
	}
}

func TestUnknownEncoding(t *testing.T) {
	_, err := tiktoken.New("no_such_encoding")
	gt.Value(t, err).NotNil()
}

// Package tiktoken counts tokens with OpenAI's BPE encodings, which track
// Claude and GPT token counts far closer than whitespace splitting.
package tiktoken

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pkoukk/tiktoken-go"

	"github.com/becomeliminal/compact-memory/memory"
)

// DefaultEncoding is used by New when no encoding is named.
const DefaultEncoding = "cl100k_base"

// Tokenizer implements core.Tokenizer over a tiktoken encoding.
type Tokenizer struct {
	enc  *tiktoken.Tiktoken
	name string
}

// New loads the named encoding. The BPE ranks are fetched once and cached
// under TIKTOKEN_CACHE_DIR when that is set.
func New(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, memory.Mark(memory.ErrConfiguration, err, "failed to load tiktoken encoding", goerr.V("encoding", encoding))
	}
	return &Tokenizer{enc: enc, name: encoding}, nil
}

// ForModel loads the encoding a model name maps to (e.g. "gpt-4o").
func ForModel(model string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, memory.Mark(memory.ErrConfiguration, err, "no tiktoken encoding for model", goerr.V("model", model))
	}
	return &Tokenizer{enc: enc, name: model}, nil
}

// Name returns the encoding or model name the tokenizer was built from.
func (t *Tokenizer) Name() string {
	return t.name
}

func (t *Tokenizer) encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tokenizer) Count(text string) int {
	return len(t.encode(text))
}

func (t *Tokenizer) Truncate(text string, n int) string {
	if n <= 0 {
		return ""
	}
	tokens := t.encode(text)
	if len(tokens) <= n {
		return text
	}
	return t.decode(tokens[:n])
}

func (t *Tokenizer) Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	tokens := t.encode(text)
	if len(tokens) <= n {
		return text
	}
	return t.decode(tokens[len(tokens)-n:])
}

// decode drops bytes of runes split at the token boundary.
func (t *Tokenizer) decode(tokens []int) string {
	return strings.ToValidUTF8(t.enc.Decode(tokens), "")
}

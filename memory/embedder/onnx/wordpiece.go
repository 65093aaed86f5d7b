package onnx

import (
	"encoding/json"
	"os"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
)

// WordPiece is a BERT-style WordPiece tokenizer loaded from a Hugging Face
// tokenizer.json.
type WordPiece struct {
	vocab map[string]int
	cls   int64
	sep   int64
	unk   int64
}

// LoadWordPiece reads the vocabulary from tokenizer.json at path.
func LoadWordPiece(path string) (*WordPiece, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read tokenizer file", goerr.V("path", path))
	}

	var doc struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse tokenizer file", goerr.V("path", path))
	}
	if len(doc.Model.Vocab) == 0 {
		return nil, goerr.New("tokenizer vocabulary is empty", goerr.V("path", path))
	}
	return NewWordPiece(doc.Model.Vocab), nil
}

// NewWordPiece builds a tokenizer over vocab. Special token ids come from
// the vocabulary when present, else the bert-base defaults.
func NewWordPiece(vocab map[string]int) *WordPiece {
	id := func(tok string, fallback int64) int64 {
		if v, ok := vocab[tok]; ok {
			return int64(v)
		}
		return fallback
	}
	return &WordPiece{
		vocab: vocab,
		cls:   id("[CLS]", 101),
		sep:   id("[SEP]", 102),
		unk:   id("[UNK]", 100),
	}
}

// Tokenize lowercases text, splits on whitespace and punctuation, and
// maps each word to WordPiece ids. [CLS]/[SEP] are not added.
func (t *WordPiece) Tokenize(text string) []int64 {
	var ids []int64
	for _, word := range splitWords(strings.ToLower(text)) {
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}
		ids = append(ids, t.pieces(word)...)
	}
	return ids
}

// pieces greedily matches the longest known prefix, continuing with "##".
// A word with an unmatchable remainder becomes a single [UNK].
func (t *WordPiece) pieces(word string) []int64 {
	var out []int64
	r := []rune(word)
	for start := 0; start < len(r); {
		end := len(r)
		matched := false
		for ; end > start; end-- {
			sub := string(r[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				out = append(out, int64(id))
				matched = true
				break
			}
		}
		if !matched {
			return []int64{t.unk}
		}
		start = end
	}
	return out
}

func splitWords(text string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, c := range text {
		switch {
		case unicode.IsSpace(c):
			flush()
		case unicode.IsPunct(c) || unicode.IsSymbol(c):
			flush()
			words = append(words, string(c))
		default:
			b.WriteRune(c)
		}
	}
	flush()
	return words
}

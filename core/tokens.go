package core

import "strings"

// Tokenizer counts and truncates text in model tokens.
// Implementations: WhitespaceTokenizer (default), tiktoken.Tokenizer.
type Tokenizer interface {
	// Count returns the number of tokens in text.
	Count(text string) int

	// Truncate returns the longest prefix of text holding at most n tokens.
	Truncate(text string, n int) string

	// Tail returns the longest suffix of text holding at most n tokens.
	Tail(text string, n int) string
}

// WhitespaceTokenizer treats each whitespace-separated field as a token.
type WhitespaceTokenizer struct{}

func (WhitespaceTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

func (WhitespaceTokenizer) Truncate(text string, n int) string {
	if n <= 0 {
		return ""
	}
	fields := strings.Fields(text)
	if len(fields) <= n {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:n], " ")
}

func (WhitespaceTokenizer) Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	fields := strings.Fields(text)
	if len(fields) <= n {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[len(fields)-n:], " ")
}

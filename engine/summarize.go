package engine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/compact-memory/core"
	"github.com/becomeliminal/compact-memory/logging"
)

// SummarizeID is the registry id of Summarize.
const SummarizeID = "llm_summary"

// DefaultSummaryModel is the model Summarize calls unless WithModel is given.
const DefaultSummaryModel = "claude-sonnet-4-20250514"

// DefaultSummaryPrompt is the system prompt sent with every request.
const DefaultSummaryPrompt = `You compress text for a language model's memory.
Keep facts, names, numbers and decisions. Drop filler and repetition.
Reply with the compressed text only.`

// MessageClient is the part of the Anthropic client Summarize uses.
// *anthropic.MessageService satisfies it.
type MessageClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Summarize asks Claude to rewrite text within the budget. The reply is cut
// to the budget with the tokenizer if the model overshoots.
type Summarize struct {
	client    MessageClient
	tok       core.Tokenizer
	model     string
	prompt    string
	maxTokens int64
}

// SummarizeOption configures Summarize.
type SummarizeOption func(*Summarize)

// WithModel sets the Claude model.
func WithModel(model string) SummarizeOption {
	return func(s *Summarize) {
		s.model = model
	}
}

// WithSystemPrompt replaces DefaultSummaryPrompt.
func WithSystemPrompt(prompt string) SummarizeOption {
	return func(s *Summarize) {
		s.prompt = prompt
	}
}

// WithMaxTokens caps the response length requested from the API.
func WithMaxTokens(n int64) SummarizeOption {
	return func(s *Summarize) {
		s.maxTokens = n
	}
}

// NewSummarize creates a Summarize engine.
func NewSummarize(client MessageClient, tok core.Tokenizer, opts ...SummarizeOption) *Summarize {
	s := &Summarize{
		client:    client,
		tok:       orWhitespace(tok),
		model:     DefaultSummaryModel,
		prompt:    DefaultSummaryPrompt,
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Summarize) ID() string { return SummarizeID }

func (s *Summarize) Compress(ctx context.Context, text string, budget int, opts ...core.CompressOption) (*core.CompressedMemory, error) {
	start := time.Now()
	src := core.ApplyCompressOptions(opts...).SourceText(text)
	params := map[string]any{"budget": budget, "model": s.model}

	if strings.TrimSpace(src) == "" {
		return result(s.ID(), s.tok, src, "", params, start, core.Step{Type: "skip_empty"}), nil
	}

	maxTokens := s.maxTokens
	instruction := "Compress the following text."
	if budget > 0 {
		instruction = "Compress the following text to at most " + strconv.Itoa(budget) + " tokens."
		if int64(budget) < maxTokens {
			maxTokens = int64(budget)
		}
	}

	resp, err := s.client.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(instruction + "\n\n" + src)),
		},
		System: []anthropic.TextBlockParam{
			{Text: s.prompt},
		},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "claude api error", goerr.V("model", s.model))
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	cut := false
	if budget > 0 && s.tok.Count(out) > budget {
		out = s.tok.Truncate(out, budget)
		cut = true
	}

	logging.From(ctx).Debug("summary received",
		"engine_id", s.ID(),
		"model", s.model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	return result(s.ID(), s.tok, src, out, params, start,
		core.Step{Type: "llm_call", Details: map[string]any{
			"model":         s.model,
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
			"stop_reason":   string(resp.StopReason),
		}},
		core.Step{Type: "enforce_budget", Details: map[string]any{"truncated": cut}},
	), nil
}

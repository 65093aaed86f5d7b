package config

import (
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/compact-memory/engine"
)

// Anthropic holds configuration for the llm_summary engine.
type Anthropic struct {
	apiKey string
	model  string
}

// Flags returns CLI flags for the Anthropic client.
func (a *Anthropic) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key; enables the llm_summary engine",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &a.apiKey,
		},
		&cli.StringFlag{
			Name:        "anthropic-model",
			Usage:       "Claude model used by llm_summary",
			Sources:     cli.EnvVars("COMPACTMEM_ANTHROPIC_MODEL"),
			Destination: &a.model,
		},
	}
}

// LogAttrs returns log attributes for the Anthropic configuration. The
// key itself is never logged.
func (a *Anthropic) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Bool("api_key_set", a.apiKey != ""),
		slog.String("model", a.model),
	}
}

// Configure returns the message client and the model to use. Flags win
// over the file. A nil client means no key is configured and llm_summary
// stays unregistered.
func (a *Anthropic) Configure(file AnthropicSection) (engine.MessageClient, string) {
	key := a.apiKey
	if key == "" {
		key = file.APIKey
	}
	model := a.model
	if model == "" {
		model = file.Model
	}
	if key == "" {
		return nil, model
	}

	client := anthropic.NewClient(option.WithAPIKey(key))
	return &client.Messages, model
}

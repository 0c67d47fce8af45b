package summary

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// AnyLLM implements [Completer] by wrapping github.com/mozilla-ai/any-llm-go,
// giving the summarizer a single constructor over OpenAI, Anthropic, Gemini,
// Ollama, Mistral, Groq and llama.cpp backends.
type AnyLLM struct {
	backend anyllmlib.Provider
	model   string
}

var _ Completer = (*AnyLLM)(nil)

// NewAnyLLM creates a Completer backed by the named provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "mistral", "groq", "llamacpp". model is the provider-specific model name
// (e.g. "gpt-4.1-mini"). Without an explicit anyllmlib.WithAPIKey option the
// backend falls back to its usual environment variable.
func NewAnyLLM(providerName, model string, opts ...anyllmlib.Option) (*AnyLLM, error) {
	if providerName == "" {
		return nil, fmt.Errorf("summary: provider name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("summary: model must not be empty")
	}

	var (
		backend anyllmlib.Provider
		err     error
	)
	switch strings.ToLower(providerName) {
	case "openai":
		backend, err = anyllmoai.New(opts...)
	case "anthropic":
		backend, err = anthropic.New(opts...)
	case "gemini":
		backend, err = gemini.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	case "mistral":
		backend, err = mistral.New(opts...)
	case "groq":
		backend, err = groq.New(opts...)
	case "llamacpp":
		backend, err = llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("summary: unsupported provider %q; supported: openai, anthropic, gemini, ollama, mistral, groq, llamacpp", providerName)
	}
	if err != nil {
		return nil, fmt.Errorf("summary: create %q backend: %w", providerName, err)
	}

	return &AnyLLM{backend: backend, model: model}, nil
}

// Complete implements [Completer].
func (a *AnyLLM) Complete(ctx context.Context, system, user string) (string, error) {
	params := anyllmlib.CompletionParams{
		Model: a.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: system},
			{Role: anyllmlib.RoleUser, Content: user},
		},
	}

	resp, err := a.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("summary: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summary: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

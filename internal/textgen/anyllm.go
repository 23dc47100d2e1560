package textgen

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// Compile-time interface check.
var _ Generator = (*AnyLLM)(nil)

// AnyLLM is a Generator backed by github.com/mozilla-ai/any-llm-go, giving
// access to OpenAI, Anthropic, Gemini, Ollama, Mistral, and Groq through one
// interface.
type AnyLLM struct {
	backend anyllmlib.Provider
	model   string
}

// NewAnyLLM creates an AnyLLM generator for the named provider. providerName
// is one of: "openai", "anthropic", "gemini", "ollama", "mistral", "groq".
// Without an API key option, each backend falls back to its usual
// environment variable.
func NewAnyLLM(providerName, model string, opts ...anyllmlib.Option) (*AnyLLM, error) {
	if model == "" {
		return nil, fmt.Errorf("textgen: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("textgen: create %q backend: %w", providerName, err)
	}
	return &AnyLLM{backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, mistral, groq", providerName)
	}
}

// Generate implements Generator.
func (a *AnyLLM) Generate(ctx context.Context, system, user string) (string, error) {
	params := anyllmlib.CompletionParams{
		Model: a.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: system},
			{Role: anyllmlib.RoleUser, Content: user},
		},
	}
	resp, err := a.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("textgen: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("textgen: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

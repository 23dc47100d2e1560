package app

import (
	"errors"
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lingolive/lingolive/internal/config"
	"github.com/lingolive/lingolive/internal/textgen"
	"github.com/lingolive/lingolive/pkg/provider/live"
	"github.com/lingolive/lingolive/pkg/provider/live/gemini"
	"github.com/lingolive/lingolive/pkg/provider/live/glm"
)

// anyLLMProviders lists the text provider names served by the any-llm-go
// backend. "openrouter" is registered separately because it speaks the OpenAI
// wire protocol against a fixed alternate endpoint.
var anyLLMProviders = []string{"openai", "anthropic", "gemini", "ollama", "mistral", "groq"}

// DefaultRegistry returns a [config.Registry] with every built-in provider
// registered under the names accepted by the providers config section.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()

	reg.RegisterRealtime(gemini.ProviderName, func(entry config.ProviderEntry) (live.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("app: gemini-live requires an API key")
		}
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterRealtime(glm.ProviderName, func(entry config.ProviderEntry) (live.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("app: glm-realtime requires an API key")
		}
		var opts []glm.Option
		if entry.Model != "" {
			opts = append(opts, glm.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, glm.WithBaseURL(entry.BaseURL))
		}
		return glm.New(entry.APIKey, opts...), nil
	})

	reg.RegisterText("openrouter", func(entry config.ProviderEntry) (textgen.Generator, error) {
		var opts []textgen.OpenRouterOption
		if entry.BaseURL != "" {
			opts = append(opts, textgen.WithOpenRouterBaseURL(entry.BaseURL))
		}
		gen, err := textgen.NewOpenRouter(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: openrouter: %w", err)
		}
		return gen, nil
	})

	for _, name := range anyLLMProviders {
		reg.RegisterText(name, func(entry config.ProviderEntry) (textgen.Generator, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return textgen.NewAnyLLM(name, entry.Model, opts...)
		})
	}

	return reg
}

package textgen

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Compile-time interface check.
var _ Generator = (*OpenRouter)(nil)

// defaultOpenRouterBaseURL is the OpenAI-compatible OpenRouter endpoint.
const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouter is a Generator speaking the OpenAI chat completion protocol
// against openrouter.ai, which fans out to many hosted models behind one
// API key.
type OpenRouter struct {
	client oai.Client
	model  string
}

// OpenRouterOption is a functional option for configuring an OpenRouter
// generator.
type OpenRouterOption func(*openRouterConfig)

type openRouterConfig struct {
	baseURL string
}

// WithOpenRouterBaseURL overrides the endpoint. Primarily used in tests to
// point at a local mock server.
func WithOpenRouterBaseURL(url string) OpenRouterOption {
	return func(c *openRouterConfig) { c.baseURL = url }
}

// NewOpenRouter creates an OpenRouter generator for the given model
// identifier (e.g. "google/gemini-2.5-flash").
func NewOpenRouter(apiKey, model string, opts ...OpenRouterOption) (*OpenRouter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("textgen: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("textgen: model must not be empty")
	}
	cfg := &openRouterConfig{baseURL: defaultOpenRouterBaseURL}
	for _, o := range opts {
		o(cfg)
	}
	client := oai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
	)
	return &OpenRouter{client: client, model: model}, nil
}

// Generate implements Generator.
func (o *OpenRouter) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("textgen: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("textgen: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

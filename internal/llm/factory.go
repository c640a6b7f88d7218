package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/praveenk20/mongodb-agent-ai/internal/config"
)

// New creates an LLM client based on configuration
// This is a factory function that eliminates if-else branches
func New(cfg *config.Config) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAI(cfg)

	case "azure":
		return newAzure(cfg)

	case "anthropic":
		return newAnthropic(cfg)

	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: openai, azure, anthropic)", cfg.Provider)
	}
}

func newOpenAI(cfg *config.Config) (Client, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.OpenAIAPIKey),
		openai.WithModel(cfg.OpenAIModel),
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}

	return &client{
		name:        "openai/" + cfg.OpenAIModel,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.LLMTimeout,
	}, nil
}

// newAzure reuses the OpenAI client in Azure mode: the deployment name takes
// the place of the model.
func newAzure(cfg *config.Config) (Client, error) {
	model, err := openai.New(
		openai.WithToken(cfg.AzureAPIKey),
		openai.WithBaseURL(cfg.AzureEndpoint),
		openai.WithModel(cfg.AzureDeployment),
		openai.WithAPIType(openai.APITypeAzure),
		openai.WithAPIVersion(cfg.AzureAPIVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("azure openai client: %w", err)
	}

	return &client{
		name:        "azure/" + cfg.AzureDeployment,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.LLMTimeout,
	}, nil
}

func newAnthropic(cfg *config.Config) (Client, error) {
	model, err := anthropic.New(
		anthropic.WithToken(cfg.AnthropicAPIKey),
		anthropic.WithModel(cfg.AnthropicModel),
	)
	if err != nil {
		return nil, fmt.Errorf("anthropic client: %w", err)
	}

	return &client{
		name:        "anthropic/" + cfg.AnthropicModel,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.LLMTimeout,
	}, nil
}

package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/praveenk20/mongodb-agent-ai/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Temperature: 0.0,
		MaxTokens:   4096,
		LLMTimeout:  30 * time.Second,
	}
}

func TestNew_OpenAI(t *testing.T) {
	cfg := baseConfig()
	cfg.Provider = "openai"
	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIModel = "gpt-4o"

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if c.Name() != "openai/gpt-4o" {
		t.Fatalf("Name = %q", c.Name())
	}
}

func TestNew_Azure(t *testing.T) {
	cfg := baseConfig()
	cfg.Provider = "azure"
	cfg.AzureAPIKey = "key"
	cfg.AzureEndpoint = "https://example.openai.azure.com"
	cfg.AzureDeployment = "gpt4o-prod"
	cfg.AzureAPIVersion = "2024-02-15-preview"

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if c.Name() != "azure/gpt4o-prod" {
		t.Fatalf("Name = %q", c.Name())
	}
}

func TestNew_Anthropic(t *testing.T) {
	cfg := baseConfig()
	cfg.Provider = "anthropic"
	cfg.AnthropicAPIKey = "key"
	cfg.AnthropicModel = "claude-3-5-sonnet-20241022"

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if !strings.HasPrefix(c.Name(), "anthropic/") {
		t.Fatalf("Name = %q", c.Name())
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.Provider = "llamacpp"

	_, err := New(cfg)
	if err == nil || !strings.Contains(err.Error(), "unknown provider: llamacpp") {
		t.Fatalf("unexpected error: %v", err)
	}
}

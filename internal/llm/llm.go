// Package llm wraps the supported language model providers behind a single
// text-in text-out interface.
package llm

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// Client generates text completions for agent prompts.
type Client interface {
	// Name identifies the provider for logging.
	Name() string

	// Generate sends a prompt and returns the model's text response.
	Generate(ctx context.Context, prompt string) (string, error)
}

// client adapts a langchaingo model to the Client interface with the
// service's call settings applied.
type client struct {
	name        string
	model       llms.Model
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

func (c *client) Name() string {
	return c.name
}

func (c *client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", c.name, err)
	}

	log.Printf("[LLM] %s responded with %d chars in %v", c.name, len(out), time.Since(start).Round(time.Millisecond))
	return out, nil
}

// Usage describes one completed Generate call.
type Usage struct {
	Provider        string
	PromptChars     int
	CompletionChars int
	Duration        time.Duration
}

// WithUsage returns a Client that reports every successful Generate call to
// fn. A nil fn returns c unchanged.
func WithUsage(c Client, fn func(Usage)) Client {
	if fn == nil {
		return c
	}
	return &usageClient{inner: c, fn: fn}
}

type usageClient struct {
	inner Client
	fn    func(Usage)
}

func (u *usageClient) Name() string {
	return u.inner.Name()
}

func (u *usageClient) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := u.inner.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	u.fn(Usage{
		Provider:        u.inner.Name(),
		PromptChars:     len(prompt),
		CompletionChars: len(out),
		Duration:        time.Since(start),
	})
	return out, nil
}

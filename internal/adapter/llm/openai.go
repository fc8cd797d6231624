// Package llm adapts OpenAI-compatible chat endpoints to port.Generator.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"supportkb/config"
	"supportkb/internal/domain"
)

type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIGenerator reads the API key from the environment variable named
// in cfg. BaseURL switches to any OpenAI-compatible server.
func NewOpenAIGenerator(cfg config.LLMConfig) (*OpenAIGenerator, error) {
	token := os.Getenv(cfg.APIKeyEnv)
	if token == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: environment variable %s is not set", domain.ErrInvalidConfig, cfg.APIKeyEnv)
	}

	oc := openai.DefaultConfig(token)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *OpenAIGenerator) ModelName() string {
	return g.model
}

package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/converso/server/internal/chat/model"
	logx "github.com/converso/server/pkg/logger"
)

// GeminiClientConfig holds what is needed to reach the Gemini API.
type GeminiClientConfig struct {
	APIKey  string
	BaseURL string
}

// NewGeminiClient constructs the shared genai client used by both the chat
// model and the retrieval embedder.
func NewGeminiClient(ctx context.Context, cfg GeminiClientConfig) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewGeminiStreamer builds a ChatStreamer over a Gemini chat model with the
// given tool schemas bound.
func NewGeminiStreamer(ctx context.Context, client *genai.Client, cfg model.ChatModelConfig, tools []*schema.ToolInfo) (*ChatStreamer, error) {
	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("error creating Gemini chat model")
		return nil, fmt.Errorf("error creating Gemini chat model: %w", err)
	}

	return New(chatModel, tools)
}

package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/dulus-bm/server/internal/agent/model"
	logx "github.com/dulus-bm/server/pkg/logger"
)

// NewChatModel creates the tool-calling Gemini model used by the command dispatcher.
func NewChatModel(ctx context.Context, cfg model.ModelConfig) (einomodel.ToolCallingChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model name is empty")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	gcfg := &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
	}
	if cfg.ThinkingBudget > 0 {
		gcfg.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(cfg.ThinkingBudget),
		}
	}

	cm, err := gemini.NewChatModel(ctx, gcfg)
	if err != nil {
		logx.Error().Err(err).Str("model", cfg.Model).Msg("Error creating command model")
		return nil, fmt.Errorf("error creating command model: %w", err)
	}
	logx.Debug().Str("model", cfg.Model).Int("max_tokens", cfg.MaxTokens).Msg("command model ready")
	return cm, nil
}

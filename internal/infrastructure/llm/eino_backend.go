package llm

import (
	"context"
	"fmt"
	"strings"

	"film-ai-api/internal/config"
	"film-ai-api/internal/workflow/port"
	"film-ai-api/pkg/logger"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// einoBackend OpenAI 兼容后端，基于 Eino ChatModel
type einoBackend struct {
	name  string
	model model.BaseChatModel
}

func newEinoBackend(ctx context.Context, name string, cfg config.ProviderConfig) (port.GenerativeBackend, error) {
	maxTokens := cfg.MaxTokens
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: ptrFloat32(float32(cfg.Temperature)),
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model: %w", err)
	}
	return &einoBackend{name: name, model: chatModel}, nil
}

// Generate 发送 system + user 消息，JSON 模式不被支持时退回纯 prompt 约束
func (b *einoBackend) Generate(ctx context.Context, prompt string, opts port.GenerateOptions) (string, error) {
	msgs := make([]*schema.Message, 0, 2)
	if s := strings.TrimSpace(opts.System); s != "" {
		msgs = append(msgs, schema.SystemMessage(s))
	}
	msgs = append(msgs, schema.UserMessage(prompt))

	wantJSON := opts.ResponseFormat == port.ResponseFormatJSON
	out, err := b.model.Generate(ctx, msgs, buildModelOptions(opts, wantJSON)...)
	if err != nil && wantJSON && IsResponseFormatUnsupportedError(err) {
		logger.Warn(ctx, "llm response_format not supported, fallback to prompt-only",
			"provider", b.name,
			"error", err.Error(),
		)
		out, err = b.model.Generate(ctx, msgs, buildModelOptions(opts, false)...)
	}
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", fmt.Errorf("empty llm response")
	}
	return out.Content, nil
}

func buildModelOptions(opts port.GenerateOptions, jsonMode bool) []model.Option {
	out := make([]model.Option, 0, 3)
	if opts.Temperature != nil {
		out = append(out, model.WithTemperature(float32(*opts.Temperature)))
	}
	if opts.MaxTokens > 0 {
		out = append(out, model.WithMaxTokens(opts.MaxTokens))
	}
	if jsonMode {
		out = append(out, openai.WithExtraFields(map[string]any{
			"response_format": map[string]any{"type": "json_object"},
		}))
	}
	return out
}

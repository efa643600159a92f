package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"film-ai-api/internal/config"
	"film-ai-api/internal/workflow/port"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

// cohereBackend Cohere 后端，仅支持文本
type cohereBackend struct {
	client *cohereclient.Client
	cfg    config.ProviderConfig
}

func newCohereBackend(_ context.Context, _ string, cfg config.ProviderConfig) (port.GenerativeBackend, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	client := cohereclient.NewClient(
		cohereclient.WithToken(cfg.APIKey),
		cohereclient.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return &cohereBackend{client: client, cfg: cfg}, nil
}

// Generate 生成文本；Cohere 不区分 JSON 模式，格式由 prompt 约束
func (b *cohereBackend) Generate(ctx context.Context, prompt string, opts port.GenerateOptions) (string, error) {
	req := &cohere.ChatRequest{
		Message: prompt,
	}
	if b.cfg.Model != "" {
		req.Model = cohere.String(b.cfg.Model)
	}
	if s := strings.TrimSpace(opts.System); s != "" {
		req.Preamble = cohere.String(s)
	}

	temp := b.cfg.Temperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	req.Temperature = cohere.Float64(temp)

	maxTokens := b.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		req.MaxTokens = cohere.Int(maxTokens)
	}

	resp, err := b.client.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("cohere chat: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("cohere chat returned empty response")
	}
	return resp.Text, nil
}

package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"film-ai-api/internal/config"
	"film-ai-api/internal/workflow/port"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiBackend Gemini 后端，支持内联文档分析
type geminiBackend struct {
	client *genai.Client
	cfg    config.ProviderConfig
}

func newGeminiBackend(ctx context.Context, _ string, cfg config.ProviderConfig) (port.GenerativeBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiBackend{client: client, cfg: cfg}, nil
}

// newModel 每次调用创建独立的 GenerativeModel，避免并发调用互相修改参数
func (b *geminiBackend) newModel(opts port.GenerateOptions) *genai.GenerativeModel {
	m := b.client.GenerativeModel(b.cfg.Model)

	temp := b.cfg.Temperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	m.SetTemperature(float32(temp))

	maxTokens := b.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		m.SetMaxOutputTokens(int32(maxTokens))
	}

	if s := strings.TrimSpace(opts.System); s != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(s)}}
	}
	if opts.ResponseFormat == port.ResponseFormatJSON {
		m.ResponseMIMEType = "application/json"
	}
	return m
}

// Generate 生成文本
func (b *geminiBackend) Generate(ctx context.Context, prompt string, opts port.GenerateOptions) (string, error) {
	ctx, cancel := withTimeout(ctx, b.cfg)
	defer cancel()

	resp, err := b.newModel(opts).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return geminiText(resp)
}

// AnalyzeDocument 内联文档 + 指令
func (b *geminiBackend) AnalyzeDocument(ctx context.Context, base64Doc, mimeType, prompt string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(base64Doc)
	if err != nil {
		return "", fmt.Errorf("decode document: %w", err)
	}

	ctx, cancel := withTimeout(ctx, b.cfg)
	defer cancel()

	resp, err := b.newModel(port.GenerateOptions{}).GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("gemini analyze document: %w", err)
	}
	return geminiText(resp)
}

// Close 关闭底层客户端
func (b *geminiBackend) Close() error {
	return b.client.Close()
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text parts")
	}
	return sb.String(), nil
}

func withTimeout(ctx context.Context, cfg config.ProviderConfig) (context.Context, context.CancelFunc) {
	if cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.Timeout)
}

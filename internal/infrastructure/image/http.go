// Package image 提供 HTTP JSON 出图后端适配
package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"film-ai-api/internal/config"
	workflowport "film-ai-api/internal/workflow/port"
	apperrors "film-ai-api/pkg/errors"
)

var tracer = otel.Tracer("image")

const (
	defaultTimeout  = 90 * time.Second
	maxErrorBodyLen = 512
)

// HTTPBackend 调用兼容 OpenAI images 接口或返回 {url} 的出图服务
type HTTPBackend struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

var _ workflowport.ImageBackend = (*HTTPBackend)(nil)

// NewHTTPBackend 创建出图后端
func NewHTTPBackend(cfg *config.Config) *HTTPBackend {
	timeout := cfg.Image.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPBackend{
		endpoint: strings.TrimSpace(cfg.Image.Endpoint),
		apiKey:   cfg.Image.APIKey,
		model:    cfg.Image.Model,
		client:   &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model       string `json:"model,omitempty"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	SafetyLevel string `json:"safety_level,omitempty"`
	N           int    `json:"n"`
}

// generateResponse 兼容几种常见响应形态
type generateResponse struct {
	URL  string `json:"url"`
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// GenerateImage 请求出图并返回图片 URL；base64 结果转为 data URL
func (b *HTTPBackend) GenerateImage(ctx context.Context, prompt string, opts workflowport.ImageOptions) (string, error) {
	ctx, span := tracer.Start(ctx, "image.GenerateImage")
	span.SetAttributes(
		attribute.String("image.model", b.model),
		attribute.Int("image.prompt_len", len(prompt)),
	)
	defer span.End()

	if b.endpoint == "" {
		return "", apperrors.ErrMissingCredential.WithDetail("image endpoint not configured")
	}

	body, err := json.Marshal(generateRequest{
		Model:       b.model,
		Prompt:      prompt,
		AspectRatio: opts.AspectRatio,
		SafetyLevel: opts.SafetyLevel,
		N:           1,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperrors.ErrImageGeneration.WithError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.ErrImageGeneration.WithError(err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", apperrors.ErrMissingCredential.WithDetail(fmt.Sprintf("image backend rejected credentials: %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", apperrors.ErrImageGeneration.WithDetail(fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(raw), maxErrorBodyLen)))
	}

	url, err := ParseImageURL(raw)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return url, nil
}

// ParseImageURL 从响应体中取出第一张图片的地址
func ParseImageURL(raw []byte) (string, error) {
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apperrors.ErrImageGeneration.WithDetail("invalid response body").WithError(err)
	}
	if out.URL != "" {
		return out.URL, nil
	}
	for _, d := range out.Data {
		if d.URL != "" {
			return d.URL, nil
		}
		if d.B64JSON != "" {
			return "data:image/png;base64," + d.B64JSON, nil
		}
	}
	for _, img := range out.Images {
		if img.URL != "" {
			return img.URL, nil
		}
	}
	return "", apperrors.ErrImageGeneration.WithDetail("response contained no image")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

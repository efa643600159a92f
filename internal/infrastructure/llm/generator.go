package llm

import (
	"context"
	"errors"
	"strings"

	"film-ai-api/internal/workflow/port"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/metrics"
)

// FallbackGenerator 按 [primary, ...fallbacks] 顺序尝试，首个成功即返回。
// 本层不做单提供商内的重试。
type FallbackGenerator struct {
	invoker          port.Invoker
	defaultPrimary   string
	defaultFallbacks []string
}

// NewFallbackGenerator 创建降级生成器
func NewFallbackGenerator(invoker port.Invoker, defaultPrimary string, defaultFallbacks []string) *FallbackGenerator {
	return &FallbackGenerator{
		invoker:          invoker,
		defaultPrimary:   defaultPrimary,
		defaultFallbacks: defaultFallbacks,
	}
}

// NewFallbackGeneratorFromRegistry 使用注册表配置的默认链
func NewFallbackGeneratorFromRegistry(r *Registry) *FallbackGenerator {
	primary, fallbacks := r.Chain()
	return NewFallbackGenerator(r, primary, fallbacks)
}

// Generate 实现 port.ContentGenerator
func (g *FallbackGenerator) Generate(ctx context.Context, req port.GenerateRequest) (string, error) {
	candidates := g.candidates(req)
	if len(candidates) == 0 {
		return "", apperrors.ErrUnknownProvider.WithDetail("no provider configured")
	}

	prompt := SanitizePrompt(req.Prompt)
	opts := req.Options
	opts.System = SanitizePrompt(opts.System)

	var lastErr error
	for i, provider := range candidates {
		text, err := g.invoker.InvokeText(ctx, provider, prompt, opts)
		if err == nil {
			if i > 0 {
				logger.Info(ctx, "generation succeeded on fallback provider",
					"provider", provider,
					"position", i,
				)
			}
			return text, nil
		}

		// 凭据缺失属于配置错误，直接暴露
		if errors.Is(err, apperrors.ErrMissingCredential) {
			return "", err
		}

		lastErr = err
		if i == len(candidates)-1 {
			break
		}
		metrics.LLMFallbackTotal.WithLabelValues(provider).Inc()
		logger.Warn(ctx, "provider failed, trying next in chain",
			"provider", provider,
			"next", candidates[i+1],
			"error", err.Error(),
		)
	}

	logger.Error(ctx, "all providers failed", lastErr, "chain", strings.Join(candidates, ","))
	return "", apperrors.Wrap(lastErr, apperrors.CodeAllProvidersFailed, "all providers failed")
}

func (g *FallbackGenerator) candidates(req port.GenerateRequest) []string {
	primary := strings.TrimSpace(req.Primary)
	if primary == "" {
		primary = g.defaultPrimary
	}
	fallbacks := req.Fallbacks
	if fallbacks == nil {
		fallbacks = g.defaultFallbacks
	}

	seen := make(map[string]struct{}, len(fallbacks)+1)
	out := make([]string, 0, len(fallbacks)+1)
	for _, p := range append([]string{primary}, fallbacks...) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Package llm 提供文本生成后端的注册、惰性构建与降级调用
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"film-ai-api/internal/config"
	llmctx "film-ai-api/internal/domain/service"
	"film-ai-api/internal/workflow/port"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
	"film-ai-api/pkg/metrics"
	"film-ai-api/pkg/tracer"

	"go.opentelemetry.io/otel/attribute"
)

// 后端类型
const (
	KindOpenAI = "openai"
	KindGemini = "gemini"
	KindCohere = "cohere"
)

// BackendBuilder 根据提供商配置构建后端
type BackendBuilder func(ctx context.Context, name string, cfg config.ProviderConfig) (port.GenerativeBackend, error)

// Registry 管理多个生成后端实例，首次使用时构建并在进程内缓存
type Registry struct {
	config   *config.LLMConfig
	builders map[string]BackendBuilder
	backends map[string]port.GenerativeBackend
	mu       sync.RWMutex
}

// NewRegistry 创建提供商注册表
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		config:   &cfg.LLM,
		builders: make(map[string]BackendBuilder),
		backends: make(map[string]port.GenerativeBackend),
	}
	r.RegisterBuilder(KindOpenAI, newEinoBackend)
	r.RegisterBuilder(KindGemini, newGeminiBackend)
	r.RegisterBuilder(KindCohere, newCohereBackend)
	return r
}

// RegisterBuilder 注册或覆盖某类后端的构建函数
func (r *Registry) RegisterBuilder(kind string, b BackendBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[strings.ToLower(kind)] = b
}

// Get 获取指定提供商的后端，未指定时返回默认提供商
func (r *Registry) Get(ctx context.Context, name string) (port.GenerativeBackend, error) {
	if name == "" {
		name = r.config.DefaultProvider
	}

	r.mu.RLock()
	b, ok := r.backends[name]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}

	// 惰性加载
	r.mu.Lock()
	defer r.mu.Unlock()

	// 再次检查防止竞态
	if b, ok = r.backends[name]; ok {
		return b, nil
	}

	providerCfg, ok := r.config.Providers[name]
	if !ok {
		return nil, apperrors.ErrUnknownProvider.WithDetail(name)
	}
	if strings.TrimSpace(providerCfg.APIKey) == "" {
		return nil, apperrors.ErrMissingCredential.WithDetail(name)
	}

	kind := strings.ToLower(providerCfg.Kind)
	if kind == "" {
		kind = KindOpenAI
	}
	build, ok := r.builders[kind]
	if !ok {
		return nil, apperrors.ErrUnknownProvider.WithDetail(fmt.Sprintf("%s: unsupported kind %q", name, kind))
	}

	b, err := build(ctx, name, providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend for %s: %w", name, err)
	}

	r.backends[name] = b
	return b, nil
}

// Warmup 预先构建指定提供商，进程启动时用于尽早暴露缺失的凭据
func (r *Registry) Warmup(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := r.Get(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Chain 返回默认提供商与配置的降级链
func (r *Registry) Chain() (primary string, fallbacks []string) {
	return r.config.DefaultProvider, append([]string(nil), r.config.FallbackChain...)
}

// InvokeText 调用指定提供商生成文本
func (r *Registry) InvokeText(ctx context.Context, providerID, prompt string, opts port.GenerateOptions) (string, error) {
	backend, err := r.Get(ctx, providerID)
	if err != nil {
		return "", err
	}

	ctx = llmctx.WithProvider(ctx, providerID)
	ctx, span := tracer.Start(ctx, "llm.InvokeText")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", providerID),
		attribute.String("llm.stage", llmctx.StageFromContext(ctx)),
		attribute.String("llm.response_format", string(opts.ResponseFormat)),
	)

	start := time.Now()
	text, err := backend.Generate(ctx, prompt, opts)
	metrics.LLMCallDuration.WithLabelValues(providerID).Observe(time.Since(start).Seconds())
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty response")
	}
	if err != nil {
		metrics.LLMCallTotal.WithLabelValues(providerID, "error").Inc()
		tracer.RecordError(span, err)
		return "", apperrors.Wrap(err, apperrors.CodeProviderCallFailure, "provider call failed: "+providerID)
	}

	metrics.LLMCallTotal.WithLabelValues(providerID, "success").Inc()
	return text, nil
}

// InvokeDocument 调用支持文档输入的提供商
func (r *Registry) InvokeDocument(ctx context.Context, providerID, base64Doc, mimeType, prompt string) (string, error) {
	if providerID == "" {
		providerID = r.config.DocumentProvider
	}
	backend, err := r.Get(ctx, providerID)
	if err != nil {
		return "", err
	}
	doc, ok := backend.(port.DocumentBackend)
	if !ok {
		return "", apperrors.ErrUnsupportedCapability.WithDetail(providerID + ": document analysis")
	}

	ctx = llmctx.WithProvider(ctx, providerID)
	ctx, span := tracer.Start(ctx, "llm.InvokeDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", providerID),
		attribute.String("document.mime_type", mimeType),
	)

	start := time.Now()
	text, err := doc.AnalyzeDocument(ctx, base64Doc, mimeType, prompt)
	metrics.LLMCallDuration.WithLabelValues(providerID).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMCallTotal.WithLabelValues(providerID, "error").Inc()
		tracer.RecordError(span, err)
		return "", apperrors.Wrap(err, apperrors.CodeProviderCallFailure, "document analysis failed: "+providerID)
	}
	metrics.LLMCallTotal.WithLabelValues(providerID, "success").Inc()
	return text, nil
}

// Close 释放持有连接的后端
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, b := range r.backends {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	if len(errs) > 0 {
		logger.Warn(context.Background(), "llm backends closed with errors", "count", len(errs))
	}
	return errors.Join(errs...)
}

func ptrFloat32(f float32) *float32 {
	return &f
}

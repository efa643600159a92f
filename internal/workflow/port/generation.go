// Package port 定义工作流层对外部生成服务的最小依赖。
package port

import (
	"context"
)

// ResponseFormat 期望的响应格式
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json"
)

// GenerateOptions 单次生成参数
type GenerateOptions struct {
	// System 系统指令，后端按各自约定传递
	System         string
	MaxTokens      int
	Temperature    *float64
	ResponseFormat ResponseFormat
}

// GenerativeBackend 单个文本生成后端，各实现自行归一化响应结构
type GenerativeBackend interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// DocumentBackend 支持内联文档 + 指令的后端（可选能力）
type DocumentBackend interface {
	AnalyzeDocument(ctx context.Context, base64Doc, mimeType, prompt string) (string, error)
}

// Invoker 按提供商 ID 路由调用
type Invoker interface {
	InvokeText(ctx context.Context, providerID, prompt string, opts GenerateOptions) (string, error)
	InvokeDocument(ctx context.Context, providerID, base64Doc, mimeType, prompt string) (string, error)
}

// GenerateRequest 带降级链的生成请求
type GenerateRequest struct {
	Primary string
	Prompt  string
	Options GenerateOptions
	// Fallbacks 为 nil 时使用配置的默认降级链；显式传空切片表示不降级
	Fallbacks []string
}

// ContentGenerator 带降级链的生成器
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

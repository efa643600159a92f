package model

import (
	"film-ai-api/internal/workflow/port"
	workflowprompt "film-ai-api/internal/workflow/prompt"
)

// StageInput 一次 prompt 执行的输入
type StageInput struct {
	Prompt workflowprompt.PromptID
	Vars   map[string]any

	// Provider 为空时使用默认提供商；Fallbacks 为 nil 时使用默认降级链
	Provider  string
	Fallbacks []string

	MaxTokens      int
	Temperature    *float64
	ResponseFormat port.ResponseFormat
}

// RenderedPrompt 渲染后的 system / user 文本
type RenderedPrompt struct {
	System string
	User   string
}

// Package eino 注册 Eino 全局回调：ChatModel 的追踪与 Token 计量，以及 prompt 渲染失败的日志
package eino

import (
	"context"
	"sync"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/prompt"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"

	llmctx "film-ai-api/internal/domain/service"
	"film-ai-api/pkg/logger"
)

var registerOnce sync.Once

// Init 进程内只注册一次，api-gateway 与 job-worker 启动时各调用一次
func Init() {
	registerOnce.Do(func() {
		einocb.AppendGlobalHandlers(cbtemplate.NewHandlerHelper().
			ChatModel(newChatModelCallbackHandler()).
			Prompt(newPromptCallbackHandler()).
			Handler())
	})
}

// newPromptCallbackHandler 记录模板渲染结果；变量缺失等渲染错误在这里留痕
func newPromptCallbackHandler() *cbtemplate.PromptCallbackHandler {
	return &cbtemplate.PromptCallbackHandler{
		OnEnd: func(ctx context.Context, _ *einocb.RunInfo, output *prompt.CallbackOutput) context.Context {
			if output == nil {
				return ctx
			}
			chars := 0
			for _, m := range output.Result {
				if m != nil {
					chars += len([]rune(m.Content))
				}
			}
			logger.Debug(ctx, "prompt rendered",
				"stage", llmctx.StageFromContext(ctx),
				"messages", len(output.Result),
				"chars", chars,
			)
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			name := ""
			if info != nil {
				name = info.Name
			}
			logger.Warn(ctx, "prompt render failed",
				"stage", llmctx.StageFromContext(ctx),
				"node", name,
				"error", err.Error(),
			)
			return ctx
		},
	}
}

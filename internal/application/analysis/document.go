package analysis

import (
	"context"
	"encoding/base64"
	"strings"

	llmctx "film-ai-api/internal/domain/service"
	workflowprompt "film-ai-api/internal/workflow/prompt"
	apperrors "film-ai-api/pkg/errors"
)

var supportedDocumentTypes = map[string]struct{}{
	"application/pdf": {},
	"text/plain":      {},
}

// AnalyzeDocument 把内联文档交给支持文档输入的提供商，返回原始文本
func (a *Analyzer) AnalyzeDocument(ctx context.Context, base64Doc, mimeType, instruction string) (string, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if _, ok := supportedDocumentTypes[mimeType]; !ok {
		return "", apperrors.ErrInvalidParam.WithDetail("unsupported mime type: " + mimeType)
	}
	if _, err := base64.StdEncoding.DecodeString(base64Doc); err != nil {
		return "", apperrors.ErrInvalidParam.WithDetail("document is not valid base64")
	}

	rendered, err := a.chain.Render(ctx, workflowprompt.PromptDocumentV1, map[string]any{
		"instruction": strings.TrimSpace(instruction),
	})
	if err != nil {
		return "", err
	}

	ctx = llmctx.WithStage(ctx, "document")
	return a.invoker.InvokeDocument(ctx, a.documentProv, base64Doc, mimeType, rendered.System+"\n\n"+rendered.User)
}

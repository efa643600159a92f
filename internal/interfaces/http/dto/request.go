package dto

import (
	"github.com/gin-gonic/gin"
)

// StartPipelineRequest 启动分析流水线；stages 为空时运行全部阶段
type StartPipelineRequest struct {
	Stages []string `json:"stages"`
}

// ActorAnalysisRequest 单个演员适配分析请求
type ActorAnalysisRequest struct {
	CharacterName string `json:"character_name" binding:"required"`
	ActorName     string `json:"actor_name" binding:"required"`
	Context       string `json:"context"`
}

// AnalyzeDocumentRequest 内联文档分析请求
type AnalyzeDocumentRequest struct {
	// Document base64 编码的文档内容
	Document    string `json:"document" binding:"required"`
	MimeType    string `json:"mime_type"`
	Instruction string `json:"instruction"`
}

// BindProjectID 从 URI 绑定项目 ID
func BindProjectID(c *gin.Context) string {
	return c.Param("pid")
}

package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, h *Handlers) {
	projects := v1.Group("/projects/:pid")
	{
		// 流水线
		projects.POST("/pipeline", h.Pipeline.StartPipeline)
		projects.DELETE("/pipeline", h.Pipeline.CancelPipeline)
		projects.GET("/progress", h.Pipeline.GetProgress)
		projects.GET("/progress/stream", h.Pipeline.StreamProgress) // SSE
		projects.GET("/progress/ws", h.Pipeline.ProgressWebSocket)

		// 分镜
		projects.POST("/visuals", h.Visual.StartBatch)
		projects.GET("/visuals", h.Visual.GetStatus)
		projects.DELETE("/visuals", h.Visual.CancelBatch)

		// 剧本文档分析
		projects.POST("/script/analyze-document", h.Analysis.AnalyzeDocument)
	}

	casting := v1.Group("/casting")
	{
		casting.POST("/actor-analysis", h.Analysis.AnalyzeActor)
	}
}

package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"film-ai-api/internal/application/analysis"
	"film-ai-api/internal/domain/entity"
	"film-ai-api/internal/domain/repository"
	"film-ai-api/internal/interfaces/http/dto"
	apperrors "film-ai-api/pkg/errors"
)

const defaultDocumentMimeType = "application/pdf"

// AnalysisService 同步分析能力
type AnalysisService interface {
	AnalyzeActor(ctx context.Context, req analysis.ActorAnalysisRequest) (*entity.ActorAnalysis, error)
	AnalyzeDocument(ctx context.Context, base64Doc, mimeType, instruction string) (string, error)
}

// AnalysisHandler 同步分析处理器
type AnalysisHandler struct {
	svc      AnalysisService
	projects repository.ProjectRepository
}

// NewAnalysisHandler 创建同步分析处理器
func NewAnalysisHandler(svc AnalysisService, projects repository.ProjectRepository) *AnalysisHandler {
	return &AnalysisHandler{svc: svc, projects: projects}
}

// AnalyzeActor 评估单个演员与角色的适配度
// @Summary 演员适配分析
// @Tags Casting
// @Accept json
// @Produce json
// @Param body body dto.ActorAnalysisRequest true "角色与演员"
// @Success 200 {object} dto.Response[entity.ActorAnalysis]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /api/v1/casting/actor-analysis [post]
func (h *AnalysisHandler) AnalyzeActor(c *gin.Context) {
	var req dto.ActorAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	out, err := h.svc.AnalyzeActor(c.Request.Context(), analysis.ActorAnalysisRequest{
		CharacterName: req.CharacterName,
		ActorName:     req.ActorName,
		Context:       req.Context,
	})
	if err != nil {
		dto.FromError(c, err, "analyze actor")
		return
	}
	dto.Success(c, out)
}

// AnalyzeDocument 把 base64 剧本文档交给支持文档输入的提供商分析
// @Summary 剧本文档分析
// @Tags Analysis
// @Accept json
// @Produce json
// @Param pid path string true "项目 ID"
// @Param body body dto.AnalyzeDocumentRequest true "文档"
// @Success 200 {object} dto.Response[dto.DocumentAnalysisResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse "提供商不支持文档输入"
// @Router /api/v1/projects/{pid}/script/analyze-document [post]
func (h *AnalysisHandler) AnalyzeDocument(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.AnalyzeDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	project, err := h.projects.GetByID(ctx, dto.BindProjectID(c))
	if err != nil {
		dto.FromError(c, err, "analyze document")
		return
	}
	if project == nil {
		dto.FromError(c, apperrors.ErrProjectNotFound, "analyze document")
		return
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = defaultDocumentMimeType
	}
	text, err := h.svc.AnalyzeDocument(ctx, req.Document, mimeType, req.Instruction)
	if err != nil {
		dto.FromError(c, err, "analyze document")
		return
	}
	dto.Success(c, &dto.DocumentAnalysisResponse{Text: text})
}

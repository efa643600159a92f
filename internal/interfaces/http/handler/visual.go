package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"film-ai-api/internal/domain/entity"
	"film-ai-api/internal/interfaces/http/dto"
)

// VisualService 分镜批次对外能力
type VisualService interface {
	Start(ctx context.Context, projectID string) (*entity.VisualJob, error)
	Status(ctx context.Context, projectID string) ([]*entity.VisualSceneStatus, error)
	Cancel(ctx context.Context, projectID string) error
}

// VisualHandler 分镜处理器
type VisualHandler struct {
	svc VisualService
}

// NewVisualHandler 创建分镜处理器
func NewVisualHandler(svc VisualService) *VisualHandler {
	return &VisualHandler{svc: svc}
}

// StartBatch 启动分镜批次
// @Summary 生成分镜
// @Description 为项目全部场景异步生成分镜，已有分镜的场景跳过
// @Tags Visuals
// @Produce json
// @Param pid path string true "项目 ID"
// @Success 202 {object} dto.Response[dto.VisualJobResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "批次运行中"
// @Router /api/v1/projects/{pid}/visuals [post]
func (h *VisualHandler) StartBatch(c *gin.Context) {
	job, err := h.svc.Start(c.Request.Context(), dto.BindProjectID(c))
	if err != nil {
		dto.FromError(c, err, "start visual batch")
		return
	}
	dto.Accepted(c, dto.ToVisualJobResponse(job))
}

// CancelBatch 请求取消运行中的分镜批次，在下一个场景边界生效
// @Summary 取消分镜批次
// @Tags Visuals
// @Produce json
// @Param pid path string true "项目 ID"
// @Success 202 {object} dto.Response[string]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "没有运行中的批次"
// @Router /api/v1/projects/{pid}/visuals [delete]
func (h *VisualHandler) CancelBatch(c *gin.Context) {
	if err := h.svc.Cancel(c.Request.Context(), dto.BindProjectID(c)); err != nil {
		dto.FromError(c, err, "cancel visual batch")
		return
	}
	dto.Accepted(c, "cancel requested")
}

// GetStatus 查询分镜批次中每个场景的状态
// @Summary 查询分镜状态
// @Tags Visuals
// @Produce json
// @Param pid path string true "项目 ID"
// @Success 200 {object} dto.Response[dto.VisualStatusResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/v1/projects/{pid}/visuals [get]
func (h *VisualHandler) GetStatus(c *gin.Context) {
	projectID := dto.BindProjectID(c)
	statuses, err := h.svc.Status(c.Request.Context(), projectID)
	if err != nil {
		dto.FromError(c, err, "get visual status")
		return
	}
	dto.Success(c, dto.ToVisualStatusResponse(projectID, statuses))
}

package handler

import (
	"context"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"film-ai-api/internal/application/pipeline"
	"film-ai-api/internal/domain/entity"
	"film-ai-api/internal/interfaces/http/dto"
	"film-ai-api/pkg/logger"
)

const (
	defaultPollInterval = time.Second
	wsWriteWait         = 10 * time.Second
	wsReadLimit         = 512
)

// PipelineService 分析流水线对外能力
type PipelineService interface {
	Start(ctx context.Context, projectID string, names []string) (*entity.PipelineJob, error)
	Progress(ctx context.Context, projectID string) (*pipeline.ProgressView, error)
	Cancel(ctx context.Context, projectID string) error
}

// PipelineHandler 分析流水线处理器
type PipelineHandler struct {
	svc          PipelineService
	pollInterval time.Duration
	upgrader     websocket.Upgrader
}

// NewPipelineHandler 创建流水线处理器
func NewPipelineHandler(svc PipelineService) *PipelineHandler {
	return &PipelineHandler{
		svc:          svc,
		pollInterval: defaultPollInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// StartPipeline 启动分析流水线
// @Summary 启动分析流水线
// @Description 异步执行所选阶段，立即返回运行 ID
// @Tags Pipeline
// @Accept json
// @Produce json
// @Param pid path string true "项目 ID"
// @Param body body dto.StartPipelineRequest false "阶段列表"
// @Success 202 {object} dto.Response[dto.PipelineJobResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "已有运行中的流水线"
// @Router /api/v1/projects/{pid}/pipeline [post]
func (h *PipelineHandler) StartPipeline(c *gin.Context) {
	var req dto.StartPipelineRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			dto.BadRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	job, err := h.svc.Start(c.Request.Context(), dto.BindProjectID(c), req.Stages)
	if err != nil {
		dto.FromError(c, err, "start pipeline")
		return
	}
	dto.Accepted(c, dto.ToPipelineJobResponse(job))
}

// CancelPipeline 请求取消运行中的流水线，在下一个阶段边界生效
// @Summary 取消分析流水线
// @Tags Pipeline
// @Produce json
// @Param pid path string true "项目 ID"
// @Success 202 {object} dto.Response[string]
// @Failure 409 {object} dto.ErrorResponse "没有运行中的流水线"
// @Router /api/v1/projects/{pid}/pipeline [delete]
func (h *PipelineHandler) CancelPipeline(c *gin.Context) {
	if err := h.svc.Cancel(c.Request.Context(), dto.BindProjectID(c)); err != nil {
		dto.FromError(c, err, "cancel pipeline")
		return
	}
	dto.Accepted(c, "cancel requested")
}

// GetProgress 查询项目进度
// @Summary 查询分析进度
// @Tags Pipeline
// @Produce json
// @Param pid path string true "项目 ID"
// @Success 200 {object} dto.Response[dto.ProgressResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /api/v1/projects/{pid}/progress [get]
func (h *PipelineHandler) GetProgress(c *gin.Context) {
	view, err := h.svc.Progress(c.Request.Context(), dto.BindProjectID(c))
	if err != nil {
		dto.FromError(c, err, "get progress")
		return
	}
	dto.Success(c, dto.ToProgressResponse(view.Progress, view.Stages))
}

// StreamProgress 通过 SSE 推送进度变化，运行结束后关闭
// @Summary 流式推送分析进度
// @Tags Pipeline
// @Produce text/event-stream
// @Param pid path string true "项目 ID"
// @Success 200 "SSE stream"
// @Router /api/v1/projects/{pid}/progress/stream [get]
func (h *PipelineHandler) StreamProgress(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := dto.BindProjectID(c)

	first, err := h.svc.Progress(ctx, projectID)
	if err != nil {
		dto.FromError(c, err, "stream progress")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	// 长连接不受服务端 WriteTimeout 限制
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	updates := h.watch(ctx, projectID, first)
	c.Stream(func(w io.Writer) bool {
		select {
		case u, ok := <-updates:
			if !ok {
				return false
			}
			if u.err != nil {
				c.SSEvent("error", gin.H{"message": u.err.Error()})
				return false
			}
			c.SSEvent("progress", u.resp)
			if u.resp.Done {
				c.SSEvent("done", gin.H{"run_id": u.resp.RunID})
				return false
			}
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// ProgressWebSocket 通过 websocket 推送进度变化
// @Summary websocket 推送分析进度
// @Tags Pipeline
// @Param pid path string true "项目 ID"
// @Router /api/v1/projects/{pid}/progress/ws [get]
func (h *PipelineHandler) ProgressWebSocket(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := dto.BindProjectID(c)

	first, err := h.svc.Progress(ctx, projectID)
	if err != nil {
		dto.FromError(c, err, "progress websocket")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	// 客户端不发送业务消息，读端只用于感知断开
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	conn.SetReadLimit(wsReadLimit)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for u := range h.watch(ctx, projectID, first) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if u.err != nil {
			_ = conn.WriteJSON(gin.H{"error": u.err.Error()})
			return
		}
		if err := conn.WriteJSON(u.resp); err != nil {
			return
		}
		if u.resp.Done {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
			return
		}
	}
}

type progressUpdate struct {
	resp *dto.ProgressResponse
	err  error
}

// watch 轮询进度，仅在变化时产出；运行结束、出错或 ctx 取消后关闭通道
func (h *PipelineHandler) watch(ctx context.Context, projectID string, first *pipeline.ProgressView) <-chan progressUpdate {
	out := make(chan progressUpdate)
	go func() {
		defer close(out)

		send := func(u progressUpdate) bool {
			select {
			case out <- u:
				return true
			case <-ctx.Done():
				return false
			}
		}

		prev := dto.ToProgressResponse(first.Progress, first.Stages)
		if !send(progressUpdate{resp: prev}) || prev.Done {
			return
		}

		ticker := time.NewTicker(h.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			view, err := h.svc.Progress(ctx, projectID)
			if err != nil {
				send(progressUpdate{err: err})
				return
			}
			cur := dto.ToProgressResponse(view.Progress, view.Stages)
			if reflect.DeepEqual(cur, prev) {
				continue
			}
			if !send(progressUpdate{resp: cur}) || cur.Done {
				return
			}
			prev = cur
		}
	}()
	return out
}

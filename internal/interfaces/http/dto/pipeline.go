package dto

import (
	"time"

	"film-ai-api/internal/domain/entity"
)

// PipelineJobResponse 流水线受理结果
type PipelineJobResponse struct {
	RunID       string   `json:"run_id"`
	ProjectID   string   `json:"project_id"`
	Stages      []string `json:"stages"`
	RequestedAt string   `json:"requested_at"`
}

// ToPipelineJobResponse 转换流水线任务
func ToPipelineJobResponse(job *entity.PipelineJob) *PipelineJobResponse {
	stages := make([]string, 0, len(job.Stages))
	for _, s := range job.Stages {
		stages = append(stages, string(s))
	}
	return &PipelineJobResponse{
		RunID:       job.RunID,
		ProjectID:   job.ProjectID,
		Stages:      stages,
		RequestedAt: job.RequestedAt.Format(time.RFC3339),
	}
}

// StageStatusResponse 单阶段状态
type StageStatusResponse struct {
	Stage         string `json:"stage"`
	Status        string `json:"status"`
	ResultSummary string `json:"result_summary,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Attempts      int    `json:"attempts"`
	StartedAt     string `json:"started_at,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

// ProgressResponse 项目进度
type ProgressResponse struct {
	ProjectID       string                 `json:"project_id"`
	RunID           string                 `json:"run_id,omitempty"`
	PercentComplete int                    `json:"percent_complete"`
	CompletedStages int                    `json:"completed_stages"`
	FailedStages    int                    `json:"failed_stages"`
	TotalStages     int                    `json:"total_stages"`
	Done            bool                   `json:"done"`
	Stages          []*StageStatusResponse `json:"stages"`
}

// ToProgressResponse 转换进度视图
func ToProgressResponse(p *entity.ProjectProgress, stages []*entity.AnalysisStage) *ProgressResponse {
	resp := &ProgressResponse{
		ProjectID:       p.ProjectID,
		RunID:           p.RunID,
		PercentComplete: p.PercentComplete,
		CompletedStages: p.CompletedStages,
		FailedStages:    p.FailedStages,
		TotalStages:     p.TotalStages,
		Done:            p.Done,
		Stages:          make([]*StageStatusResponse, 0, len(stages)),
	}
	for _, s := range stages {
		resp.Stages = append(resp.Stages, &StageStatusResponse{
			Stage:         string(s.Stage),
			Status:        string(s.Status),
			ResultSummary: s.ResultSummary,
			FailureReason: string(s.FailureReason),
			ErrorMessage:  s.ErrorMessage,
			Attempts:      s.Attempts,
			StartedAt:     formatTime(s.StartedAt),
			CompletedAt:   formatTime(s.CompletedAt),
		})
	}
	return resp
}

// VisualJobResponse 分镜批次受理结果
type VisualJobResponse struct {
	BatchID     string `json:"batch_id"`
	ProjectID   string `json:"project_id"`
	RequestedAt string `json:"requested_at"`
}

// ToVisualJobResponse 转换分镜批次任务
func ToVisualJobResponse(job *entity.VisualJob) *VisualJobResponse {
	return &VisualJobResponse{
		BatchID:     job.BatchID,
		ProjectID:   job.ProjectID,
		RequestedAt: job.RequestedAt.Format(time.RFC3339),
	}
}

// VisualSceneStatusResponse 单场景出图状态
type VisualSceneStatusResponse struct {
	SceneID      string `json:"scene_id"`
	SceneNumber  int    `json:"scene_number"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// VisualStatusResponse 分镜批次状态
type VisualStatusResponse struct {
	ProjectID string                       `json:"project_id"`
	Scenes    []*VisualSceneStatusResponse `json:"scenes"`
}

// ToVisualStatusResponse 转换场景状态列表
func ToVisualStatusResponse(projectID string, statuses []*entity.VisualSceneStatus) *VisualStatusResponse {
	resp := &VisualStatusResponse{
		ProjectID: projectID,
		Scenes:    make([]*VisualSceneStatusResponse, 0, len(statuses)),
	}
	for _, s := range statuses {
		resp.Scenes = append(resp.Scenes, &VisualSceneStatusResponse{
			SceneID:      s.SceneID,
			SceneNumber:  s.SceneNumber,
			Status:       string(s.Status),
			Attempts:     s.Attempts,
			ErrorMessage: s.ErrorMessage,
		})
	}
	return resp
}

// DocumentAnalysisResponse 文档分析结果
type DocumentAnalysisResponse struct {
	Text string `json:"text"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

package entity

import (
	"fmt"
	"time"
)

// StageName 分析阶段名称
type StageName string

const (
	StageScenes     StageName = "scenes"
	StageCharacters StageName = "characters"
	StageCasting    StageName = "casting"
	StageVFX        StageName = "vfx"
	StagePlacement  StageName = "placement"
	StageLocations  StageName = "locations"
	StageFinancial  StageName = "financial"
	StageSummary    StageName = "summary"
)

// AllStages 按依赖顺序排列的全部阶段
var AllStages = []StageName{
	StageScenes,
	StageCharacters,
	StageCasting,
	StageVFX,
	StagePlacement,
	StageLocations,
	StageFinancial,
	StageSummary,
}

// StageStatus 阶段状态
type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusProcessing StageStatus = "processing"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusFailed     StageStatus = "failed"
)

// Terminal 是否为终态
func (s StageStatus) Terminal() bool {
	return s == StageStatusCompleted || s == StageStatusFailed
}

// FailureReason 失败原因分类，便于区分根因与连带失败
type FailureReason string

const (
	FailureReasonNone       FailureReason = ""
	FailureReasonStage      FailureReason = "StageFailure"
	FailureReasonDependency FailureReason = "DependencyFailure"
	FailureReasonExtraction FailureReason = "ExtractionFailure"
	FailureReasonProviders  FailureReason = "AllProvidersFailed"
	FailureReasonCancelled  FailureReason = "Cancelled"
	FailureReasonStale      FailureReason = "StaleRun"
)

// AnalysisStage 单个项目单个阶段的状态记录，只前进不删除
type AnalysisStage struct {
	ID            string        `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ProjectID     string        `json:"project_id" gorm:"type:uuid;not null;uniqueIndex:idx_stage_project_name"`
	Stage         StageName     `json:"stage" gorm:"type:varchar(32);not null;uniqueIndex:idx_stage_project_name"`
	RunID         string        `json:"run_id" gorm:"type:varchar(64);index"`
	Status        StageStatus   `json:"status" gorm:"type:varchar(20);index;not null"`
	ResultSummary string        `json:"result_summary,omitempty" gorm:"type:text"`
	FailureReason FailureReason `json:"failure_reason,omitempty" gorm:"type:varchar(32)"`
	ErrorMessage  string        `json:"error_message,omitempty" gorm:"type:text"`
	Attempts      int           `json:"attempts"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (AnalysisStage) TableName() string {
	return "analysis_stages"
}

// NewAnalysisStage 创建待执行的阶段记录
func NewAnalysisStage(projectID string, stage StageName, runID string) *AnalysisStage {
	return &AnalysisStage{
		ProjectID: projectID,
		Stage:     stage,
		RunID:     runID,
		Status:    StageStatusPending,
	}
}

// Reset 显式重跑时重置为 pending，保留 ID 与尝试次数
func (s *AnalysisStage) Reset(runID string) {
	s.RunID = runID
	s.Status = StageStatusPending
	s.ResultSummary = ""
	s.FailureReason = FailureReasonNone
	s.ErrorMessage = ""
	s.StartedAt = nil
	s.CompletedAt = nil
}

// Start pending -> processing
func (s *AnalysisStage) Start() error {
	if s.Status != StageStatusPending {
		return s.invalid(StageStatusProcessing)
	}
	now := time.Now()
	s.Status = StageStatusProcessing
	s.StartedAt = &now
	s.Attempts++
	return nil
}

// Complete processing -> completed
func (s *AnalysisStage) Complete(summary string) error {
	if s.Status != StageStatusProcessing {
		return s.invalid(StageStatusCompleted)
	}
	now := time.Now()
	s.Status = StageStatusCompleted
	s.ResultSummary = summary
	s.CompletedAt = &now
	return nil
}

// Fail pending|processing -> failed
func (s *AnalysisStage) Fail(reason FailureReason, msg string) error {
	if s.Status.Terminal() {
		return s.invalid(StageStatusFailed)
	}
	now := time.Now()
	s.Status = StageStatusFailed
	s.FailureReason = reason
	s.ErrorMessage = msg
	s.CompletedAt = &now
	return nil
}

func (s *AnalysisStage) invalid(to StageStatus) error {
	return fmt.Errorf("invalid stage transition %s: %s -> %s", s.Stage, s.Status, to)
}

// ProjectProgress 项目整体进度，由阶段记录推导
type ProjectProgress struct {
	ProjectID       string    `json:"project_id" gorm:"type:uuid;primaryKey"`
	RunID           string    `json:"run_id" gorm:"type:varchar(64)"`
	CompletedStages int       `json:"completed_stages"`
	FailedStages    int       `json:"failed_stages"`
	TotalStages     int       `json:"total_stages"`
	PercentComplete int       `json:"percent_complete"`
	Done            bool      `json:"done"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (ProjectProgress) TableName() string {
	return "project_progress"
}

// Recompute 根据本次请求的阶段记录重新计算进度
func (p *ProjectProgress) Recompute(stages []*AnalysisStage) {
	p.TotalStages = len(stages)
	p.CompletedStages = 0
	p.FailedStages = 0
	for _, s := range stages {
		switch s.Status {
		case StageStatusCompleted:
			p.CompletedStages++
		case StageStatusFailed:
			p.FailedStages++
		}
	}
	if p.TotalStages == 0 {
		p.PercentComplete = 0
		p.Done = true
		return
	}
	p.PercentComplete = p.CompletedStages * 100 / p.TotalStages
	p.Done = p.CompletedStages+p.FailedStages == p.TotalStages
}

package entity

import "time"

// PipelineJob 异步分析任务，由 api-gateway 投递、job-worker 执行
type PipelineJob struct {
	RunID       string      `json:"run_id"`
	ProjectID   string      `json:"project_id"`
	Stages      []StageName `json:"stages"`
	RequestedAt time.Time   `json:"requested_at"`
}

// VisualJob 异步分镜批次任务
type VisualJob struct {
	BatchID     string    `json:"batch_id"`
	ProjectID   string    `json:"project_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Lead CRM 线索
type Lead struct {
	ProjectID    string       `json:"project_id"`
	ProjectTitle string       `json:"project_title"`
	Contact      OwnerContact `json:"contact"`
	Source       string       `json:"source"`
}

// LeadResult CRM 返回的联系人与商机 ID
type LeadResult struct {
	ContactID string `json:"contact_id"`
	DealID    string `json:"deal_id"`
}

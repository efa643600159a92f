package entity

import (
	"encoding/json"
	"time"
)

// StageResult 阶段产出的持久化快照，后续运行的下游阶段可直接复用
type StageResult struct {
	ProjectID string          `json:"project_id" gorm:"type:uuid;primaryKey"`
	Stage     StageName       `json:"stage" gorm:"type:varchar(32);primaryKey"`
	RunID     string          `json:"run_id" gorm:"type:varchar(64)"`
	Payload   json.RawMessage `json:"payload" gorm:"type:jsonb"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (StageResult) TableName() string {
	return "stage_results"
}

// CharacterAnalysis 角色分析阶段产出
type CharacterAnalysis struct {
	Characters               []*Character `json:"characters"`
	RelationshipExplanations []string     `json:"relationship_explanations,omitempty"`
}

// ActorSuggestion 演员建议
type ActorSuggestion struct {
	Name      string `json:"name" validate:"required"`
	Rationale string `json:"rationale,omitempty"`
	FeeRange  string `json:"fee_range,omitempty"`
	// Fit 匹配度 1-10
	Fit int `json:"fit,omitempty" validate:"omitempty,gte=1,lte=10"`
}

// CastingSuggestion 单个角色的选角建议
type CastingSuggestion struct {
	CharacterName string            `json:"character_name"`
	Primary       []ActorSuggestion `json:"primary"`
	Alternates    []ActorSuggestion `json:"alternates,omitempty"`
	// Missing 为 true 表示模型响应未覆盖该角色
	Missing bool   `json:"missing,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EnsembleCombination 组合选角方案
type EnsembleCombination struct {
	Name      string            `json:"name"`
	Cast      map[string]string `json:"cast"`
	Rationale string            `json:"rationale,omitempty"`
}

// CastingResult 选角阶段产出，Suggestions 与请求角色一一对应且保持顺序
type CastingResult struct {
	BudgetTier  BudgetTier            `json:"budget_tier"`
	Suggestions []CastingSuggestion   `json:"suggestions"`
	Ensembles   []EnsembleCombination `json:"ensembles,omitempty"`
	Missing     []string              `json:"missing,omitempty"`
}

// VFXAnalysis 单场景特效分析
type VFXAnalysis struct {
	SceneNumber int      `json:"scene_number"`
	IsVFX       bool     `json:"is_vfx"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// VFXResult 特效阶段产出
type VFXResult struct {
	Scenes []VFXAnalysis `json:"scenes"`
	// Malformed 无法解析的响应行
	Malformed []string `json:"malformed,omitempty"`
	// Unanalyzed 响应未覆盖的场景号
	Unanalyzed []int `json:"unanalyzed,omitempty"`
}

// PlacementOpportunity 植入机会
type PlacementOpportunity struct {
	SceneNumber int      `json:"scene_number" validate:"gte=1"`
	Score       int      `json:"score" validate:"gte=1,lte=100"`
	Categories  []string `json:"categories,omitempty"`
	Rationale   string   `json:"rationale,omitempty"`
}

// PlacementResult 植入阶段产出，按得分降序并截断
type PlacementResult struct {
	Opportunities       []PlacementOpportunity `json:"opportunities"`
	CategorySuggestions []string               `json:"category_suggestions,omitempty"`
}

// LocationCandidate 真实取景地候选
type LocationCandidate struct {
	Name             string  `json:"name" validate:"required"`
	Region           string  `json:"region,omitempty"`
	EstimatedDayCost float64 `json:"estimated_day_cost,omitempty"`
	Incentives       string  `json:"incentives,omitempty"`
	Logistics        string  `json:"logistics,omitempty"`
	Rank             int     `json:"rank,omitempty"`
}

// LocationSuggestion 按场景地点类型分组的取景建议
type LocationSuggestion struct {
	LocationType string              `json:"location_type"`
	SceneNumbers []int               `json:"scene_numbers"`
	Candidates   []LocationCandidate `json:"candidates"`
}

// LocationResult 取景阶段产出
type LocationResult struct {
	Groups []LocationSuggestion `json:"groups"`
}

// BudgetLineItem 预算明细行
type BudgetLineItem struct {
	Name    string  `json:"name"`
	Percent float64 `json:"percent"`
	Amount  float64 `json:"amount"`
}

// BudgetSection 预算分区，Total 恒等于明细之和
type BudgetSection struct {
	Name  string           `json:"name"`
	Items []BudgetLineItem `json:"items"`
	Total float64          `json:"total"`
}

// FinancialPlan 财务计划：确定性分配表 + 模型评注
type FinancialPlan struct {
	TotalBudget float64         `json:"total_budget"`
	Sections    []BudgetSection `json:"sections"`
	Contingency float64         `json:"contingency"`
	Bonding     float64         `json:"bonding"`
	GrandTotal  float64         `json:"grand_total"`
	Narrative   string          `json:"narrative,omitempty"`
}

// Summary 汇总报告
type Summary struct {
	Text string `json:"text"`
}

// ActorAnalysis 单演员适配分析
type ActorAnalysis struct {
	CharacterName string   `json:"character_name"`
	ActorName     string   `json:"actor_name"`
	FitScore      int      `json:"fit_score" validate:"gte=1,lte=10"`
	Strengths     []string `json:"strengths,omitempty"`
	Risks         []string `json:"risks,omitempty"`
	Verdict       string   `json:"verdict"`
}

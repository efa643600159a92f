// Package entity 定义领域实体
package entity

import (
	"time"
)

// BudgetTier 预算档位，影响选角建议的片酬区间
type BudgetTier string

const (
	BudgetTierMicro BudgetTier = "micro"
	BudgetTierLow   BudgetTier = "low"
	BudgetTierMid   BudgetTier = "mid"
	BudgetTierHigh  BudgetTier = "high"
)

// TierForBudget 根据总预算推导档位
func TierForBudget(total float64) BudgetTier {
	switch {
	case total < 250_000:
		return BudgetTierMicro
	case total < 2_500_000:
		return BudgetTierLow
	case total < 25_000_000:
		return BudgetTierMid
	default:
		return BudgetTierHigh
	}
}

// OwnerContact 项目所有者联系方式，用于 CRM 线索
type OwnerContact struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Project 影视项目
type Project struct {
	ID          string        `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Title       string        `json:"title" gorm:"type:varchar(255);not null"`
	Logline     string        `json:"logline,omitempty" gorm:"type:text"`
	Genre       string        `json:"genre,omitempty" gorm:"type:varchar(100)"`
	Script      string        `json:"script,omitempty" gorm:"type:text"`
	TotalBudget float64       `json:"total_budget"`
	BudgetTier  BudgetTier    `json:"budget_tier,omitempty" gorm:"type:varchar(20)"`
	Owner       *OwnerContact `json:"owner,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt   time.Time     `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Project) TableName() string {
	return "projects"
}

// Tier 返回显式设置的档位，未设置时按预算推导
func (p *Project) Tier() BudgetTier {
	if p.BudgetTier != "" {
		return p.BudgetTier
	}
	return TierForBudget(p.TotalBudget)
}

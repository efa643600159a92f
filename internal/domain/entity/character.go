package entity

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// Importance 角色重要程度
type Importance string

const (
	ImportanceLead       Importance = "lead"
	ImportanceSupporting Importance = "supporting"
	ImportanceMinor      Importance = "minor"
)

// Relationship 角色关系
type Relationship struct {
	Character    string `json:"character" validate:"required"`
	Relationship string `json:"relationship"`
	// Strength 关系强度 1-10
	Strength    int    `json:"strength" validate:"gte=1,lte=10"`
	Description string `json:"description,omitempty"`
}

// Character 角色
type Character struct {
	ID            string         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ProjectID     string         `json:"project_id" gorm:"type:uuid;not null;uniqueIndex:idx_character_project_name"`
	Name          string         `json:"name" gorm:"type:varchar(255);not null;uniqueIndex:idx_character_project_name" validate:"required"`
	Description   string         `json:"description" gorm:"type:text"`
	Demographics  string         `json:"demographics,omitempty" gorm:"type:text"`
	Personality   pq.StringArray `json:"personality,omitempty" gorm:"type:text[]"`
	Importance    Importance     `json:"importance" gorm:"type:varchar(20)" validate:"oneof=lead supporting minor"`
	ScreenTime    string         `json:"screen_time,omitempty" gorm:"type:varchar(100)"`
	CharacterArc  string         `json:"character_arc,omitempty" gorm:"type:text"`
	Relationships []Relationship `json:"relationships,omitempty" gorm:"type:jsonb;serializer:json" validate:"dive"`
	CreatedAt     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Character) TableName() string {
	return "characters"
}

// NormalizeImportance 把模型返回的重要程度归一到 lead/supporting/minor
func NormalizeImportance(s string) Importance {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lead", "main", "protagonist", "primary", "antagonist":
		return ImportanceLead
	case "supporting", "secondary":
		return ImportanceSupporting
	default:
		return ImportanceMinor
	}
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

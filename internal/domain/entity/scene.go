package entity

import (
	"time"

	"github.com/lib/pq"
)

// Scene 剧本场景
type Scene struct {
	ID          string         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ProjectID   string         `json:"project_id" gorm:"type:uuid;not null;uniqueIndex:idx_scene_project_number"`
	SceneNumber int            `json:"scene_number" gorm:"uniqueIndex:idx_scene_project_number" validate:"gte=1"`
	Location    string         `json:"location" gorm:"type:varchar(255)" validate:"required"`
	TimeOfDay   string         `json:"time_of_day,omitempty" gorm:"type:varchar(50)"`
	Description string         `json:"description" gorm:"type:text"`
	Characters  pq.StringArray `json:"characters" gorm:"type:text[]"`
	Content     string         `json:"content,omitempty" gorm:"type:text"`
	PageStart   float64        `json:"page_start,omitempty"`
	PageEnd     float64        `json:"page_end,omitempty"`
	// Duration 预估时长（分钟）
	Duration                      float64        `json:"duration,omitempty"`
	VFXNeeds                      pq.StringArray `json:"vfx_needs,omitempty" gorm:"type:text[]"`
	ProductPlacementOpportunities pq.StringArray `json:"product_placement_opportunities,omitempty" gorm:"type:text[]"`
	CreatedAt                     time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt                     time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Scene) TableName() string {
	return "scenes"
}

// HasCharacter 场景中是否出现指定角色（忽略大小写）
func (s *Scene) HasCharacter(name string) bool {
	for _, c := range s.Characters {
		if equalFoldTrim(c, name) {
			return true
		}
	}
	return false
}

package entity

import (
	"time"

	"github.com/lib/pq"
)

// ConsistencyProfile 角色视觉一致性描述，同一项目内所有分镜共享
type ConsistencyProfile struct {
	ID                  string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ProjectID           string    `json:"project_id" gorm:"type:uuid;not null;uniqueIndex:idx_profile_project_character"`
	CharacterName       string    `json:"character_name" gorm:"type:varchar(255);not null;uniqueIndex:idx_profile_project_character"`
	PhysicalDescription string    `json:"physical_description" gorm:"type:text"`
	CostumeDescription  string    `json:"costume_description" gorm:"type:text"`
	VisualStyle         string    `json:"visual_style" gorm:"type:text"`
	// Fallback 为 true 表示生成失败后由名称与项目标题推导
	Fallback  bool      `json:"fallback"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定表名
func (ConsistencyProfile) TableName() string {
	return "consistency_profiles"
}

// VisualArtifact 场景分镜图，每个场景最多一张
type VisualArtifact struct {
	ID                string         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ProjectID         string         `json:"project_id" gorm:"type:uuid;index;not null"`
	SceneID           string         `json:"scene_id" gorm:"type:uuid;uniqueIndex;not null"`
	ImageURL          string         `json:"image_url" gorm:"type:text"`
	ObjectKey         string         `json:"object_key,omitempty" gorm:"type:text"`
	Prompt            string         `json:"prompt" gorm:"type:text"`
	CharactersPresent pq.StringArray `json:"characters_present" gorm:"type:text[]"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// TableName 指定表名
func (VisualArtifact) TableName() string {
	return "visual_artifacts"
}

// VisualStatus 单场景出图状态
type VisualStatus string

const (
	VisualStatusPending    VisualStatus = "pending"
	VisualStatusProcessing VisualStatus = "processing"
	VisualStatusCompleted  VisualStatus = "completed"
	VisualStatusFailed     VisualStatus = "failed"
	// VisualStatusSkipped 已有分镜，本次跳过
	VisualStatusSkipped VisualStatus = "skipped"
)

// VisualSceneStatus 视觉批次中单个场景的状态
type VisualSceneStatus struct {
	ProjectID    string       `json:"project_id" gorm:"type:uuid;primaryKey"`
	SceneID      string       `json:"scene_id" gorm:"type:uuid;primaryKey"`
	SceneNumber  int          `json:"scene_number"`
	Status       VisualStatus `json:"status" gorm:"type:varchar(20)"`
	Attempts     int          `json:"attempts"`
	ErrorMessage string       `json:"error_message,omitempty" gorm:"type:text"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (VisualSceneStatus) TableName() string {
	return "visual_scene_status"
}

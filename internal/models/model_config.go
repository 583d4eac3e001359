package models

import (
	"time"

	"gorm.io/gorm"
)

// ModelConfig stores a review engine configuration. A row with a non-nil
// RepositoryID applies to that repository only; a row with RepositoryID nil
// and IsDefault true is the global default. Per-call header overrides beat
// both (resolution happens in the review engine, not here).
type ModelConfig struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	RepositoryID *uint          `gorm:"index" json:"repository_id"`
	Engine       string         `gorm:"size:50;not null" json:"engine"` // claude_code, codex_cli, openai_api, anthropic_api, ollama, gemini
	Model        string         `gorm:"size:100" json:"model"`
	BaseURL      string         `gorm:"size:500" json:"base_url"`
	APIKey       string         `gorm:"size:500" json:"-"`
	Features     string         `gorm:"size:200" json:"features"`    // comma list: comment,review,status
	FocusAreas   string         `gorm:"size:200" json:"focus_areas"` // comma list: quality,security,performance,logic
	IsDefault    bool           `gorm:"default:false" json:"is_default"`
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ModelConfig) TableName() string { return "model_configs" }

// MaskAPIKey returns a masked API key for display.
func (m *ModelConfig) MaskAPIKey() string {
	if len(m.APIKey) <= 8 {
		return "****"
	}
	return m.APIKey[:4] + "****" + m.APIKey[len(m.APIKey)-4:]
}

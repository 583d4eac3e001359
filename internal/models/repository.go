package models

import (
	"time"

	"gorm.io/gorm"
)

// Repository represents a Gitea repository this service reviews.
type Repository struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Owner         string         `gorm:"size:255;not null;uniqueIndex:idx_repo_owner_name" json:"owner"`
	Name          string         `gorm:"size:255;not null;uniqueIndex:idx_repo_owner_name" json:"name"`
	WebhookSecret string         `gorm:"size:255" json:"-"` // per-repo secret, falls back to the global one
	Enabled       bool           `gorm:"default:true" json:"enabled"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Repository) TableName() string { return "repositories" }

// FullName returns the owner/name form used in logs and workspace paths.
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

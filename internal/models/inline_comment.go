package models

import "time"

// InlineComment is one line-level finding persisted under a ReviewSession.
// At least one of NewLine/OldLine is set.
type InlineComment struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ReviewSessionID uint      `gorm:"index;not null" json:"review_session_id"`
	FilePath        string    `gorm:"size:500;not null" json:"file_path"`
	NewLine         *int      `json:"new_line"`
	OldLine         *int      `json:"old_line"`
	Severity        string    `gorm:"size:20" json:"severity"` // critical, high, medium, low
	Comment         string    `gorm:"type:text;not null" json:"comment"`
	Suggestion      string    `gorm:"type:text" json:"suggestion"`
	CreatedAt       time.Time `json:"created_at"`
}

func (InlineComment) TableName() string { return "inline_comments" }

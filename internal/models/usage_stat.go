package models

import "time"

// UsageStat records estimated resource usage for one review session.
type UsageStat struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	RepositoryID    uint      `gorm:"index;not null" json:"repository_id"`
	ReviewSessionID uint      `gorm:"uniqueIndex;not null" json:"review_session_id"`
	InputTokens     int       `json:"input_tokens"` // estimated when the engine reports none
	OutputTokens    int       `json:"output_tokens"`
	HostingAPICalls int       `json:"hosting_api_calls"`
	EngineCalls     int       `json:"engine_calls"`
	CloneOperations int       `json:"clone_operations"`
	CreatedAt       time.Time `json:"created_at"`
}

func (UsageStat) TableName() string { return "usage_stats" }

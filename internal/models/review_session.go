package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// ReviewSession is the audit record of one review run. It is created when
// the background job starts, mutated as phases complete, and immutable once
// CompletedAt is set. Exactly one job owns a session from creation to
// completion.
type ReviewSession struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	RepositoryID uint        `gorm:"index;not null" json:"repository_id"`
	Repository   *Repository `gorm:"foreignKey:RepositoryID" json:"repository,omitempty"`

	PRNumber   int    `gorm:"index;not null" json:"pr_number"`
	PRTitle    string `gorm:"size:500" json:"pr_title"`
	PRAuthor   string `gorm:"size:255" json:"pr_author"`
	HeadBranch string `gorm:"size:255" json:"head_branch"`
	BaseBranch string `gorm:"size:255" json:"base_branch"`
	HeadSHA    string `gorm:"size:64" json:"head_sha"`

	TriggerKind  string `gorm:"size:20;not null" json:"trigger_kind"` // automatic, manual
	Engine       string `gorm:"size:100" json:"engine"`
	Model        string `gorm:"size:100" json:"model"`
	ConfigSource string `gorm:"size:20" json:"config_source"` // override, repo_config, global_default, builtin
	Features     string `gorm:"size:200" json:"features"`     // comma list
	FocusAreas   string `gorm:"size:200" json:"focus_areas"`  // comma list

	AnalysisMode  string `gorm:"size:20" json:"analysis_mode"` // full, diff
	DiffSizeBytes int    `json:"diff_size_bytes"`

	OverallSeverity     string `gorm:"size:20" json:"overall_severity"`
	SummaryMarkdown     string `gorm:"type:text" json:"summary_markdown"`
	InlineCommentsCount int    `gorm:"default:0" json:"inline_comments_count"`
	Success             *bool  `json:"success"`
	ErrorMessage        string `gorm:"type:text" json:"error_message"`

	StartedAt       time.Time      `gorm:"index;not null" json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
	DurationSeconds *float64       `json:"duration_seconds"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`

	InlineComments []InlineComment `gorm:"foreignKey:ReviewSessionID" json:"inline_comments,omitempty"`
}

func (ReviewSession) TableName() string { return "review_sessions" }

// FeatureList splits the persisted comma list.
func (s *ReviewSession) FeatureList() []string {
	return splitCommaList(s.Features)
}

// FocusList splits the persisted comma list.
func (s *ReviewSession) FocusList() []string {
	return splitCommaList(s.FocusAreas)
}

func splitCommaList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

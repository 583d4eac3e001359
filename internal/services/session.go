package services

import (
	"strings"
	"time"

	"github.com/prsentry/prsentry/internal/models"
	"github.com/prsentry/prsentry/internal/provider"
	"github.com/prsentry/prsentry/pkg/logger"
	"gorm.io/gorm"
)

// SessionService persists review sessions and their child records.
type SessionService struct {
	db *gorm.DB
}

func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{db: db}
}

// Create opens a session for a starting review run.
func (s *SessionService) Create(session *models.ReviewSession) error {
	session.StartedAt = time.Now()
	return s.db.Create(session).Error
}

// Update persists in-flight mutations of an open session.
func (s *SessionService) Update(session *models.ReviewSession) error {
	return s.db.Save(session).Error
}

// Finalize stamps the session completed and writes the terminal outcome.
// After this the session is never mutated again.
func (s *SessionService) Finalize(session *models.ReviewSession, success bool, errorMessage string) error {
	now := time.Now()
	duration := now.Sub(session.StartedAt).Seconds()

	session.Success = &success
	session.ErrorMessage = provider.Redact(errorMessage)
	session.CompletedAt = &now
	session.DurationSeconds = &duration

	if err := s.db.Save(session).Error; err != nil {
		logger.Error().Err(err).Uint("session_id", session.ID).Msg("session finalize failed")
		return err
	}
	return nil
}

// SaveInlineComments records the line-level findings of a completed
// analysis under the session.
func (s *SessionService) SaveInlineComments(sessionID uint, comments []provider.InlineComment) error {
	if len(comments) == 0 {
		return nil
	}
	rows := make([]models.InlineComment, 0, len(comments))
	for _, c := range comments {
		rows = append(rows, models.InlineComment{
			ReviewSessionID: sessionID,
			FilePath:        c.Path,
			NewLine:         c.NewLine,
			OldLine:         c.OldLine,
			Severity:        c.Severity,
			Comment:         c.Comment,
			Suggestion:      c.Suggestion,
		})
	}
	return s.db.Create(&rows).Error
}

// SaveUsage records engine and hosting resource consumption for a session.
func (s *SessionService) SaveUsage(stat *models.UsageStat) error {
	return s.db.Create(stat).Error
}

// List returns recent sessions, newest first, optionally filtered by
// repository.
func (s *SessionService) List(repositoryID uint, limit, offset int) ([]models.ReviewSession, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := s.db.Model(&models.ReviewSession{})
	if repositoryID > 0 {
		query = query.Where("repository_id = ?", repositoryID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []models.ReviewSession
	err := query.Order("started_at DESC").Limit(limit).Offset(offset).Find(&sessions).Error
	return sessions, total, err
}

// Get loads one session with its inline comments.
func (s *SessionService) Get(id uint) (*models.ReviewSession, error) {
	var session models.ReviewSession
	err := s.db.Preload("InlineComments").Preload("Repository").First(&session, id).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteOlderThan removes sessions past the retention window along with
// their child rows. Returns the number of sessions removed.
func (s *SessionService) DeleteOlderThan(cutoff time.Time) (int64, error) {
	var ids []uint
	if err := s.db.Model(&models.ReviewSession{}).
		Where("started_at < ?", cutoff).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.db.Where("review_session_id IN ?", ids).Delete(&models.InlineComment{}).Error; err != nil {
		return 0, err
	}
	if err := s.db.Where("review_session_id IN ?", ids).Delete(&models.UsageStat{}).Error; err != nil {
		return 0, err
	}
	result := s.db.Where("id IN ?", ids).Delete(&models.ReviewSession{})
	return result.RowsAffected, result.Error
}

func joinList(values []string) string {
	return strings.Join(values, ",")
}

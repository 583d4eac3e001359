package services

import (
	"time"

	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Maintenance runs the periodic housekeeping jobs: reaping workspace
// directories orphaned by crashes and trimming persisted records to the
// retention window. The reaper is defense in depth; normal runs release
// their workspaces themselves.
type Maintenance struct {
	cron       *cron.Cron
	cfg        *config.ReviewConfig
	sweeper    interface{ SweepStale(time.Duration) (int, error) }
	sessions   *SessionService
	deliveries *DeliveryLog
}

func NewMaintenance(
	cfg *config.ReviewConfig,
	sweeper interface{ SweepStale(time.Duration) (int, error) },
	db *gorm.DB,
) *Maintenance {
	return &Maintenance{
		cron:       cron.New(),
		cfg:        cfg,
		sweeper:    sweeper,
		sessions:   NewSessionService(db),
		deliveries: NewDeliveryLog(db),
	}
}

func (m *Maintenance) Start() error {
	if _, err := m.cron.AddFunc("*/30 * * * *", m.reapWorkspaces); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc("20 3 * * *", m.enforceRetention); err != nil {
		return err
	}
	m.cron.Start()
	logger.Info().Msg("maintenance scheduler started")
	return nil
}

func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

func (m *Maintenance) reapWorkspaces() {
	maxAge := time.Duration(m.cfg.WorkspaceMaxAgeHours) * time.Hour
	if maxAge <= 0 {
		maxAge = 4 * time.Hour
	}
	if _, err := m.sweeper.SweepStale(maxAge); err != nil {
		logger.Warn().Err(err).Msg("workspace sweep failed")
	}
}

func (m *Maintenance) enforceRetention() {
	days := m.cfg.RetentionDays
	if days <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	removed, err := m.sessions.DeleteOlderThan(cutoff)
	if err != nil {
		logger.Warn().Err(err).Msg("session retention cleanup failed")
	} else if removed > 0 {
		logger.Info().Int64("removed", removed).Msg("expired review sessions removed")
	}

	pruned, err := m.deliveries.PruneOlderThan(cutoff)
	if err != nil {
		logger.Warn().Err(err).Msg("delivery log cleanup failed")
	} else if pruned > 0 {
		logger.Info().Int64("removed", pruned).Msg("expired webhook deliveries removed")
	}
}

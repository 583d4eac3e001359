package services

import (
	"time"

	"github.com/prsentry/prsentry/internal/models"
	"github.com/prsentry/prsentry/pkg/logger"
	"gorm.io/gorm"
)

// Delivery outcomes.
const (
	DeliveryScheduled = "scheduled"
	DeliveryIgnored   = "ignored"
	DeliveryRejected  = "rejected"
	DeliveryMalformed = "malformed"
)

// DeliveryLog records every inbound webhook delivery for auditing. Failures
// to write the audit row never affect delivery handling.
type DeliveryLog struct {
	db *gorm.DB
}

func NewDeliveryLog(db *gorm.DB) *DeliveryLog {
	return &DeliveryLog{db: db}
}

func (d *DeliveryLog) Record(entry *models.WebhookDelivery) {
	if err := d.db.Create(entry).Error; err != nil {
		logger.Warn().Err(err).Msg("webhook delivery audit write failed")
	}
}

// PruneOlderThan trims the audit log to the retention window.
func (d *DeliveryLog) PruneOlderThan(cutoff time.Time) (int64, error) {
	result := d.db.Where("created_at < ?", cutoff).Delete(&models.WebhookDelivery{})
	return result.RowsAffected, result.Error
}

package models

import "time"

// WebhookDelivery is the audit row written for every inbound webhook,
// including ones that were rejected or ignored.
type WebhookDelivery struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Event     string    `gorm:"size:50;index" json:"event"`
	Action    string    `gorm:"size:50" json:"action"`
	Owner     string    `gorm:"size:255" json:"owner"`
	Repo      string    `gorm:"size:255" json:"repo"`
	PRNumber  int       `json:"pr_number"`
	Outcome   string    `gorm:"size:20;index" json:"outcome"` // scheduled, ignored, rejected, malformed
	Detail    string    `gorm:"size:500" json:"detail"`
	ClientIP  string    `gorm:"size:50" json:"client_ip"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (WebhookDelivery) TableName() string { return "webhook_deliveries" }

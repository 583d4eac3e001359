package models

import (
	"fmt"

	"github.com/prsentry/prsentry/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(cfg *config.DatabaseConfig) error {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	DB = db
	return nil
}

func AutoMigrate() error {
	return DB.AutoMigrate(
		&Repository{},
		&ModelConfig{},
		&ReviewSession{},
		&InlineComment{},
		&UsageStat{},
		&WebhookDelivery{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaults creates the global default engine configuration on first
// start so the pipeline works before any explicit configuration exists.
func SeedDefaults(review *config.ReviewConfig) error {
	var count int64
	if err := DB.Model(&ModelConfig{}).
		Where("repository_id IS NULL AND is_default = ?", true).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return DB.Create(&ModelConfig{
		Engine:    review.DefaultEngine,
		Model:     review.DefaultModel,
		BaseURL:   review.BaseURL,
		APIKey:    review.APIKey,
		IsDefault: true,
		IsActive:  true,
	}).Error
}

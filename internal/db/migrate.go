package db

import (
	"fmt"

	"github.com/zulandar/concierge/internal/config"
	"github.com/zulandar/concierge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Website{},
		&models.Session{},
		&models.Message{},
		&models.KnowledgeEntry{},
		&models.KnowledgeConfig{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedWebsites upserts Website and KnowledgeConfig rows from configuration.
// Knowledge settings omitted in config fall back to enabled with
// defaultThreshold.
func SeedWebsites(db *gorm.DB, websites []config.WebsiteConfig, defaultThreshold float64) error {
	for _, wc := range websites {
		autoReply := true
		if wc.AutoReply != nil {
			autoReply = *wc.AutoReply
		}
		site := models.Website{
			ID:           wc.ID,
			Name:         wc.Name,
			APIKey:       wc.APIKey,
			SystemPrompt: wc.SystemPrompt,
			AutoReply:    autoReply,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "api_key", "system_prompt", "auto_reply", "updated_at"}),
		}).Create(&site)
		if result.Error != nil {
			return fmt.Errorf("db: seed website %q: %w", wc.ID, result.Error)
		}

		kc := models.KnowledgeConfig{
			WebsiteID: wc.ID,
			Enabled:   true,
			Threshold: defaultThreshold,
		}
		if wc.Knowledge.Enabled != nil {
			kc.Enabled = *wc.Knowledge.Enabled
		}
		if wc.Knowledge.Threshold != nil {
			kc.Threshold = *wc.Knowledge.Threshold
		}
		result = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "website_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "threshold", "updated_at"}),
		}).Create(&kc)
		if result.Error != nil {
			return fmt.Errorf("db: seed knowledge config for %q: %w", wc.ID, result.Error)
		}
	}
	return nil
}

// Package knowledge answers visitor messages from a tenant's static
// knowledge table.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/concierge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Index reads knowledge entries and per-tenant settings from the database.
type Index struct {
	db *gorm.DB
}

// New creates an Index backed by db.
func New(db *gorm.DB) *Index {
	return &Index{db: db}
}

// Config returns the tenant's knowledge settings. A tenant without a
// settings row has knowledge disabled.
func (x *Index) Config(ctx context.Context, websiteID string) (models.KnowledgeConfig, error) {
	var kc models.KnowledgeConfig
	err := x.db.WithContext(ctx).First(&kc, "website_id = ?", websiteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.KnowledgeConfig{WebsiteID: websiteID}, nil
	}
	if err != nil {
		return kc, fmt.Errorf("knowledge: config %q: %w", websiteID, err)
	}
	kc.Threshold = models.ClampThreshold(kc.Threshold)
	return kc, nil
}

// Enabled reports whether the tenant answers from knowledge at all.
func (x *Index) Enabled(ctx context.Context, websiteID string) (bool, error) {
	kc, err := x.Config(ctx, websiteID)
	if err != nil {
		return false, err
	}
	return kc.Enabled, nil
}

// SetConfig stores the tenant's knowledge switch and threshold.
func (x *Index) SetConfig(ctx context.Context, websiteID string, enabled bool, threshold float64) error {
	kc := models.KnowledgeConfig{WebsiteID: websiteID, Enabled: enabled, Threshold: threshold}
	err := x.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "website_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "threshold", "updated_at"}),
	}).Create(&kc).Error
	if err != nil {
		return fmt.Errorf("knowledge: set config %q: %w", websiteID, err)
	}
	return nil
}

// Entries returns the tenant's entries in scan order (creation, then id).
func (x *Index) Entries(ctx context.Context, websiteID string) ([]models.KnowledgeEntry, error) {
	var entries []models.KnowledgeEntry
	err := x.db.WithContext(ctx).
		Where("website_id = ?", websiteID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("knowledge: entries %q: %w", websiteID, err)
	}
	return entries, nil
}

// Match resolves text against the tenant's knowledge. A disabled tenant
// never matches.
func (x *Index) Match(ctx context.Context, websiteID, text string) (Result, error) {
	kc, err := x.Config(ctx, websiteID)
	if err != nil {
		return Result{}, err
	}
	if !kc.Enabled {
		return Result{Normalized: Normalize(text)}, nil
	}
	entries, err := x.Entries(ctx, websiteID)
	if err != nil {
		return Result{}, err
	}
	return MatchEntries(entries, text, kc.Threshold), nil
}

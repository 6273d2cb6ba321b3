package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// KnowledgeEntry is one (keywords, question, answer) triple of a tenant.
type KnowledgeEntry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	WebsiteID string    `gorm:"size:64;not null;index" json:"websiteId"`
	Keywords  string    `gorm:"type:json" json:"-"` // JSON array, order preserved
	Question  string    `gorm:"type:text;not null" json:"question"`
	Answer    string    `gorm:"type:text;not null" json:"answer"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// KeywordList decodes Keywords. A malformed column yields no keywords.
func (e KnowledgeEntry) KeywordList() []string {
	if e.Keywords == "" {
		return nil
	}
	var kws []string
	if err := json.Unmarshal([]byte(e.Keywords), &kws); err != nil {
		return nil
	}
	return kws
}

// SetKeywords encodes kws into the Keywords column.
func (e *KnowledgeEntry) SetKeywords(kws []string) {
	if kws == nil {
		kws = []string{}
	}
	data, _ := json.Marshal(kws)
	e.Keywords = string(data)
}

// KnowledgeConfig is the per-tenant switch and similarity threshold.
type KnowledgeConfig struct {
	WebsiteID string    `gorm:"primaryKey;size:64" json:"websiteId"`
	Enabled   bool      `gorm:"not null" json:"enabled"`
	Threshold float64   `gorm:"not null" json:"threshold"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ClampThreshold limits t to [0,1].
func ClampThreshold(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	default:
		return t
	}
}

// BeforeSave keeps the stored threshold within [0,1].
func (c *KnowledgeConfig) BeforeSave(tx *gorm.DB) error {
	c.Threshold = ClampThreshold(c.Threshold)
	return nil
}

package knowledge

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/zulandar/concierge/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// ImportEntry is one record of a flat knowledge file.
type ImportEntry struct {
	Keywords []string `yaml:"keywords"`
	Question string   `yaml:"question"`
	Answer   string   `yaml:"answer"`
}

// LoadFile reads a YAML knowledge file: a list of
// {keywords, question, answer} records.
func LoadFile(path string) ([]ImportEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read %s: %w", path, err)
	}
	return ParseFile(data)
}

// ParseFile unmarshals and validates a knowledge file.
func ParseFile(data []byte) ([]ImportEntry, error) {
	var entries []ImportEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("knowledge: parse: %w", err)
	}
	var errs []string
	for i, e := range entries {
		if strings.TrimSpace(e.Question) == "" {
			errs = append(errs, fmt.Sprintf("entries[%d].question is required", i))
		}
		if strings.TrimSpace(e.Answer) == "" {
			errs = append(errs, fmt.Sprintf("entries[%d].answer is required", i))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("knowledge: validation failed: %s", strings.Join(errs, "; "))
	}
	return entries, nil
}

// Import writes entries into the tenant's knowledge table, replacing any
// existing entry with the same question text. It returns the number of
// entries created and updated.
func (x *Index) Import(ctx context.Context, websiteID string, entries []ImportEntry) (created, updated int, err error) {
	err = x.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, in := range entries {
			var existing models.KnowledgeEntry
			res := tx.Where("website_id = ? AND question = ?", websiteID, in.Question).Limit(1).Find(&existing)
			if res.Error != nil {
				return fmt.Errorf("lookup %q: %w", in.Question, res.Error)
			}
			if res.RowsAffected > 0 {
				existing.SetKeywords(in.Keywords)
				existing.Answer = in.Answer
				if err := tx.Save(&existing).Error; err != nil {
					return fmt.Errorf("update %q: %w", in.Question, err)
				}
				updated++
				continue
			}
			e := models.KnowledgeEntry{WebsiteID: websiteID, Question: in.Question, Answer: in.Answer}
			e.SetKeywords(in.Keywords)
			if err := tx.Create(&e).Error; err != nil {
				return fmt.Errorf("create %q: %w", in.Question, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("knowledge: import into %q: %w", websiteID, err)
	}
	return created, updated, nil
}

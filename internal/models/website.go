package models

import "time"

// Website is a tenant: a third-party site embedding the chat widget.
type Website struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	Name         string    `gorm:"size:128;not null" json:"name"`
	APIKey       string    `gorm:"size:128;not null" json:"-"`
	SystemPrompt string    `gorm:"type:text" json:"systemPrompt,omitempty"`
	AutoReply    bool      `gorm:"not null" json:"autoReply"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

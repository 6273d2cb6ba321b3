package models

import "time"

// Session is one visitor conversation on a website. Its ID is supplied by
// the widget, so creation is an idempotent upsert keyed by ID.
type Session struct {
	ID           string    `gorm:"primaryKey;size:64" json:"sessionId"`
	WebsiteID    string    `gorm:"size:64;not null;index" json:"websiteId"`
	VisitorID    string    `gorm:"size:128" json:"visitorId,omitempty"`
	StartedAt    time.Time `gorm:"not null" json:"startedAt"`
	LastActiveAt time.Time `gorm:"not null;index" json:"lastActiveAt"`
	Unread       bool      `gorm:"default:false;index" json:"unread"`

	// Escalation sub-record.
	NeedsHumanSupport  bool       `gorm:"default:false;index" json:"needsHumanSupport"`
	SupportRequestedAt *time.Time `json:"supportRequestedAt,omitempty"`
	SupportReason      string     `gorm:"size:512" json:"supportReason,omitempty"`
	LastPageURL        string     `gorm:"size:2048" json:"lastPageUrl,omitempty"`
	LastUserAgent      string     `gorm:"size:512" json:"lastUserAgent,omitempty"`
	SupportRemindedAt  *time.Time `json:"-"`

	Messages []Message `gorm:"foreignKey:SessionID" json:"-"`
}

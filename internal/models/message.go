package models

import "time"

// Message roles as stored. Operator replies are stored as assistant.
const (
	RoleVisitor   = "visitor"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message sources distinguish who produced an assistant message.
const (
	SourceVisitor   = "visitor"
	SourceOperator  = "operator"
	SourceKnowledge = "knowledge"
	SourceGenerator = "generator"
	SourceSystem    = "system"
)

// Message is one immutable chat line. Ordering is (CreatedAt, ID).
type Message struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"size:64;not null;index:idx_session_created" json:"sessionId"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Source    string    `gorm:"size:16;not null" json:"source"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_session_created" json:"createdAt"`
}

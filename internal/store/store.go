// Package store persists chat sessions and messages.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/concierge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a referenced session or website is absent.
var ErrNotFound = errors.New("not found")

// Store is the durable record of websites, sessions and messages.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a Store backed by db.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// MessageInput describes a message to append to a session.
type MessageInput struct {
	SessionID string
	// WebsiteID, when set, creates the session on first contact.
	WebsiteID string
	VisitorID string
	Role      string
	Source    string
	Content   string
}

// SupportRecord is the durable part of a human-support request.
type SupportRecord struct {
	SessionID   string
	WebsiteID   string
	VisitorID   string
	Reason      string
	PageURL     string
	UserAgent   string
	SystemText  string // summary stored as a system message
	VisitorText string // optional visitor message; empty skips it
}

// Website loads a tenant by ID.
func (s *Store) Website(ctx context.Context, id string) (*models.Website, error) {
	var w models.Website
	if err := s.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("store: website %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: website %q: %w", id, err)
	}
	return &w, nil
}

// Session loads a session by ID.
func (s *Store) Session(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("store: session %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: session %q: %w", id, err)
	}
	return &sess, nil
}

// EnsureSession creates the session if it does not exist and returns the
// stored row. Concurrent callers converge on the first writer's record.
func (s *Store) EnsureSession(ctx context.Context, sessionID, websiteID, visitorID string) (*models.Session, error) {
	var sess *models.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sess, err = ensureSession(tx, sessionID, websiteID, visitorID, s.now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: ensure session: %w", err)
	}
	return sess, nil
}

// ensureSession upserts on the primary key so the unique constraint
// resolves creation races.
func ensureSession(tx *gorm.DB, sessionID, websiteID, visitorID string, now time.Time) (*models.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if websiteID == "" {
		return nil, fmt.Errorf("website id is required to create session %q", sessionID)
	}
	candidate := models.Session{
		ID:           sessionID,
		WebsiteID:    websiteID,
		VisitorID:    visitorID,
		StartedAt:    now,
		LastActiveAt: now,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error; err != nil {
		return nil, fmt.Errorf("upsert session %q: %w", sessionID, err)
	}
	var sess models.Session
	if err := tx.First(&sess, "id = ?", sessionID).Error; err != nil {
		return nil, fmt.Errorf("load session %q: %w", sessionID, err)
	}
	if sess.VisitorID == "" && visitorID != "" {
		if err := tx.Model(&sess).Update("visitor_id", visitorID).Error; err != nil {
			return nil, fmt.Errorf("set visitor for %q: %w", sessionID, err)
		}
		sess.VisitorID = visitorID
	}
	return &sess, nil
}

// AppendMessage records a chat message and applies the session mutation
// that goes with it in one transaction: lastActiveAt is bumped, a visitor
// message marks the session unread, and an operator message marks it read
// and clears a pending support request.
func (s *Store) AppendMessage(ctx context.Context, in MessageInput) (*models.Message, error) {
	if in.Content == "" {
		return nil, fmt.Errorf("store: append message: content is required")
	}
	now := s.now()
	msg := models.Message{
		SessionID: in.SessionID,
		Role:      in.Role,
		Source:    in.Source,
		Content:   in.Content,
		CreatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.WebsiteID != "" {
			if _, err := ensureSession(tx, in.SessionID, in.WebsiteID, in.VisitorID, now); err != nil {
				return err
			}
		} else {
			var n int64
			if err := tx.Model(&models.Session{}).Where("id = ?", in.SessionID).Count(&n).Error; err != nil {
				return fmt.Errorf("check session %q: %w", in.SessionID, err)
			}
			if n == 0 {
				return fmt.Errorf("session %q: %w", in.SessionID, ErrNotFound)
			}
		}

		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}

		updates := map[string]interface{}{"last_active_at": now}
		switch in.Source {
		case models.SourceVisitor:
			updates["unread"] = true
		case models.SourceOperator:
			updates["unread"] = false
			updates["needs_human_support"] = false
		}
		if err := tx.Model(&models.Session{}).Where("id = ?", in.SessionID).Updates(updates).Error; err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: append message: %w", err)
	}
	return &msg, nil
}

// RecordSupportRequest performs the durable steps of an escalation: the
// session is upserted, its escalation fields are stamped, and the system
// (and optional visitor) messages are appended. Nothing is written unless
// every step succeeds.
func (s *Store) RecordSupportRequest(ctx context.Context, rec SupportRecord) (*models.Session, []models.Message, error) {
	now := s.now()
	var (
		sess *models.Session
		msgs []models.Message
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sess, err = ensureSession(tx, rec.SessionID, rec.WebsiteID, rec.VisitorID, now)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"needs_human_support":  true,
			"support_requested_at": now,
			"support_reason":       rec.Reason,
			"unread":               true,
			"last_active_at":       now,
		}
		if rec.PageURL != "" {
			updates["last_page_url"] = rec.PageURL
		}
		if rec.UserAgent != "" {
			updates["last_user_agent"] = rec.UserAgent
		}
		if err := tx.Model(&models.Session{}).Where("id = ?", sess.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("stamp escalation: %w", err)
		}

		system := models.Message{
			SessionID: sess.ID,
			Role:      models.RoleSystem,
			Source:    models.SourceSystem,
			Content:   rec.SystemText,
			CreatedAt: now,
		}
		if err := tx.Create(&system).Error; err != nil {
			return fmt.Errorf("append system message: %w", err)
		}
		msgs = append(msgs, system)

		if rec.VisitorText != "" {
			visitor := models.Message{
				SessionID: sess.ID,
				Role:      models.RoleVisitor,
				Source:    models.SourceVisitor,
				Content:   rec.VisitorText,
				CreatedAt: now,
			}
			if err := tx.Create(&visitor).Error; err != nil {
				return fmt.Errorf("append visitor message: %w", err)
			}
			msgs = append(msgs, visitor)
		}

		return tx.First(sess, "id = ?", sess.ID).Error
	})
	if err != nil {
		return nil, nil, fmt.Errorf("store: record support request: %w", err)
	}
	return sess, msgs, nil
}

// History returns the last limit messages of a session in (createdAt, id)
// order. A non-positive limit returns the whole history.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID)
	var msgs []models.Message
	if limit <= 0 {
		if err := q.Order("created_at ASC, id ASC").Find(&msgs).Error; err != nil {
			return nil, fmt.Errorf("store: history %q: %w", sessionID, err)
		}
		return msgs, nil
	}
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("store: history %q: %w", sessionID, err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// StaleSupportRequests returns sessions whose support request is older
// than cutoff and has not been reminded about yet.
func (s *Store) StaleSupportRequests(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("needs_human_support = ? AND support_requested_at < ?", true, cutoff).
		Where("support_reminded_at IS NULL OR support_reminded_at < support_requested_at").
		Order("support_requested_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("store: stale support requests: %w", err)
	}
	return sessions, nil
}

// MarkReminded stamps the reminder time for a session's pending request.
func (s *Store) MarkReminded(ctx context.Context, sessionID string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", sessionID).
		Update("support_reminded_at", at)
	if result.Error != nil {
		return fmt.Errorf("store: mark reminded %q: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: mark reminded %q: %w", sessionID, ErrNotFound)
	}
	return nil
}

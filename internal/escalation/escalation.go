// Package escalation tracks visitor requests for a human operator.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/concierge/internal/knowledge"
	"github.com/zulandar/concierge/internal/metrics"
	"github.com/zulandar/concierge/internal/models"
	"github.com/zulandar/concierge/internal/notify"
	"github.com/zulandar/concierge/internal/store"
)

// State is the escalation state of a session.
type State string

const (
	StateNormal           State = "NORMAL"
	StateSupportRequested State = "SUPPORT_REQUESTED"
)

// StateOf derives the state from a stored session.
func StateOf(sess *models.Session) State {
	if sess != nil && sess.NeedsHumanSupport {
		return StateSupportRequested
	}
	return StateNormal
}

// Request is a visitor asking for a human.
type Request struct {
	SessionID string
	WebsiteID string // may be empty when the session already exists
	VisitorID string
	Reason    string
	Message   string // free text typed alongside the request
	PageURL   string
	UserAgent string
}

// NotifyTimeout bounds one external notification, retries included.
const NotifyTimeout = 30 * time.Second

// Tracker performs the NORMAL -> SUPPORT_REQUESTED transition.
type Tracker struct {
	store    *store.Store
	notifier notify.Notifier
	triggers map[string]bool

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// New creates a Tracker. notifier may be nil. triggers are generic
// escalation phrases that are not worth recording as visitor messages.
func New(st *store.Store, notifier notify.Notifier, triggers []string) *Tracker {
	t := &Tracker{store: st, notifier: notifier, triggers: make(map[string]bool, len(triggers))}
	for _, p := range triggers {
		if n := knowledge.Normalize(p); n != "" {
			t.triggers[n] = true
		}
	}
	return t
}

// IsTrigger reports whether text is only a generic escalation phrase.
func (t *Tracker) IsTrigger(text string) bool {
	return t.triggers[knowledge.Normalize(text)]
}

// RequestSupport records the request durably and returns the notice to
// broadcast. Nothing is returned, and nobody is notified, unless every
// write succeeded. Failing to reach the external notifier is only logged.
func (t *Tracker) RequestSupport(ctx context.Context, req Request) (notify.Notice, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return notify.Notice{}, fmt.Errorf("escalation: session id is required")
	}

	// An existing session stays with the tenant it was created for.
	websiteID := req.WebsiteID
	existing, err := t.store.Session(ctx, req.SessionID)
	switch {
	case err == nil:
		websiteID = existing.WebsiteID
	case !errors.Is(err, store.ErrNotFound) || websiteID == "":
		return notify.Notice{}, fmt.Errorf("escalation: %w", err)
	}
	site, err := t.store.Website(ctx, websiteID)
	if err != nil {
		return notify.Notice{}, fmt.Errorf("escalation: %w", err)
	}

	reason := strings.TrimSpace(req.Reason)
	rec := store.SupportRecord{
		SessionID:  req.SessionID,
		WebsiteID:  websiteID,
		VisitorID:  req.VisitorID,
		Reason:     reason,
		PageURL:    req.PageURL,
		UserAgent:  req.UserAgent,
		SystemText: summary(reason),
	}
	if msg := strings.TrimSpace(req.Message); msg != "" && !t.IsTrigger(msg) {
		rec.VisitorText = msg
	}

	sess, _, err := t.store.RecordSupportRequest(ctx, rec)
	if err != nil {
		return notify.Notice{}, fmt.Errorf("escalation: %w", err)
	}
	metrics.Escalations.Inc()

	n := notify.Notice{
		SessionID:   sess.ID,
		WebsiteID:   site.ID,
		WebsiteName: site.Name,
		VisitorID:   sess.VisitorID,
		Reason:      reason,
		PageURL:     sess.LastPageURL,
		RequestedAt: time.Now(),
	}
	if sess.SupportRequestedAt != nil {
		n.RequestedAt = *sess.SupportRequestedAt
	}
	t.notifyExternal(ctx, n)
	return n, nil
}

// notifyExternal posts n in the background so a slow or rate-limited
// platform never holds up the caller.
func (t *Tracker) notifyExternal(ctx context.Context, n notify.Notice) {
	if t.notifier == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		log.Printf("escalation: tracker closed, not notifying session %s", n.SessionID)
		return
	}
	t.pending.Add(1)
	go func() {
		defer t.pending.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), NotifyTimeout)
		defer cancel()
		if err := t.notifier.Notify(nctx, n); err != nil {
			metrics.NotifyFailures.WithLabelValues("external").Inc()
			log.Printf("escalation: notify session %s: %v", n.SessionID, err)
		}
	}()
}

// Wait blocks until every external notification started so far is done.
func (t *Tracker) Wait() {
	t.pending.Wait()
}

// Close stops new external notifications and waits for the pending ones.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.pending.Wait()
}

// IsNotFound reports whether err means the session or website is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func summary(reason string) string {
	if reason == "" {
		return "Visitor requested human support."
	}
	return "Visitor requested human support: " + reason
}

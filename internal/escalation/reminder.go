package escalation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/concierge/internal/metrics"
	"github.com/zulandar/concierge/internal/notify"
	"github.com/zulandar/concierge/internal/store"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Reminder re-announces support requests nobody has answered.
type Reminder struct {
	store     *store.Store
	notifier  notify.Notifier
	broadcast func(notify.Notice)
	after     time.Duration
	now       func() time.Time
}

// NewReminder creates a Reminder for requests older than after. broadcast
// delivers to connected operators; notifier may be nil.
func NewReminder(st *store.Store, notifier notify.Notifier, broadcast func(notify.Notice), after time.Duration) *Reminder {
	return &Reminder{store: st, notifier: notifier, broadcast: broadcast, after: after, now: time.Now}
}

// Sweep reminds about every stale request once and returns how many it
// handled.
func (r *Reminder) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	stale, err := r.store.StaleSupportRequests(ctx, now.Add(-r.after))
	if err != nil {
		return 0, fmt.Errorf("escalation: reminder sweep: %w", err)
	}

	sent := 0
	for _, sess := range stale {
		if err := r.store.MarkReminded(ctx, sess.ID, now); err != nil {
			log.Printf("escalation: mark reminded %s: %v", sess.ID, err)
			continue
		}
		n := notify.Notice{
			SessionID: sess.ID,
			WebsiteID: sess.WebsiteID,
			VisitorID: sess.VisitorID,
			Reason:    sess.SupportReason,
			PageURL:   sess.LastPageURL,
			Reminder:  true,
		}
		if sess.SupportRequestedAt != nil {
			n.RequestedAt = *sess.SupportRequestedAt
		}
		if site, err := r.store.Website(ctx, sess.WebsiteID); err == nil {
			n.WebsiteName = site.Name
		}

		if r.broadcast != nil {
			r.broadcast(n)
		}
		if r.notifier != nil {
			if err := r.notifier.Notify(ctx, n); err != nil {
				metrics.NotifyFailures.WithLabelValues("external").Inc()
				log.Printf("escalation: remind session %s: %v", sess.ID, err)
			}
		}
		sent++
	}
	return sent, nil
}

// Schedule starts a cron runner that sweeps on expr. Stop the returned
// runner on shutdown.
func (r *Reminder) Schedule(ctx context.Context, expr string) (*cron.Cron, error) {
	c := cron.New(cron.WithParser(cronParser))
	_, err := c.AddFunc(expr, func() {
		n, err := r.Sweep(ctx)
		if err != nil {
			log.Printf("%v", err)
			return
		}
		if n > 0 {
			log.Printf("escalation: reminded operators about %d waiting session(s)", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("escalation: reminder schedule %q: %w", expr, err)
	}
	c.Start()
	return c, nil
}

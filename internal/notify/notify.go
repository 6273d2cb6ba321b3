// Package notify delivers human-support notices to operator chat
// platforms (Slack, Discord).
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Color constants for notice severity.
const (
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
)

// Notice describes a visitor waiting for a human.
type Notice struct {
	SessionID   string
	WebsiteID   string
	WebsiteName string
	VisitorID   string
	Reason      string
	PageURL     string
	RequestedAt time.Time
	Reminder    bool // still unanswered after the reminder delay
}

// Notifier posts a Notice somewhere operators will see it.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Field is a key-value pair displayed with a notice.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Event is a Notice rendered for chat display.
type Event struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Format renders n for chat platforms.
func Format(n Notice) Event {
	site := n.WebsiteName
	if site == "" {
		site = n.WebsiteID
	}
	evt := Event{
		Title: fmt.Sprintf("Support requested on %s", site),
		Color: ColorWarning,
	}
	if n.Reminder {
		waited := time.Since(n.RequestedAt).Round(time.Minute)
		evt.Title = fmt.Sprintf("Still waiting for support on %s (%s)", site, waited)
		evt.Color = ColorInfo
	}

	var body []string
	if n.Reason != "" {
		body = append(body, n.Reason)
	}
	if n.PageURL != "" {
		body = append(body, n.PageURL)
	}
	evt.Body = strings.Join(body, "\n")

	evt.Fields = append(evt.Fields, Field{Name: "Session", Value: n.SessionID, Short: true})
	if n.VisitorID != "" {
		evt.Fields = append(evt.Fields, Field{Name: "Visitor", Value: n.VisitorID, Short: true})
	}
	if !n.RequestedAt.IsZero() {
		evt.Fields = append(evt.Fields, Field{Name: "Requested", Value: n.RequestedAt.UTC().Format(time.RFC3339), Short: true})
	}
	return evt
}

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/concierge/internal/config"
	"github.com/zulandar/concierge/internal/db"
	"github.com/zulandar/concierge/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	if err := gdb.Create(&models.Website{ID: "shop", Name: "Example Shop", APIKey: "k", AutoReply: true}).Error; err != nil {
		t.Fatalf("seed website: %v", err)
	}
	return New(gdb)
}

func TestWebsite_Found(t *testing.T) {
	s := openTestStore(t)
	w, err := s.Website(context.Background(), "shop")
	if err != nil {
		t.Fatalf("Website: %v", err)
	}
	if w.Name != "Example Shop" {
		t.Errorf("Name = %q", w.Name)
	}
}

func TestWebsite_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Website(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEnsureSession_CreatesOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureSession(ctx, "sess-1", "shop", "")
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	second, err := s.EnsureSession(ctx, "sess-1", "other-site", "visitor-9")
	if err != nil {
		t.Fatalf("EnsureSession again: %v", err)
	}
	if second.WebsiteID != "shop" {
		t.Errorf("WebsiteID = %q, want first writer's shop", second.WebsiteID)
	}
	if !second.StartedAt.Equal(first.StartedAt) {
		t.Errorf("StartedAt changed: %v -> %v", first.StartedAt, second.StartedAt)
	}

	got, _ := s.Session(ctx, "sess-1")
	if got.VisitorID != "visitor-9" {
		t.Errorf("VisitorID = %q, want backfilled visitor-9", got.VisitorID)
	}
}

func TestEnsureSession_RequiresWebsite(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.EnsureSession(context.Background(), "sess-1", "", ""); err == nil {
		t.Fatal("expected error without website")
	}
}

func TestAppendMessage_VisitorMarksUnread(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg, err := s.AppendMessage(ctx, MessageInput{
		SessionID: "sess-1",
		WebsiteID: "shop",
		Role:      models.RoleVisitor,
		Source:    models.SourceVisitor,
		Content:   "hello",
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg.ID == 0 {
		t.Fatal("expected message ID")
	}

	sess, err := s.Session(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if !sess.Unread {
		t.Error("visitor message should mark session unread")
	}
}

func TestAppendMessage_OperatorClearsUnreadAndSupport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, _, err := s.RecordSupportRequest(ctx, SupportRecord{
		SessionID:  "sess-1",
		WebsiteID:  "shop",
		Reason:     "billing",
		SystemText: "Support requested: billing",
	}); err != nil {
		t.Fatalf("RecordSupportRequest: %v", err)
	}

	if _, err := s.AppendMessage(ctx, MessageInput{
		SessionID: "sess-1",
		Role:      models.RoleAssistant,
		Source:    models.SourceOperator,
		Content:   "Hi, I can help.",
	}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	sess, _ := s.Session(ctx, "sess-1")
	if sess.Unread {
		t.Error("operator message should clear unread")
	}
	if sess.NeedsHumanSupport {
		t.Error("operator message should clear the pending support flag")
	}
	if sess.SupportReason != "billing" {
		t.Errorf("SupportReason = %q, want history kept", sess.SupportReason)
	}
}

func TestAppendMessage_UnknownSessionWithoutWebsite(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AppendMessage(context.Background(), MessageInput{
		SessionID: "ghost",
		Role:      models.RoleVisitor,
		Source:    models.SourceVisitor,
		Content:   "hi",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendMessage_EmptyContent(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AppendMessage(context.Background(), MessageInput{SessionID: "sess-1", WebsiteID: "shop"})
	if err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestAppendMessage_BumpsLastActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return base }

	if _, err := s.EnsureSession(ctx, "sess-1", "shop", ""); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base.Add(time.Minute) }
	if _, err := s.AppendMessage(ctx, MessageInput{SessionID: "sess-1", Role: models.RoleVisitor, Source: models.SourceVisitor, Content: "x"}); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.Session(ctx, "sess-1")
	if !sess.LastActiveAt.Equal(base.Add(time.Minute)) {
		t.Errorf("LastActiveAt = %v, want %v", sess.LastActiveAt, base.Add(time.Minute))
	}
	if !sess.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", sess.StartedAt, base)
	}
}

func TestRecordSupportRequest_StampsSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, msgs, err := s.RecordSupportRequest(ctx, SupportRecord{
		SessionID:   "sess-1",
		WebsiteID:   "shop",
		VisitorID:   "v-1",
		Reason:      "billing",
		PageURL:     "https://shop.example.com/cart",
		UserAgent:   "Mozilla/5.0",
		SystemText:  "Support requested: billing",
		VisitorText: "my invoice is wrong",
	})
	if err != nil {
		t.Fatalf("RecordSupportRequest: %v", err)
	}
	if !sess.NeedsHumanSupport || !sess.Unread {
		t.Errorf("session = %+v, want support flag and unread", sess)
	}
	if sess.SupportRequestedAt == nil {
		t.Error("SupportRequestedAt not stamped")
	}
	if sess.LastPageURL != "https://shop.example.com/cart" || sess.LastUserAgent != "Mozilla/5.0" {
		t.Errorf("page/agent = %q/%q", sess.LastPageURL, sess.LastUserAgent)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem || msgs[1].Role != models.RoleVisitor {
		t.Errorf("roles = %s,%s, want system,visitor", msgs[0].Role, msgs[1].Role)
	}
}

func TestRecordSupportRequest_NoVisitorText(t *testing.T) {
	s := openTestStore(t)
	_, msgs, err := s.RecordSupportRequest(context.Background(), SupportRecord{
		SessionID:  "sess-1",
		WebsiteID:  "shop",
		SystemText: "Support requested",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("len(msgs) = %d, want only the system message", len(msgs))
	}
}

func TestRecordSupportRequest_ConcurrentConvergesToOneSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	wg.Add(callers)
	for range callers {
		go func() {
			defer wg.Done()
			_, _, err := s.RecordSupportRequest(ctx, SupportRecord{
				SessionID:  "race",
				WebsiteID:  "shop",
				Reason:     "billing",
				SystemText: "Support requested: billing",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("RecordSupportRequest: %v", err)
		}
	}

	var n int64
	s.db.Model(&models.Session{}).Where("id = ?", "race").Count(&n)
	if n != 1 {
		t.Errorf("session rows = %d, want exactly 1", n)
	}
}

func TestHistory_OrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	for _, c := range []string{"one", "two", "three"} {
		if _, err := s.AppendMessage(ctx, MessageInput{SessionID: "sess-1", WebsiteID: "shop", Role: models.RoleVisitor, Source: models.SourceVisitor, Content: c}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.History(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 3 || all[0].Content != "one" || all[2].Content != "three" {
		t.Errorf("history = %+v, want insertion order on equal timestamps", all)
	}

	last, err := s.History(ctx, "sess-1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 2 || last[0].Content != "two" || last[1].Content != "three" {
		t.Errorf("limited history = %+v, want [two three]", last)
	}
}

func TestStaleSupportRequests_AndMarkReminded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return old }

	if _, _, err := s.RecordSupportRequest(ctx, SupportRecord{SessionID: "stale", WebsiteID: "shop", SystemText: "x"}); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return old.Add(30 * time.Minute) }
	if _, _, err := s.RecordSupportRequest(ctx, SupportRecord{SessionID: "fresh", WebsiteID: "shop", SystemText: "x"}); err != nil {
		t.Fatal(err)
	}

	cutoff := old.Add(10 * time.Minute)
	got, err := s.StaleSupportRequests(ctx, cutoff)
	if err != nil {
		t.Fatalf("StaleSupportRequests: %v", err)
	}
	if len(got) != 1 || got[0].ID != "stale" {
		t.Fatalf("stale = %+v, want [stale]", got)
	}

	if err := s.MarkReminded(ctx, "stale", old.Add(15*time.Minute)); err != nil {
		t.Fatalf("MarkReminded: %v", err)
	}
	got, _ = s.StaleSupportRequests(ctx, cutoff)
	if len(got) != 0 {
		t.Errorf("stale after reminder = %d, want 0", len(got))
	}
}

func TestMarkReminded_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.MarkReminded(context.Background(), "ghost", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

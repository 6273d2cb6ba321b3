package discord

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/concierge/internal/notify"
)

type mockSession struct {
	mu       sync.Mutex
	sent     []sentMessage
	sendErr  error
	failures int
	calls    int
}

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: 429}}
	}
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, data: data})
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func newTestNotifier(t *testing.T, sess *mockSession) *Notifier {
	t.Helper()
	n, err := New(Opts{ChannelID: "123", Session: sess})
	if err != nil {
		t.Fatal(err)
	}
	n.baseBackoff = time.Millisecond
	n.maxBackoff = 5 * time.Millisecond
	return n
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(Opts{ChannelID: "123"}); err == nil {
		t.Fatal("expected error without bot token")
	}
}

func TestNew_RequiresChannel(t *testing.T) {
	if _, err := New(Opts{Session: &mockSession{}}); err == nil {
		t.Fatal("expected error without channel")
	}
}

func TestNotify_SendsEmbed(t *testing.T) {
	sess := &mockSession{}
	n := newTestNotifier(t, sess)

	err := n.Notify(context.Background(), notify.Notice{SessionID: "sess-1", WebsiteID: "shop", Reason: "billing"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sess.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sess.sent))
	}
	msg := sess.sent[0]
	if msg.channelID != "123" {
		t.Errorf("channel = %q", msg.channelID)
	}
	if len(msg.data.Embeds) != 1 {
		t.Fatalf("embeds = %d", len(msg.data.Embeds))
	}
	embed := msg.data.Embeds[0]
	if embed.Description != "billing" {
		t.Errorf("Description = %q", embed.Description)
	}
	if embed.Color != 0xff9800 {
		t.Errorf("Color = %#x", embed.Color)
	}
	if embed.Fields[0].Value != "sess-1" {
		t.Errorf("first field = %+v", embed.Fields[0])
	}
}

func TestNotify_RetriesRateLimit(t *testing.T) {
	sess := &mockSession{failures: 2}
	n := newTestNotifier(t, sess)
	if err := n.Notify(context.Background(), notify.Notice{SessionID: "s"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if sess.calls != 3 {
		t.Errorf("calls = %d, want 3", sess.calls)
	}
}

func TestNotify_ExhaustsRetries(t *testing.T) {
	sess := &mockSession{failures: maxRetries + 1}
	n := newTestNotifier(t, sess)
	if err := n.Notify(context.Background(), notify.Notice{SessionID: "s"}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestNotify_OtherError(t *testing.T) {
	sess := &mockSession{sendErr: errors.New("missing access")}
	n := newTestNotifier(t, sess)
	if err := n.Notify(context.Background(), notify.Notice{SessionID: "s"}); err == nil {
		t.Fatal("expected error")
	}
	if sess.calls != 1 {
		t.Errorf("calls = %d, want 1", sess.calls)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"#36a64f", 0x36a64f},
		{"FF9800", 0xff9800},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseHexColor(tt.in); got != tt.want {
			t.Errorf("parseHexColor(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/concierge/internal/notify"
)

// Inbound event names.
const (
	EventJoinAdminChannel = "join_admin_channel"
	EventJoin             = "join"
	EventLeave            = "leave"
	EventChatMessage      = "chat_message"
	EventTyping           = "typing"
	EventSupportRequest   = "customer_service_request"
)

// Outbound event names. chat_message and typing are shared with inbound.
const (
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventError             = "error"
	EventAnswerChunk       = "answer_chunk"
	EventSupportRequested  = "customer_service_requested"
	EventNewSupportRequest = "new_customer_service_request"
	EventSupportReminder   = "support_request_reminder"
)

// Connection roles.
const (
	RoleVisitor  = "visitor"
	RoleOperator = "operator"
)

var (
	// ErrUnknownEvent is returned for an event name the hub does not handle.
	ErrUnknownEvent = errors.New("hub: unknown event")
	// ErrInvalidEvent is returned for a known event with a bad payload.
	ErrInvalidEvent = errors.New("hub: invalid event")
)

// envelope is the wire frame in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is one decoded client event: JoinAdmin, Join, Leave,
// ChatMessage, Typing or SupportRequest.
type Inbound interface {
	eventName() string
}

// JoinAdmin subscribes an operator connection to the broadcast room.
type JoinAdmin struct{}

// Join adds the connection to a session room.
type Join struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
	WebsiteID string `json:"websiteId,omitempty"`
	VisitorID string `json:"visitorId,omitempty"`
}

// Leave removes the connection from its rooms.
type Leave struct{}

// ChatMessage is a chat line sent into a session room.
type ChatMessage struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Role      string `json:"role"`
	WebsiteID string `json:"websiteId,omitempty"`
	VisitorID string `json:"visitorId,omitempty"`
}

// Typing is a transient typing indicator.
type Typing struct {
	SessionID string `json:"sessionId"`
	IsTyping  bool   `json:"isTyping"`
	Role      string `json:"role"`
}

// SupportRequest asks for a human operator.
type SupportRequest struct {
	SessionID string `json:"sessionId"`
	WebsiteID string `json:"websiteId"`
	VisitorID string `json:"visitorId,omitempty"`
	Reason    string `json:"reason"`
	Message   string `json:"message,omitempty"`
	PageURL   string `json:"pageUrl,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

func (JoinAdmin) eventName() string      { return EventJoinAdminChannel }
func (Join) eventName() string           { return EventJoin }
func (Leave) eventName() string          { return EventLeave }
func (ChatMessage) eventName() string    { return EventChatMessage }
func (Typing) eventName() string         { return EventTyping }
func (SupportRequest) eventName() string { return EventSupportRequest }

// Decode parses and validates one inbound frame.
func Decode(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	switch env.Event {
	case EventJoinAdminChannel:
		return JoinAdmin{}, nil
	case EventLeave:
		return Leave{}, nil
	case EventJoin:
		var e Join
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		if e.SessionID == "" {
			return nil, fmt.Errorf("%w: join: sessionId is required", ErrInvalidEvent)
		}
		e.Role = normalizeRole(e.Role)
		return e, nil
	case EventChatMessage:
		var e ChatMessage
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		if e.SessionID == "" {
			return nil, fmt.Errorf("%w: chat_message: sessionId is required", ErrInvalidEvent)
		}
		if strings.TrimSpace(e.Content) == "" {
			return nil, fmt.Errorf("%w: chat_message: content is required", ErrInvalidEvent)
		}
		e.Role = normalizeRole(e.Role)
		return e, nil
	case EventTyping:
		var e Typing
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		if e.SessionID == "" {
			return nil, fmt.Errorf("%w: typing: sessionId is required", ErrInvalidEvent)
		}
		e.Role = normalizeRole(e.Role)
		return e, nil
	case EventSupportRequest:
		var e SupportRequest
		if err := decodeData(env, &e); err != nil {
			return nil, err
		}
		if e.SessionID == "" {
			return nil, fmt.Errorf("%w: customer_service_request: sessionId is required", ErrInvalidEvent)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodeData(env envelope, dst any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s: data is required", ErrInvalidEvent, env.Event)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, env.Event, err)
	}
	return nil
}

// normalizeRole maps anything but operator to visitor.
func normalizeRole(role string) string {
	if role == RoleOperator {
		return RoleOperator
	}
	return RoleVisitor
}

// Outbound payloads.

// UserJoinedPayload announces an operator joining a room.
type UserJoinedPayload struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// UserLeftPayload announces a member leaving a room.
type UserLeftPayload struct {
	Role string `json:"role"`
}

// ChatPayload is a persisted chat message as delivered to room members.
type ChatPayload struct {
	ID        uint      `json:"id"`
	SessionID string    `json:"sessionId"`
	Content   string    `json:"content"`
	Role      string    `json:"role"`
	Source    string    `json:"source"`
	ReplyTo   uint      `json:"replyTo,omitempty"` // visitor message an automatic answer replies to
	CreatedAt time.Time `json:"createdAt"`
}

// TypingPayload is a typing indicator as delivered.
type TypingPayload struct {
	SessionID string `json:"sessionId"`
	IsTyping  bool   `json:"isTyping"`
	Role      string `json:"role"`
}

// AnswerChunkPayload is one streamed piece of an automatic answer. ReplyTo
// is the id of the visitor message being answered; the final chat_message
// carries the same value.
type AnswerChunkPayload struct {
	SessionID string `json:"sessionId"`
	ReplyTo   uint   `json:"replyTo"`
	Content   string `json:"content"`
}

// ErrorPayload reports a failed client event to its sender.
type ErrorPayload struct {
	Message string `json:"message"`
}

// SupportAckPayload acknowledges a support request to its sender.
type SupportAckPayload struct {
	SessionID   string    `json:"sessionId"`
	RequestedAt time.Time `json:"requestedAt"`
}

// SupportNoticePayload is sent to the broadcast room.
type SupportNoticePayload struct {
	SessionID   string    `json:"sessionId"`
	WebsiteID   string    `json:"websiteId"`
	WebsiteName string    `json:"websiteName"`
	VisitorID   string    `json:"visitorId,omitempty"`
	Reason      string    `json:"reason"`
	PageURL     string    `json:"pageUrl,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

func noticePayload(n notify.Notice) SupportNoticePayload {
	return SupportNoticePayload{
		SessionID:   n.SessionID,
		WebsiteID:   n.WebsiteID,
		WebsiteName: n.WebsiteName,
		VisitorID:   n.VisitorID,
		Reason:      n.Reason,
		PageURL:     n.PageURL,
		RequestedAt: n.RequestedAt,
	}
}

// Encode builds an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("hub: encode %s: %w", event, err)
	}
	return json.Marshal(envelope{Event: event, Data: payload})
}

// Frame is a decoded outbound frame, for clients and tests.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseFrame decodes an outbound frame.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(raw, &f)
	return f, err
}

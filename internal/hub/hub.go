// Package hub is the realtime side of the chat: session rooms, the
// operator broadcast room and ordered fan-out of persisted messages.
package hub

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/zulandar/concierge/internal/answer"
	"github.com/zulandar/concierge/internal/escalation"
	"github.com/zulandar/concierge/internal/metrics"
	"github.com/zulandar/concierge/internal/models"
	"github.com/zulandar/concierge/internal/notify"
	"github.com/zulandar/concierge/internal/store"
)

// DefaultSendBuffer is the per-connection outbound queue length.
const DefaultSendBuffer = 256

// seqShards is the number of shards of the per-room sequencing lock table.
const seqShards = 64

// Resolver produces automatic answers.
type Resolver interface {
	Resolve(ctx context.Context, req answer.Request) answer.Answer
}

// Options tunes the hub.
type Options struct {
	SendBuffer   int
	HistoryLimit int // prior messages handed to the resolver
}

// Conn is one realtime connection. Its membership fields are owned by the
// hub and guarded by Hub.mu.
type Conn struct {
	ID   string
	send chan []byte

	room      string
	role      string
	websiteID string
	visitorID string
	admin     bool
	closed    bool
}

// Send returns the connection's outbound queue. It is closed when the
// hub drops the connection.
func (c *Conn) Send() <-chan []byte { return c.send }

// Hub owns the room registry. Registry operations never wait on I/O;
// publishes to one room are serialized by a sequencing lock so every member
// sees them in the same order.
type Hub struct {
	mu     sync.RWMutex
	conns  map[*Conn]struct{}
	rooms  map[string]map[*Conn]struct{}
	admins map[*Conn]struct{}

	seq [seqShards]seqShard

	store    *store.Store
	tracker  *escalation.Tracker
	resolver Resolver
	opts     Options

	// Automatic answers run one at a time per session, in message order.
	answerMu  sync.Mutex
	pending   map[string][]*models.Message
	closing   bool
	answerCtx context.Context
	cancel    context.CancelFunc
	answers   sync.WaitGroup
}

// roomSeq orders the frames of one room. refs counts holders and waiters.
type roomSeq struct {
	mu   sync.Mutex
	refs int
}

type seqShard struct {
	mu    sync.Mutex
	rooms map[string]*roomSeq
}

// New creates a Hub. resolver may be nil to disable automatic answers.
func New(st *store.Store, tracker *escalation.Tracker, resolver Resolver, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = answer.DefaultHistoryLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		conns:     make(map[*Conn]struct{}),
		rooms:     make(map[string]map[*Conn]struct{}),
		admins:    make(map[*Conn]struct{}),
		pending:   make(map[string][]*models.Message),
		store:     st,
		tracker:   tracker,
		resolver:  resolver,
		opts:      opts,
		answerCtx: ctx,
		cancel:    cancel,
	}
}

// Close stops in-flight answers and drops every connection.
func (h *Hub) Close() {
	h.answerMu.Lock()
	h.closing = true
	h.answerMu.Unlock()
	h.cancel()
	h.answers.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		h.removeLocked(c)
		h.closeLocked(c)
	}
}

// Connect registers a new connection.
func (h *Hub) Connect() *Conn {
	c := &Conn{ID: uuid.NewString(), send: make(chan []byte, h.opts.SendBuffer)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	metrics.LiveConnections.Inc()
	return c
}

// Disconnect leaves every room and closes the connection's queue.
func (h *Hub) Disconnect(c *Conn) {
	h.Leave(c)
	h.mu.Lock()
	h.closeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) closeLocked(c *Conn) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	delete(h.conns, c)
	metrics.LiveConnections.Dec()
}

// Join puts c in the room for sessionID, leaving any previous session
// room. An operator joining announces itself to the members already there.
// Joining the same room again changes nothing.
func (h *Hub) Join(c *Conn, sessionID, role string) {
	role = normalizeRole(role)

	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	if c.room == sessionID {
		c.role = role
		h.mu.Unlock()
		return
	}
	prev, prevRole := c.room, c.role
	h.leaveRoomLocked(c)

	members, ok := h.rooms[sessionID]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[sessionID] = members
		metrics.LiveRooms.Inc()
	}
	members[c] = struct{}{}
	c.room, c.role = sessionID, role
	h.mu.Unlock()

	if prev != "" {
		h.sendRoom(prev, EventUserLeft, UserLeftPayload{Role: prevRole}, nil)
	}
	if role == RoleOperator {
		h.sendRoom(sessionID, EventUserJoined, UserJoinedPayload{
			Role:    RoleOperator,
			Message: "A support agent has joined the conversation.",
		}, c)
	}
}

// JoinBroadcast subscribes c to escalation notices.
func (h *Hub) JoinBroadcast(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	c.admin = true
	h.admins[c] = struct{}{}
}

// Leave removes c from its session room and the broadcast room. The
// remaining room members get a best-effort user_left notice.
func (h *Hub) Leave(c *Conn) {
	h.mu.Lock()
	room, role := c.room, c.role
	h.removeLocked(c)
	h.mu.Unlock()

	if room != "" {
		h.sendRoom(room, EventUserLeft, UserLeftPayload{Role: role}, nil)
	}
}

func (h *Hub) removeLocked(c *Conn) {
	h.leaveRoomLocked(c)
	if c.admin {
		delete(h.admins, c)
		c.admin = false
	}
}

func (h *Hub) leaveRoomLocked(c *Conn) {
	if c.room == "" {
		return
	}
	if members, ok := h.rooms[c.room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, c.room)
			metrics.LiveRooms.Dec()
		}
	}
	c.room, c.role = "", ""
}

// Members returns the number of connections in a session room.
func (h *Hub) Members(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// HasOperator reports whether an operator is connected to a session room.
func (h *Hub) HasOperator(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[sessionID] {
		if c.role == RoleOperator {
			return true
		}
	}
	return false
}

// lockRoom takes the sequencing lock of one room. Rooms never wait on each
// other; the shard lock only guards the table lookup.
func (h *Hub) lockRoom(sessionID string) func() {
	sh := &h.seq[xxhash.Sum64String(sessionID)%seqShards]
	sh.mu.Lock()
	if sh.rooms == nil {
		sh.rooms = make(map[string]*roomSeq)
	}
	rs, ok := sh.rooms[sessionID]
	if !ok {
		rs = &roomSeq{}
		sh.rooms[sessionID] = rs
	}
	rs.refs++
	sh.mu.Unlock()

	rs.mu.Lock()
	return func() {
		rs.mu.Unlock()
		sh.mu.Lock()
		rs.refs--
		if rs.refs == 0 {
			delete(sh.rooms, sessionID)
		}
		sh.mu.Unlock()
	}
}

// Publish persists a chat message and then delivers it to every member of
// the session room, the sender included.
func (h *Hub) Publish(ctx context.Context, in store.MessageInput) (*models.Message, error) {
	return h.publish(ctx, in, 0)
}

// publish is Publish with the id of the message being answered, if any.
func (h *Hub) publish(ctx context.Context, in store.MessageInput, replyTo uint) (*models.Message, error) {
	unlock := h.lockRoom(in.SessionID)
	defer unlock()

	msg, err := h.store.AppendMessage(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("hub: publish: %w", err)
	}
	metrics.MessagesPublished.WithLabelValues(msg.Source).Inc()

	h.deliverRoom(msg.SessionID, EventChatMessage, ChatPayload{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Content:   msg.Content,
		Role:      msg.Role,
		Source:    msg.Source,
		ReplyTo:   replyTo,
		CreatedAt: msg.CreatedAt,
	}, nil)
	return msg, nil
}

// PublishBroadcast delivers a frame to the broadcast room only.
func (h *Hub) PublishBroadcast(event string, data any) error {
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}
	h.mu.RLock()
	var slow []*Conn
	for c := range h.admins {
		if !enqueue(c, frame) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.dropSlow(slow)
	return nil
}

// Typing relays an indicator to the other members of the room.
func (h *Hub) Typing(c *Conn, t Typing) {
	h.sendRoom(t.SessionID, EventTyping, TypingPayload{
		SessionID: t.SessionID,
		IsTyping:  t.IsTyping,
		Role:      normalizeRole(t.Role),
	}, c)
}

// RequestSupport runs the escalation and, once it is durable, tells the
// broadcast room.
func (h *Hub) RequestSupport(ctx context.Context, req escalation.Request) (notify.Notice, error) {
	n, err := h.tracker.RequestSupport(ctx, req)
	if err != nil {
		return notify.Notice{}, err
	}
	if err := h.PublishBroadcast(EventNewSupportRequest, noticePayload(n)); err != nil {
		metrics.NotifyFailures.WithLabelValues("broadcast").Inc()
		log.Printf("hub: broadcast support request %s: %v", n.SessionID, err)
	}
	return n, nil
}

// Remind re-broadcasts a support request that is still waiting.
func (h *Hub) Remind(n notify.Notice) {
	if err := h.PublishBroadcast(EventSupportReminder, noticePayload(n)); err != nil {
		metrics.NotifyFailures.WithLabelValues("broadcast").Inc()
		log.Printf("hub: broadcast reminder %s: %v", n.SessionID, err)
	}
}

// sendRoom delivers a transient frame in room order.
func (h *Hub) sendRoom(sessionID, event string, data any, except *Conn) {
	unlock := h.lockRoom(sessionID)
	defer unlock()
	h.deliverRoom(sessionID, event, data, except)
}

// deliverRoom enqueues to current members; the caller holds the room's
// sequencing lock.
func (h *Hub) deliverRoom(sessionID, event string, data any, except *Conn) {
	frame, err := Encode(event, data)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	h.mu.RLock()
	var slow []*Conn
	for c := range h.rooms[sessionID] {
		if c == except {
			continue
		}
		if !enqueue(c, frame) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.dropSlow(slow)
}

// sendTo delivers a frame to one connection.
func (h *Hub) sendTo(c *Conn, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	h.mu.RLock()
	ok := enqueue(c, frame)
	h.mu.RUnlock()
	if !ok {
		h.dropSlow([]*Conn{c})
	}
}

func (h *Hub) sendError(c *Conn, msg string) {
	h.sendTo(c, EventError, ErrorPayload{Message: msg})
}

// enqueue is non-blocking; false means the queue is full. Callers hold at
// least the read lock so the queue cannot be closed underneath them.
func enqueue(c *Conn, frame []byte) bool {
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// dropSlow disconnects connections whose queue overflowed.
func (h *Hub) dropSlow(conns []*Conn) {
	for _, c := range conns {
		log.Printf("hub: connection %s send buffer full, disconnecting", c.ID)
		h.mu.Lock()
		h.removeLocked(c)
		h.closeLocked(c)
		h.mu.Unlock()
	}
}

package hub

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/zulandar/concierge/internal/answer"
	"github.com/zulandar/concierge/internal/escalation"
	"github.com/zulandar/concierge/internal/models"
	"github.com/zulandar/concierge/internal/store"
)

// Handle decodes one inbound frame from c and acts on it. Failures are
// reported to c alone as error events.
func (h *Hub) Handle(ctx context.Context, c *Conn, raw []byte) {
	evt, err := Decode(raw)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	switch e := evt.(type) {
	case JoinAdmin:
		h.JoinBroadcast(c)
	case Join:
		h.rememberVisitor(c, e.WebsiteID, e.VisitorID)
		h.Join(c, e.SessionID, e.Role)
	case Leave:
		h.Leave(c)
	case ChatMessage:
		h.rememberVisitor(c, e.WebsiteID, e.VisitorID)
		h.handleChat(ctx, c, e)
	case Typing:
		h.Typing(c, e)
	case SupportRequest:
		h.rememberVisitor(c, e.WebsiteID, e.VisitorID)
		h.handleSupportRequest(ctx, c, e)
	}
}

func (h *Hub) rememberVisitor(c *Conn, websiteID, visitorID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if websiteID != "" {
		c.websiteID = websiteID
	}
	if visitorID != "" {
		c.visitorID = visitorID
	}
}

func (h *Hub) connVisitor(c *Conn) (websiteID, visitorID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.websiteID, c.visitorID
}

func (h *Hub) handleChat(ctx context.Context, c *Conn, e ChatMessage) {
	in := store.MessageInput{
		SessionID: e.SessionID,
		Content:   strings.TrimSpace(e.Content),
		Role:      models.RoleVisitor,
		Source:    models.SourceVisitor,
	}
	if e.Role == RoleOperator {
		in.Role = models.RoleAssistant
		in.Source = models.SourceOperator
	} else {
		in.WebsiteID, in.VisitorID = h.connVisitor(c)
	}

	msg, err := h.Publish(ctx, in)
	if err != nil {
		log.Printf("hub: chat message for %s: %v", e.SessionID, err)
		if errors.Is(err, store.ErrNotFound) {
			h.sendError(c, "session not found")
		} else {
			h.sendError(c, "message could not be saved")
		}
		return
	}

	if in.Source == models.SourceVisitor {
		h.maybeAnswer(msg)
	}
}

func (h *Hub) handleSupportRequest(ctx context.Context, c *Conn, e SupportRequest) {
	websiteID, visitorID := h.connVisitor(c)
	if e.WebsiteID != "" {
		websiteID = e.WebsiteID
	}
	if e.VisitorID != "" {
		visitorID = e.VisitorID
	}

	n, err := h.RequestSupport(ctx, escalation.Request{
		SessionID: e.SessionID,
		WebsiteID: websiteID,
		VisitorID: visitorID,
		Reason:    e.Reason,
		Message:   e.Message,
		PageURL:   e.PageURL,
		UserAgent: e.UserAgent,
	})
	if err != nil {
		log.Printf("hub: support request for %s: %v", e.SessionID, err)
		if escalation.IsNotFound(err) {
			h.sendError(c, "session or website not found")
		} else {
			h.sendError(c, "support request failed")
		}
		return
	}
	h.sendTo(c, EventSupportRequested, SupportAckPayload{SessionID: n.SessionID, RequestedAt: n.RequestedAt})
}

// maybeAnswer queues an automatic answer for a visitor message. Answers for
// one session run in message order, never two at once.
func (h *Hub) maybeAnswer(msg *models.Message) {
	if h.resolver == nil {
		return
	}
	h.answerMu.Lock()
	defer h.answerMu.Unlock()
	if h.closing {
		return
	}
	queue, running := h.pending[msg.SessionID]
	h.pending[msg.SessionID] = append(queue, msg)
	if running {
		return
	}
	h.answers.Add(1)
	go h.runAnswers(msg.SessionID)
}

func (h *Hub) runAnswers(sessionID string) {
	defer h.answers.Done()
	for {
		h.answerMu.Lock()
		queue := h.pending[sessionID]
		if len(queue) == 0 || h.answerCtx.Err() != nil {
			delete(h.pending, sessionID)
			h.answerMu.Unlock()
			return
		}
		msg := queue[0]
		h.pending[sessionID] = queue[1:]
		h.answerMu.Unlock()

		if site, ok := h.answerOwed(msg); ok {
			h.streamAnswer(site, msg)
		}
	}
}

// answerOwed reports whether msg still gets an automatic answer: the tenant
// auto-replies, nobody has asked for a human, and no operator is in the
// room.
func (h *Hub) answerOwed(msg *models.Message) (*models.Website, bool) {
	ctx := h.answerCtx
	if h.HasOperator(msg.SessionID) {
		return nil, false
	}
	sess, err := h.store.Session(ctx, msg.SessionID)
	if err != nil {
		log.Printf("hub: load session %s: %v", msg.SessionID, err)
		return nil, false
	}
	if escalation.StateOf(sess) == escalation.StateSupportRequested {
		return nil, false
	}
	site, err := h.store.Website(ctx, sess.WebsiteID)
	if err != nil {
		log.Printf("hub: load website %s: %v", sess.WebsiteID, err)
		return nil, false
	}
	return site, site.AutoReply
}

// streamAnswer relays answer chunks to the room as they arrive and then
// persists the whole answer. Chunks go to whoever is in the room at the
// time; nobody being there does not stop the answer.
func (h *Hub) streamAnswer(site *models.Website, msg *models.Message) {
	ctx := h.answerCtx

	history, err := h.store.History(ctx, msg.SessionID, h.opts.HistoryLimit+1)
	if err != nil {
		log.Printf("hub: history for %s: %v", msg.SessionID, err)
	}
	prior := history[:0]
	for _, m := range history {
		if m.ID < msg.ID {
			prior = append(prior, m)
		}
	}

	ans := h.resolver.Resolve(ctx, answer.Request{
		WebsiteID:    site.ID,
		SystemPrompt: site.SystemPrompt,
		Message:      msg.Content,
		History:      answer.HistoryFromMessages(prior),
	})

	var text strings.Builder
	for chunk := range ans.Stream {
		text.WriteString(chunk.Content)
		h.sendRoom(msg.SessionID, EventAnswerChunk, AnswerChunkPayload{
			SessionID: msg.SessionID,
			ReplyTo:   msg.ID,
			Content:   chunk.Content,
		}, nil)
	}
	if strings.TrimSpace(text.String()) == "" || ctx.Err() != nil {
		return
	}

	source := ans.Source
	if source == answer.SourceFallback {
		source = models.SourceSystem
	}
	if _, err := h.publish(ctx, store.MessageInput{
		SessionID: msg.SessionID,
		Role:      models.RoleAssistant,
		Source:    source,
		Content:   text.String(),
	}, msg.ID); err != nil {
		log.Printf("hub: persist answer for %s: %v", msg.SessionID, err)
	}
}

package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/concierge/internal/answer"
	"github.com/zulandar/concierge/internal/escalation"
	"github.com/zulandar/concierge/internal/metrics"
	"github.com/zulandar/concierge/internal/models"
	"github.com/zulandar/concierge/internal/relay"
	"github.com/zulandar/concierge/internal/store"
)

// Tenant credential headers for the history endpoint.
const (
	websiteIDHeader      = "X-Website-ID"
	apiKeyHeader         = "X-API-Key"
	internalSecretHeader = "X-Internal-Secret"
)

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", s.handleWebsocket)

	api := r.Group("/api")
	api.POST("/chat", s.handleChat)
	api.POST("/widget/chat", s.handleWidgetChat)
	api.GET("/sessions/:id/messages", s.handleHistory)
	api.POST("/internal/support-requests", s.handleSupportRequest)
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleWebsocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the error response.
		log.Printf("server: websocket upgrade: %v", err)
		return
	}
	s.opts.Hub.Serve(c.Request.Context(), ws)
}

// chatRequest is the body of both answer endpoints.
type chatRequest struct {
	Message   string        `json:"message"`
	History   []answer.Turn `json:"history"`
	WebsiteID string        `json:"websiteId"`
	APIKey    string        `json:"apiKey"`
	Stream    bool          `json:"stream"`
}

func bindChat(c *gin.Context) (chatRequest, bool) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return req, false
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return req, false
	}
	return req, true
}

// handleChat answers without a tenant credential. Knowledge comes from the
// configured default website, if any.
func (s *Server) handleChat(c *gin.Context) {
	req, ok := bindChat(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	ar := answer.Request{Message: req.Message, History: req.History}
	if id := s.opts.DefaultWebsite; id != "" {
		ar.WebsiteID = id
		if site, err := s.opts.Store.Website(ctx, id); err == nil {
			ar.SystemPrompt = site.SystemPrompt
		}
	}
	s.respond(c, s.opts.Resolver.Resolve(ctx, ar), req.Stream)
}

// handleWidgetChat answers for one tenant after checking its api key.
func (s *Server) handleWidgetChat(c *gin.Context) {
	req, ok := bindChat(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	site, err := s.authenticate(ctx, req.WebsiteID, req.APIKey)
	if err != nil {
		s.abortAuth(c, err)
		return
	}
	ans := s.opts.Resolver.Resolve(ctx, answer.Request{
		WebsiteID:    site.ID,
		SystemPrompt: site.SystemPrompt,
		Message:      req.Message,
		History:      req.History,
	})
	s.respond(c, ans, req.Stream)
}

// respond writes ans as an event stream or as one JSON body.
func (s *Server) respond(c *gin.Context, ans answer.Answer, stream bool) {
	if !stream {
		c.JSON(http.StatusOK, gin.H{"message": relay.Collect(ans.Stream)})
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	if err := relay.WriteTo(c.Writer, ans.Stream, c.Writer.Flush); err != nil {
		log.Printf("server: stream answer: %v", err)
	}
}

func (s *Server) handleHistory(c *gin.Context) {
	ctx := c.Request.Context()
	site, err := s.authenticate(ctx, c.GetHeader(websiteIDHeader), c.GetHeader(apiKeyHeader))
	if err != nil {
		s.abortAuth(c, err)
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	sessionID := c.Param("id")
	sess, err := s.opts.Store.Session(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sess.WebsiteID != site.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		log.Printf("server: load session %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	msgs, err := s.opts.Store.History(ctx, sessionID, limit)
	if err != nil {
		log.Printf("server: history %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "messages": msgs})
}

// supportRequestBody is the out-of-band escalation payload.
type supportRequestBody struct {
	SessionID string `json:"sessionId"`
	WebsiteID string `json:"websiteId"`
	VisitorID string `json:"visitorId"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	PageURL   string `json:"pageUrl"`
	UserAgent string `json:"userAgent"`
}

func (s *Server) handleSupportRequest(c *gin.Context) {
	if s.opts.InternalSecret == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if !secretEqual(c.GetHeader(internalSecretHeader), s.opts.InternalSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body supportRequestBody
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.SessionID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	n, err := s.opts.Hub.RequestSupport(c.Request.Context(), escalation.Request{
		SessionID: body.SessionID,
		WebsiteID: body.WebsiteID,
		VisitorID: body.VisitorID,
		Reason:    body.Reason,
		Message:   body.Message,
		PageURL:   body.PageURL,
		UserAgent: body.UserAgent,
	})
	if err != nil {
		if escalation.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session or website not found"})
			return
		}
		log.Printf("server: support request %s: %v", body.SessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "support request failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionId": n.SessionID, "requestedAt": n.RequestedAt})
}

// authenticate resolves the tenant for a website id and api key. Unknown
// tenants and wrong keys are indistinguishable to the caller.
func (s *Server) authenticate(ctx context.Context, websiteID, apiKey string) (*models.Website, error) {
	if websiteID == "" || apiKey == "" {
		return nil, ErrUnauthorized
	}
	site, err := s.opts.Store.Website(ctx, websiteID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !secretEqual(apiKey, site.APIKey) {
		return nil, ErrUnauthorized
	}
	return site, nil
}

func (s *Server) abortAuth(c *gin.Context, err error) {
	if errors.Is(err, ErrUnauthorized) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid website credentials"})
		return
	}
	log.Printf("server: authenticate: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

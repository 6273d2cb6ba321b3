// Package server is the HTTP surface of concierge: the answer endpoints,
// the realtime upgrade, out-of-band escalation and history replay.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/concierge/internal/answer"
	"github.com/zulandar/concierge/internal/hub"
	"github.com/zulandar/concierge/internal/store"
)

// ErrUnauthorized is returned when a website id and api key do not match.
var ErrUnauthorized = errors.New("server: invalid website credentials")

// Resolver produces answers for the HTTP endpoints.
type Resolver interface {
	Resolve(ctx context.Context, req answer.Request) answer.Answer
}

// Opts holds configuration for the HTTP server.
type Opts struct {
	Store    *store.Store
	Hub      *hub.Hub
	Resolver Resolver
	Port     int
	// AllowedOrigins restricts browser origins for the websocket upgrade
	// and CORS. Empty or "*" allows any origin.
	AllowedOrigins []string
	// InternalSecret guards the out-of-band escalation endpoint, which is
	// not routed at all when empty.
	InternalSecret string
	// DefaultWebsite is the tenant whose knowledge serves the generic
	// answer endpoint.
	DefaultWebsite string
	Out            io.Writer
}

// Server wraps the gin router.
type Server struct {
	opts     Opts
	router   *gin.Engine
	upgrader websocket.Upgrader
}

// New validates opts and builds the router.
func New(opts Opts) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("server: hub is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("server: resolver is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{opts: opts, router: gin.New()}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(opts.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	s.router.Use(gin.Recovery(), requestID(), observe(), cors(opts.AllowedOrigins))
	s.registerRoutes()
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if s.opts.Out != nil {
		fmt.Fprintf(s.opts.Out, "Concierge listening on http://localhost:%d\n", s.opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Package api serves the loopback bridge that hands deep links to a running
// agent when the operating system cannot deliver them itself.
package api

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/clipify/internal/config"
	"github.com/router-for-me/clipify/internal/deeplink"
	"github.com/router-for-me/clipify/internal/logging"
	"github.com/router-for-me/clipify/sdk/auth"
	log "github.com/sirupsen/logrus"
)

// Simulator injects deep links into the listener.
type Simulator interface {
	SimulateDeepLink(raw string) error
}

// StateSource reports the current session state.
type StateSource interface {
	State() auth.SessionState
}

// Server is the loopback bridge.
type Server struct {
	scheme    string
	addr      string
	simulator Simulator
	session   StateSource
	engine    *gin.Engine

	inboxDir string
	claim    deeplink.ClaimFunc

	mu     sync.Mutex
	server *http.Server
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithInboxHandoff queues links this process does not claim into the shared
// inbox at dir, so the clipify process that started the login receives them.
func WithInboxHandoff(dir string, claim deeplink.ClaimFunc) ServerOption {
	return func(s *Server) {
		s.inboxDir = dir
		s.claim = claim
	}
}

// NewServer builds the bridge for cfg. The server does not listen until Start.
func NewServer(cfg *config.Config, simulator Simulator, session StateSource, opts ...ServerOption) *Server {
	s := &Server{
		scheme:    cfg.DeepLink.Scheme,
		addr:      net.JoinHostPort(cfg.Bridge.Host, strconv.Itoa(cfg.Bridge.Port)),
		simulator: simulator,
		session:   session,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Addr is the listen address.
func (s *Server) Addr() string { return s.addr }

func (s *Server) setupRoutes() *gin.Engine {
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())

	engine.GET("/auth/callback", s.handleAuthCallback)
	engine.POST("/deeplink", s.handleDeepLink)
	engine.GET("/status", s.handleStatus)
	return engine
}

// Start listens in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("bridge: already running on %s", s.addr)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bridge: listen on %s: %w", s.addr, err)
	}
	server := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = server

	log.Infof("bridge: listening on http://%s", ln.Addr())
	go func() {
		if errServe := server.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("bridge: serve failed: %v", errServe)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bridge: shutdown: %w", err)
	}
	log.Debug("bridge: stopped")
	return nil
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop(context.Background())
}

// callbackURL rewrites an HTTP callback query into the deep link the
// backend would have redirected to.
func (s *Server) callbackURL(rawQuery string) string {
	link := s.scheme + "://auth/callback"
	if rawQuery != "" {
		link += "?" + rawQuery
	}
	return link
}

// handOff queues link in the inbox when it belongs to another process.
func (s *Server) handOff(link string) (bool, error) {
	if s.claim == nil || s.claim(link) {
		return false, nil
	}
	if _, err := deeplink.WriteInbox(s.inboxDir, link); err != nil {
		return true, err
	}
	log.Info("bridge: link belongs to another clipify process, queued in the inbox")
	return true, nil
}

func (s *Server) handleAuthCallback(c *gin.Context) {
	link := s.callbackURL(c.Request.URL.RawQuery)
	if queued, err := s.handOff(link); queued {
		if err != nil {
			log.Errorf("bridge: %v", err)
			renderResult(c, http.StatusInternalServerError, false,
				"Clipify could not pass the sign-in to the waiting login. Start the login again.")
			return
		}
		renderResult(c, http.StatusAccepted, true, "Clipify is finishing the sign-in. You can close this window.")
		return
	}
	if err := s.simulator.SimulateDeepLink(link); err != nil {
		log.Warnf("bridge: %v", err)
		renderResult(c, http.StatusServiceUnavailable, false,
			"Clipify is not waiting for a sign-in. Start the login from the app and try again.")
		return
	}

	state := s.session.State()
	if state.IsAuthenticated && state.Error == nil {
		renderResult(c, http.StatusOK, true, "You can close this window and return to Clipify.")
		return
	}
	message := "Sign-in failed. Return to Clipify and try again."
	if state.Error != nil && state.Error.Message != "" {
		message = state.Error.Message
	}
	renderResult(c, http.StatusBadRequest, false, message)
}

type deepLinkRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleDeepLink(c *gin.Context) {
	var req deepLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid body"})
		return
	}
	link := strings.TrimSpace(req.URL)
	if link == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "url is required"})
		return
	}
	if queued, err := s.handOff(link); queued {
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}
	if err := s.simulator.SimulateDeepLink(link); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, deeplink.ErrListenerInactive) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "session": s.session.State()})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.State())
}

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Clipify</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h1>{{if .Success}}Signed in{{else}}Sign-in incomplete{{end}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

func renderResult(c *gin.Context, status int, success bool, message string) {
	var b strings.Builder
	if err := resultPage.Execute(&b, struct {
		Success bool
		Message string
	}{success, message}); err != nil {
		c.String(http.StatusInternalServerError, "render failed")
		return
	}
	c.Data(status, "text/html; charset=utf-8", []byte(b.String()))
}

// Package websocket is the client-facing transport: it authenticates upgrade
// requests, owns one read and one write pump per socket and hands frames to
// the game service.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/matchhub/internal/config"
	"github.com/cory-johannsen/matchhub/internal/game/broadcast"
	"github.com/cory-johannsen/matchhub/internal/game/connection"
	"github.com/cory-johannsen/matchhub/internal/observability"
)

// Hub receives connection lifecycle notifications and inbound frames.
type Hub interface {
	OnConnect(ctx context.Context, userID int64, conn connection.Conn)
	OnDisconnect(ctx context.Context, userID int64, connID string)
	Dispatch(ctx context.Context, userID int64, frame []byte)
	Codec() broadcast.Codec
}

// Server accepts WebSocket clients on an HTTP listener and also serves the
// health and metrics endpoints.
type Server struct {
	cfg      config.WebSocketConfig
	hub      Hub
	auth     Authenticator
	logger   *zap.Logger
	upgrader websocket.Upgrader
	router   chi.Router

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	conns    map[string]*Conn
	listener net.Listener
	httpSrv  *http.Server
	running  bool
}

// NewServer creates a Server with the given configuration.
//
// Precondition: hub, auth and logger must be non-nil; metrics may be nil.
// Postcondition: Returns a Server ready to be started with ListenAndServe.
func NewServer(cfg config.WebSocketConfig, hub Hub, auth Authenticator, metrics *observability.Metrics, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		hub:    hub,
		auth:   auth,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced by the gateway in front of us.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*Conn),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.serveHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get(cfg.Path, s.serveWS)
	s.router = r
	return s
}

// Mount attaches h under pattern on the server's router.
//
// Precondition: must be called before ListenAndServe.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Mount(pattern, h)
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP listener and serves until Stop is called.
//
// Precondition: The server must not already be running.
// Postcondition: The listener is closed when this method returns.
func (s *Server) ListenAndServe() error {
	start := time.Now()
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.listener = listener
	s.httpSrv = srv
	s.running = true
	s.mu.Unlock()

	s.logger.Info("websocket server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", s.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket: %w", err)
	}
	return nil
}

// Stop stops accepting requests, closes every open socket and waits for
// their pumps to exit.
//
// Postcondition: All sockets are closed and their goroutines have exited.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.httpSrv
	wasRunning := s.running
	s.running = false
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if wasRunning && srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}

	s.cancel()
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
	s.logger.Info("websocket server stopped", zap.Int("closed_sockets", len(conns)))
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the server is currently accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Open returns the number of sockets currently being served.
func (s *Server) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Authenticate(r)
	if err != nil {
		s.logger.Debug("rejected websocket upgrade",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if s.ctx.Err() != nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(uuid.NewString(), userID, ws, s.hub.Codec().Binary(), s.cfg, s.logger)
	s.track(c)
	s.hub.OnConnect(s.ctx, userID, c)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		start := time.Now()
		c.readPump(s.ctx, s.hub.Dispatch)
		s.untrack(c)
		s.hub.OnDisconnect(context.Background(), userID, c.ID())
		c.logger.Info("websocket closed", zap.Duration("duration", time.Since(start)))
	}()
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ID()] = c
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.ID())
}

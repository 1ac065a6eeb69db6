package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/config"
)

// Server accepts WebSocket connections and owns every session for its
// lifetime. Membership and fan-out are delegated to the chat registry and
// broadcaster it creates.
type Server struct {
	cfg         *config.Config
	logger      *slog.Logger
	registry    *chat.Registry
	broadcaster *chat.Broadcaster
	origins     *originPolicy
	upgrader    websocket.Upgrader
	started     time.Time

	// sessions holds every live connection, including ones still joining.
	sessions cmap.ConcurrentMap[string, *chat.Session]

	mu           sync.Mutex
	shuttingDown bool
	wg           sync.WaitGroup
}

// New creates a Server from cfg. Extra broadcaster options (for example a
// fixed clock in tests) are applied after the logger.
func New(cfg *config.Config, logger *slog.Logger, opts ...chat.Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	registry := chat.NewRegistry()
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		broadcaster: chat.NewBroadcaster(registry, append([]chat.Option{chat.WithLogger(logger)}, opts...)...),
		origins:     newOriginPolicy(cfg.AllowedOrigins, logger),
		started:     time.Now(),
		sessions:    cmap.New[*chat.Session](),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Registry returns the membership table.
func (s *Server) Registry() *chat.Registry { return s.registry }

// Broadcaster returns the fan-out component.
func (s *Server) Broadcaster() *chat.Broadcaster { return s.broadcaster }

// ActiveCount returns the number of joined sessions.
func (s *Server) ActiveCount() int { return s.registry.Count() }

// SessionCount returns the number of live connections, joined or not.
func (s *Server) SessionCount() int { return s.sessions.Count() }

// ShuttingDown reports whether Shutdown has been called.
func (s *Server) ShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// serve starts the pumps for an upgraded connection. It refuses the
// connection once shutdown has begun.
func (s *Server) serve(conn *websocket.Conn, remote string) {
	session := chat.NewSession(remote, s.cfg.WebSocket.SendQueueSize)
	client := NewClient(conn, session, s.broadcaster, s.cfg, s.logger)

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, chat.ErrServerShutdown.Msg)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WebSocket.WriteWait))
		_ = conn.Close()
		return
	}
	s.sessions.Set(session.ID(), session)
	s.wg.Add(2)
	s.mu.Unlock()

	s.logger.Info("connection accepted",
		"session", session.ID(),
		"remote", remote,
		"sessions", s.sessions.Count(),
	)

	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
		s.sessions.Remove(session.ID())
	}()
}

// Shutdown stops accepting connections, closes every live session and waits
// for their goroutines until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	s.logger.Info("closing client connections", "sessions", s.sessions.Count())
	s.sessions.IterCb(func(_ string, session *chat.Session) {
		session.Close(chat.ErrServerShutdown)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("relay shutdown completed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("relay shutdown deadline reached, some connections may still be open",
			"sessions", s.sessions.Count(),
		)
		return ctx.Err()
	}
}

// CreateServer creates an HTTP server for handler using the configured
// listener timeouts.
func CreateServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
}

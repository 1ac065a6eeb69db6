package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// Client is one WebSocket connection bound to a chat session.
type Client struct {
	conn        *websocket.Conn
	session     *chat.Session
	broadcaster *chat.Broadcaster
	cfg         config.WebSocketConfig
	rateLimiter *rateLimiter
	rateLimit   config.RateLimitConfig
	logger      *slog.Logger

	idle       *time.Timer
	finishOnce sync.Once
	writerDone chan struct{}
}

// NewClient binds conn to session. The connection's read limit is set from
// cfg.WebSocket.MaxMessageSize.
func NewClient(conn *websocket.Conn, session *chat.Session, b *chat.Broadcaster, cfg *config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if conn != nil {
		conn.SetReadLimit(cfg.WebSocket.MaxMessageSize)
	}

	return &Client{
		conn:        conn,
		session:     session,
		broadcaster: b,
		cfg:         cfg.WebSocket,
		rateLimiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:   cfg.RateLimit,
		logger:      logger.With("session", session.ID(), "remote", session.Remote()),
		writerDone:  make(chan struct{}),
	}
}

// Session returns the chat session served by this client.
func (c *Client) Session() *chat.Session { return c.session }

// setupReadConnection configures read deadlines, the pong handler and the
// optional idle timer.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Warn("failed to set initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.Warn("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	if c.cfg.IdleTimeout > 0 {
		c.idle = time.AfterFunc(c.cfg.IdleTimeout, func() {
			c.logger.Info("closing idle connection", "idle_timeout", c.cfg.IdleTimeout)
			c.session.Close(chat.ErrIdleTimeout)
		})
	}
}

func (c *Client) touch() {
	if c.idle != nil {
		c.idle.Reset(c.cfg.IdleTimeout)
	}
}

// handleReadError logs why the read side stopped.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", "max_bytes", c.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Info("client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Warn("unexpected close", "error", err)
	default:
		c.logger.Info("read stopped", "reason", err)
	}
}

// checkRateLimit reports whether a chat message may be relayed now.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn("rate limit exceeded; discarding message",
			"burst", c.rateLimit.Burst,
			"refill_interval", c.rateLimit.RefillInterval,
		)
		return false
	}
	return true
}

// handleFrame runs one inbound frame through the state machine and reports
// whether the read loop must stop.
func (c *Client) handleFrame(raw []byte) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while handling frame", "panic", r)
			stop = c.reject(chat.ErrInternal.Wrap(fmt.Errorf("panic: %v", r)))
		}
	}()

	if err := c.dispatch(raw); err != nil {
		return c.reject(err)
	}
	return false
}

func (c *Client) dispatch(raw []byte) error {
	in, err := protocol.Decode(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			return chat.ErrUnknownType.Wrap(err)
		}
		return chat.ErrMalformedFrame.Wrap(err)
	}

	switch c.session.State() {
	case chat.StateJoining:
		if in.Type != protocol.TypeJoin {
			return chat.ErrNotJoined
		}
		_, err := c.broadcaster.Admit(c.session, in.Username)
		return err

	case chat.StateActive:
		if in.Type == protocol.TypeJoin {
			return chat.ErrAlreadyJoined
		}
		if !c.checkRateLimit() {
			return nil
		}
		_, err := c.broadcaster.Relay(c.session, in.Message)
		return err

	default:
		return chat.ErrSessionClosed
	}
}

// reject reports err to the client and, for fatal errors, finishes the
// session once the error frame has been flushed.
func (c *Client) reject(err error) bool {
	var ce *chat.Error
	if !errors.As(err, &ce) {
		ce = chat.ErrInternal.Wrap(err)
	}

	if ce.Kind == chat.KindInternal {
		c.logger.Error("rejecting frame", "kind", ce.Kind, "error", err)
	} else {
		c.logger.Info("rejecting frame", "kind", ce.Kind, "error", err)
	}

	if payload, encErr := protocol.Error(ce.Msg).Encode(); encErr == nil {
		c.session.Enqueue(payload)
	}

	if !ce.Fatal() {
		return false
	}
	c.session.Finish(ce)
	return true
}

// readPump owns the session lifecycle: it runs until the transport fails or
// the state machine stops it, then performs the close transition once.
func (c *Client) readPump() {
	defer c.finish()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.touch()

		if c.handleFrame(raw) {
			return
		}
	}
}

// finish releases the session, announces the departure if it was active
// and waits for the writer to close the transport.
func (c *Client) finish() {
	c.finishOnce.Do(func() {
		if c.idle != nil {
			c.idle.Stop()
		}
		c.broadcaster.Depart(c.session)
		c.session.Close(chat.ErrSessionClosed)
		<-c.writerDone
		c.session.MarkClosed()
		c.logger.Debug("session closed",
			"username", c.session.Username(),
			"cause", c.session.Err(),
			"connected_for", time.Since(c.session.CreatedAt()).Round(time.Millisecond),
		)
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
		close(c.writerDone)
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case payload := <-c.session.Outbound():
		return c.writeFrame(payload)
	case <-ticker.C:
		return c.handlePing()
	case <-c.session.Done():
		c.flush()
		c.writeCloseMessage()
		return false
	}
}

// closeConnection closes the underlying connection, which also unblocks a
// pending read.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("error closing connection", "error", err)
	}
}

// flush writes the frames already queued when the session asked for a drain.
func (c *Client) flush() {
	if !c.session.Drain() {
		return
	}
	n := len(c.session.Outbound())
	for i := 0; i < n; i++ {
		if !c.writeFrame(<-c.session.Outbound()) {
			return
		}
	}
}

// writeFrame sends one frame as its own text message. A failure is
// unrecoverable for the session.
func (c *Client) writeFrame(payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.failWrite(err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.failWrite(err)
		return false
	}
	return true
}

func (c *Client) failWrite(err error) {
	if !isExpectedCloseError(err) {
		c.logger.Warn("write failed", "error", err)
	}
	c.session.MarkClosing()
	c.session.Close(chat.ErrWriteFailed.Wrap(err))
}

// writeCloseMessage sends a close frame whose code reflects why the session
// ended.
func (c *Client) writeCloseMessage() {
	code, text := closeCode(c.session.Err())
	msg := websocket.FormatCloseMessage(code, text)
	deadline := time.Now().Add(c.cfg.WriteWait)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("error writing close message", "error", err)
	}
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.failWrite(err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.failWrite(err)
		return false
	}
	return true
}

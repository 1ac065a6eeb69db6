// Package chat holds the relay's shared state: sessions, the registry of
// active members and the broadcaster that fans events out to them.
package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueSize bounds a session's outbound queue when no size is given.
const DefaultQueueSize = 256

// State is the protocol state of a session.
type State int32

// Session states. Closed is terminal.
const (
	StateJoining State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the server-side state of one accepted connection. Any number
// of goroutines may enqueue; only the owning connection's writer drains.
type Session struct {
	id        string
	remote    string
	createdAt time.Time

	state atomic.Int32

	mu       sync.RWMutex
	username string

	queue chan []byte

	closeOnce sync.Once
	done      chan struct{}
	drain     bool
	cause     error
}

// NewSession creates a session in the Joining state with a bounded queue.
func NewSession(remote string, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Session{
		id:        uuid.NewString(),
		remote:    remote,
		createdAt: time.Now(),
		queue:     make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
}

// ID returns the opaque session handle.
func (s *Session) ID() string { return s.id }

// Remote returns the peer address recorded at accept time.
func (s *Session) Remote() string { return s.remote }

// CreatedAt returns the accept time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Username returns the claimed name, or "" while still joining.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// State returns the current protocol state.
func (s *Session) State() State { return State(s.state.Load()) }

// activate moves Joining to Active and fixes the username. It succeeds once.
func (s *Session) activate(username string) bool {
	if !s.state.CompareAndSwap(int32(StateJoining), int32(StateActive)) {
		return false
	}
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
	return true
}

// MarkClosing records that the outbound path failed. It has no effect once
// the session is closed.
func (s *Session) MarkClosing() {
	for {
		cur := s.state.Load()
		if State(cur) == StateClosing || State(cur) == StateClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(StateClosing)) {
			return
		}
	}
}

// MarkClosed moves the session to its terminal state.
func (s *Session) MarkClosed() { s.state.Store(int32(StateClosed)) }

// Enqueue offers payload to the outbound queue without blocking. A full
// queue closes the session with ErrSlowConsumer.
func (s *Session) Enqueue(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.queue <- payload:
		return true
	default:
		s.Close(ErrSlowConsumer)
		return false
	}
}

// Outbound is drained by the connection's write loop.
func (s *Session) Outbound() <-chan []byte { return s.queue }

// Done is closed once the session has been asked to close.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops the session immediately; queued frames are discarded.
// Only the first Close or Finish takes effect.
func (s *Session) Close(cause error) { s.shutdown(cause, false) }

// Finish stops the session after the frames already queued are written.
func (s *Session) Finish(cause error) { s.shutdown(cause, true) }

func (s *Session) shutdown(cause error, drain bool) {
	s.closeOnce.Do(func() {
		s.cause = cause
		s.drain = drain
		close(s.done)
	})
}

// Drain reports whether queued frames should be flushed before the
// transport is closed. Valid after Done is closed.
func (s *Session) Drain() bool {
	<-s.done
	return s.drain
}

// Err returns the reason the session was closed, or nil while it is open.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.cause
	default:
		return nil
	}
}

package chat

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/protocol"
)

// Broadcaster fans events out to every active session. All fan-outs are
// serialized, so every recipient observes the same global event order.
// Enqueueing never blocks: a session whose queue is full is closed instead.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time

	mu  sync.Mutex
	seq uint64
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the logger used for fan-out diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the source of server timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBroadcaster creates a Broadcaster over registry.
func NewBroadcaster(registry *Registry, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registry returns the registry the broadcaster snapshots.
func (b *Broadcaster) Registry() *Registry { return b.registry }

// Sequence returns the number of events fanned out so far.
func (b *Broadcaster) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Publish encodes f once and enqueues it on every active session. It
// returns the number of sessions the frame was queued for.
func (b *Broadcaster) Publish(f protocol.Frame) (int, error) {
	payload, err := f.Encode()
	if err != nil {
		return 0, ErrInternal.Wrap(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fanOut(f.Type, payload), nil
}

// Admit claims username for s and runs the welcome sequence: a system
// greeting to s alone, then join and the refreshed roster to everybody.
// It returns the trimmed username.
func (b *Broadcaster) Admit(s *Session, username string) (string, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return "", ErrEmptyUsername
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if s.State() != StateJoining {
		return "", ErrAlreadyJoined
	}
	h, err := b.registry.Claim(name, s)
	if err != nil {
		return "", err
	}
	if !s.activate(name) {
		b.registry.Release(h)
		return "", ErrSessionClosed
	}

	now := b.now()
	welcome, err := protocol.Welcome(name, now).Encode()
	if err != nil {
		b.registry.Release(h)
		return "", ErrInternal.Wrap(err)
	}
	s.Enqueue(welcome)

	b.publishLocked(protocol.Joined(name, now))
	b.publishLocked(protocol.Roster(b.registry.Usernames(), now))

	b.logger.Info("session joined",
		"session", s.ID(),
		"username", name,
		"active", b.registry.Count(),
	)
	return name, nil
}

// Relay publishes a chat message from s stamped with the server clock.
// Whitespace-only text is dropped and reported as not sent.
func (b *Broadcaster) Relay(s *Session, text string) (bool, error) {
	if s.State() != StateActive {
		return false, ErrNotJoined
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}

	f := protocol.Chat(s.Username(), text, b.now())
	if _, err := b.Publish(f); err != nil {
		return false, err
	}
	return true, nil
}

// Depart releases s and, if it was registered, announces the departure and
// the refreshed roster to the remaining sessions. Repeated calls are no-ops.
func (b *Broadcaster) Depart(s *Session) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name, ok := b.registry.Release(Handle(s.ID()))
	if !ok {
		return "", false
	}

	now := b.now()
	b.publishLocked(protocol.Left(name, now))
	b.publishLocked(protocol.Roster(b.registry.Usernames(), now))

	b.logger.Info("session left",
		"session", s.ID(),
		"username", name,
		"active", b.registry.Count(),
	)
	return name, true
}

func (b *Broadcaster) publishLocked(f protocol.Frame) {
	payload, err := f.Encode()
	if err != nil {
		b.logger.Error("failed to encode frame", "type", f.Type, "error", err)
		return
	}
	b.fanOut(f.Type, payload)
}

// fanOut must be called with b.mu held. The registry lock is only held for
// the snapshot, not while enqueueing.
func (b *Broadcaster) fanOut(t protocol.Type, payload []byte) int {
	members := b.registry.Snapshot()
	b.seq++

	delivered := 0
	for _, m := range members {
		select {
		case <-m.Session.Done():
			// Already closing; its departure is announced separately.
			b.logger.Debug("skipping closed session",
				"session", m.Handle,
				"type", t,
				"reason", m.Session.Err(),
			)
			continue
		default:
		}
		if m.Session.Enqueue(payload) {
			delivered++
			continue
		}
		b.logger.Warn("dropping frame for session",
			"session", m.Handle,
			"username", m.Username,
			"type", t,
			"reason", m.Session.Err(),
		)
	}

	b.logger.Debug("broadcast",
		"seq", b.seq,
		"type", t,
		"recipients", len(members),
		"delivered", delivered,
	)
	return delivered
}

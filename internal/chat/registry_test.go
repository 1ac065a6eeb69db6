package chat_test

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Tyrowin/chatrelay/internal/chat"
)

func newTestSession() *chat.Session {
	return chat.NewSession("127.0.0.1:12345", 16)
}

func TestRegistry_Claim(t *testing.T) {
	reg := chat.NewRegistry()
	s := newTestSession()

	h, err := reg.Claim("alice", s)
	if err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if h != chat.Handle(s.ID()) {
		t.Errorf("Claim() handle = %q, want %q", h, s.ID())
	}
	if got := reg.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
	if got, ok := reg.Lookup("alice"); !ok || got != h {
		t.Errorf("Lookup(alice) = %q, %v; want %q, true", got, ok, h)
	}
}

func TestRegistry_ClaimTaken(t *testing.T) {
	reg := chat.NewRegistry()
	if _, err := reg.Claim("alice", newTestSession()); err != nil {
		t.Fatalf("first Claim() error: %v", err)
	}

	_, err := reg.Claim("alice", newTestSession())
	if !errors.Is(err, chat.ErrUsernameTaken) {
		t.Fatalf("second Claim() error = %v, want ErrUsernameTaken", err)
	}
	if got := reg.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestRegistry_ClaimTwiceSameSession(t *testing.T) {
	reg := chat.NewRegistry()
	s := newTestSession()
	if _, err := reg.Claim("alice", s); err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if _, err := reg.Claim("alice2", s); !errors.Is(err, chat.ErrAlreadyJoined) {
		t.Fatalf("Claim() for registered session error = %v, want ErrAlreadyJoined", err)
	}
}

func TestRegistry_ReleaseIdempotent(t *testing.T) {
	reg := chat.NewRegistry()
	h, err := reg.Claim("alice", newTestSession())
	if err != nil {
		t.Fatalf("Claim() error: %v", err)
	}

	name, ok := reg.Release(h)
	if !ok || name != "alice" {
		t.Fatalf("Release() = %q, %v; want alice, true", name, ok)
	}
	if name, ok := reg.Release(h); ok || name != "" {
		t.Errorf("second Release() = %q, %v; want \"\", false", name, ok)
	}
	if _, ok := reg.Release("unknown"); ok {
		t.Error("Release(unknown) reported a removal")
	}
	if got := reg.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}

	// The name is free again once released.
	if _, err := reg.Claim("alice", newTestSession()); err != nil {
		t.Errorf("Claim() after release error: %v", err)
	}
}

func TestRegistry_SnapshotJoinOrder(t *testing.T) {
	reg := chat.NewRegistry()
	names := []string{"carol", "alice", "bob", "dave"}
	handles := make(map[string]chat.Handle, len(names))
	for _, n := range names {
		h, err := reg.Claim(n, newTestSession())
		if err != nil {
			t.Fatalf("Claim(%s) error: %v", n, err)
		}
		handles[n] = h
	}
	reg.Release(handles["alice"])

	want := []string{"carol", "bob", "dave"}
	snap := reg.Snapshot()
	if len(snap) != len(want) {
		t.Fatalf("Snapshot() has %d members, want %d", len(snap), len(want))
	}
	for i, m := range snap {
		if m.Username != want[i] {
			t.Errorf("Snapshot()[%d] = %q, want %q", i, m.Username, want[i])
		}
		if m.Session == nil || chat.Handle(m.Session.ID()) != m.Handle {
			t.Errorf("Snapshot()[%d] session does not match handle", i)
		}
	}

	users := reg.Usernames()
	for i := range want {
		if users[i] != want[i] {
			t.Errorf("Usernames()[%d] = %q, want %q", i, users[i], want[i])
		}
	}
}

func TestRegistry_ConcurrentClaimsSameName(t *testing.T) {
	reg := chat.NewRegistry()
	const contenders = 64

	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		taken atomic.Int32
		start = make(chan struct{})
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := reg.Claim("alice", newTestSession())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, chat.ErrUsernameTaken):
				taken.Add(1)
			default:
				t.Errorf("unexpected Claim() error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("successful claims = %d, want 1", wins.Load())
	}
	if taken.Load() != contenders-1 {
		t.Errorf("taken = %d, want %d", taken.Load(), contenders-1)
	}
}

func TestRegistry_ConcurrentClaimAndRelease(t *testing.T) {
	reg := chat.NewRegistry()
	const workers = 16
	const rounds = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", w%4)
			for i := 0; i < rounds; i++ {
				h, err := reg.Claim(name, newTestSession())
				if err != nil {
					continue
				}
				// While held, nobody else may hold the same name.
				if got, ok := reg.Lookup(name); !ok || got != h {
					t.Errorf("Lookup(%s) = %q, %v while held by %q", name, got, ok, h)
				}
				reg.Release(h)
			}
		}(w)
	}
	wg.Wait()

	if got := reg.Count(); got != 0 {
		t.Errorf("Count() = %d after all releases, want 0", got)
	}
}

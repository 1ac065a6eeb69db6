package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/protocol"
)

const testOrigin = "http://localhost:3000"

type testRelay struct {
	relay *Server
	http  *httptest.Server
	wsURL string
}

// newTestRelay starts a relay behind an httptest server. customize may
// adjust the configuration before the relay is built.
func newTestRelay(t *testing.T, customize func(cfg *config.Config)) *testRelay {
	t.Helper()
	return newTestRelayWithListener(t, customize, nil)
}

// newTestRelayWithListener is newTestRelay with the accepting listener
// wrapped by wrap, which lets tests interfere with server-side connections.
func newTestRelayWithListener(t *testing.T, customize func(cfg *config.Config), wrap func(net.Listener) net.Listener) *testRelay {
	t.Helper()

	cfg := config.Default()
	cfg.AllowedOrigins = []string{testOrigin}
	if customize != nil {
		customize(cfg)
	}

	relay := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewUnstartedServer(relay.SetupRoutes())
	if wrap != nil {
		ts.Listener = wrap(ts.Listener)
	}
	ts.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := relay.Shutdown(ctx); err != nil {
			t.Logf("relay shutdown: %v", err)
		}
		ts.Close()
	})

	return &testRelay{
		relay: relay,
		http:  ts,
		wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func originHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// dial opens a WebSocket connection with an allowed Origin.
func (tr *testRelay) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(tr.wsURL, originHeader(testOrigin))
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("failed to connect to %s: %v", tr.wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// join dials, joins as name and consumes the welcome sequence.
func (tr *testRelay) join(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	conn := tr.dial(t)
	send(t, conn, map[string]any{"type": "join", "username": name})
	expectTypes(t, conn, protocol.TypeSystem, protocol.TypeJoin, protocol.TypeUsers)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.SetWriteDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("failed to set write deadline: %v", err)
	}
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("failed to send %v: %v", v, err)
	}
}

func sendRaw(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("failed to send raw payload: %v", err)
	}
}

func sendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	send(t, conn, map[string]any{"type": "message", "message": text})
}

// readFrame reads the next frame. Each frame arrives as its own message.
func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var f protocol.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return f
}

func expectTypes(t *testing.T, conn *websocket.Conn, types ...protocol.Type) []protocol.Frame {
	t.Helper()
	frames := make([]protocol.Frame, 0, len(types))
	for i, want := range types {
		f := readFrame(t, conn)
		if f.Type != want {
			t.Fatalf("frame %d: got %+v, want type %q", i, f, want)
		}
		frames = append(frames, f)
	}
	return frames
}

// expectClosed asserts that the server closes the connection and returns
// the close code, or -1 when the connection dropped without a close frame.
func expectClosed(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected close, got frame %s", payload)
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatalf("connection was not closed: %v", err)
	}
	return -1
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Tyrowin/chatrelay/internal/version"
)

// WebSocketHandler upgrades GET requests on /ws and hands the connection to
// the relay.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if s.ShuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.serve(conn, r.RemoteAddr)
}

type rootResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Connections   int    `json:"connections"`
	Sessions      int    `json:"sessions"`
	Events        uint64 `json:"events"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// RootHandler reports that the API is up.
func (s *Server) RootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, rootResponse{Message: "Chat API is running", Status: "ok"})
}

// HealthHandler reports liveness and the number of connected users.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        "healthy",
		Connections:   s.ActiveCount(),
		Sessions:      s.SessionCount(),
		Events:        s.broadcaster.Sequence(),
		Version:       version.String(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	status := http.StatusOK
	if s.ShuttingDown() {
		resp.Status = "shutting_down"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("error writing JSON response", "error", err)
	}
}

// TestPageHandler serves a small HTML page that joins the chat and sends
// messages over /ws.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(testPageHTML)); err != nil {
		s.logger.Warn("error writing HTML response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        #users { color: #555; margin: 10px 0; }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        .error { color: #721c24; }
    </style>
</head>
<body>
    <h1>Chat Relay Test</h1>
    <div>
        <input type="text" id="username" placeholder="Username">
        <button id="joinButton" onclick="join()">Join</button>
    </div>
    <div id="users"></div>
    <div id="messages"></div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const usersDiv = document.getElementById('users');
        const messageInput = document.getElementById('messageInput');

        function addLine(text, cls) {
            const el = document.createElement('div');
            if (cls) el.className = cls;
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function formatTime(ts) {
            if (!ts) return '';
            const d = new Date(ts);
            return isNaN(d) ? '' : d.toLocaleTimeString([], { hour: '2-digit', minute: '2-digit' });
        }

        function join() {
            const name = document.getElementById('username').value.trim();
            if (!name) { addLine('Username cannot be empty', 'error'); return; }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => ws.send(JSON.stringify({ type: 'join', username: name }));
            ws.onmessage = (event) => {
                const data = JSON.parse(event.data);
                switch (data.type) {
                case 'error':
                    addLine(data.message, 'error');
                    ws.close();
                    return;
                case 'system':
                    messageInput.disabled = false;
                    document.getElementById('sendButton').disabled = false;
                    break;
                case 'users':
                    usersDiv.textContent = 'Online (' + data.users.length + '): ' + data.users.join(', ');
                    return;
                }
                const who = data.type === 'message' ? data.username + ': ' : '';
                addLine('[' + formatTime(data.timestamp) + '] ' + who + data.message);
            };
            ws.onclose = () => {
                messageInput.disabled = true;
                document.getElementById('sendButton').disabled = true;
                addLine('Connection closed');
            };
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ type: 'message', message: text }));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', (e) => { if (e.key === 'Enter') sendMessage(); });
    </script>
</body>
</html>`

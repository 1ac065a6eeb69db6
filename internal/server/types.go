package server

import (
	"errors"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/chat"
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// closeCode maps the reason a session ended to a WebSocket close code and
// reason text.
func closeCode(cause error) (int, string) {
	var ce *chat.Error
	if !errors.As(cause, &ce) {
		return websocket.CloseNormalClosure, ""
	}

	switch ce.Kind {
	case chat.KindProtocol:
		return websocket.ClosePolicyViolation, ce.Msg
	case chat.KindInternal:
		return websocket.CloseInternalServerErr, ce.Msg
	case chat.KindTransport:
		if errors.Is(cause, chat.ErrServerShutdown) {
			return websocket.CloseGoingAway, ce.Msg
		}
		if errors.Is(cause, chat.ErrSlowConsumer) {
			return websocket.CloseTryAgainLater, ce.Msg
		}
		return websocket.CloseNormalClosure, ""
	default:
		return websocket.CloseNormalClosure, ce.Msg
	}
}

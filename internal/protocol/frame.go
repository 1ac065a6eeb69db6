// Package protocol defines the JSON envelope exchanged between chat clients
// and the relay, together with helpers to build outbound frames and classify
// inbound ones.
package protocol

import (
	"encoding/json"
	"time"
)

// Type is the value of the "type" field of a frame.
type Type string

// Frame types understood by the relay.
const (
	TypeJoin    Type = "join"
	TypeLeave   Type = "leave"
	TypeMessage Type = "message"
	TypeSystem  Type = "system"
	TypeUsers   Type = "users"
	TypeError   Type = "error"
)

// TimestampLayout is the ISO-8601 layout used for server timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Frame is the wire envelope. Only the fields relevant to Type are set.
type Frame struct {
	Type      Type     `json:"type"`
	Username  string   `json:"username,omitempty"`
	Message   string   `json:"message,omitempty"`
	Users     []string `json:"users,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// Encode marshals the frame into a single JSON text payload.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Timestamp formats t the way every outbound frame carries it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Welcome is the system greeting sent only to a newly admitted session.
func Welcome(username string, at time.Time) Frame {
	return System("Welcome, "+username+"!", at)
}

// Joined announces a new member to everybody.
func Joined(username string, at time.Time) Frame {
	return Frame{
		Type:      TypeJoin,
		Username:  username,
		Message:   username + " joined the chat",
		Timestamp: Timestamp(at),
	}
}

// Left announces a departed member to the remaining sessions.
func Left(username string, at time.Time) Frame {
	return Frame{
		Type:      TypeLeave,
		Username:  username,
		Message:   username + " left the chat",
		Timestamp: Timestamp(at),
	}
}

// Chat is a relayed user message stamped with the server receipt time.
func Chat(username, text string, at time.Time) Frame {
	return Frame{Type: TypeMessage, Username: username, Message: text, Timestamp: Timestamp(at)}
}

// Roster lists the active usernames in join order.
func Roster(usernames []string, at time.Time) Frame {
	return Frame{Type: TypeUsers, Users: usernames, Timestamp: Timestamp(at)}
}

// Error carries a human-readable failure reason to a single client.
func Error(text string) Frame {
	return Frame{Type: TypeError, Message: text}
}

// System is a free-form notice from the server.
func System(text string, at time.Time) Frame {
	return Frame{Type: TypeSystem, Message: text, Timestamp: Timestamp(at)}
}

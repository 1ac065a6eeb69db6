// Package server implements the HTTP and WebSocket front of the chat relay.
//
// Each accepted connection gets a chat.Session and a Client running two
// goroutines: a read pump that drives the join/message state machine and a
// write pump that drains the session's bounded queue. Membership and fan-out
// live in package chat; this package owns transport concerns such as origin
// checks, keepalives, rate limiting and shutdown.
package server

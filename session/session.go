// Package session manages concurrent streaming transport sessions. Each
// live connection is wrapped in exactly one Session keyed by a generated
// id; inbound follow-up messages are routed to the owning session and
// processed in arrival order, independently across sessions.
package session

import (
	"time"

	"github.com/brightport/boardbridge/wire"
)

// Connection is the transport-side handle a Session owns exclusively.
// Send pushes a server-to-client message; Close releases the underlying
// resource. Implementations must tolerate Close after failure.
type Connection interface {
	Send(res wire.Response) error
	Close() error
}

// Session is one live streaming connection. The connection handle is
// exclusively owned: no component outside this package writes to it.
type Session struct {
	id      string
	conn    Connection
	created time.Time

	inbound chan inboundMessage
	closing chan struct{}
	done    chan struct{}
}

type inboundMessage struct {
	req wire.Request
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was accepted.
func (s *Session) CreatedAt() time.Time { return s.created }

// Package transport defines the capability interfaces between a session
// proxy and the communication layer that delivers frames to subscribed
// peers. Implementations live in subpackages; the proxy is written
// entirely against these interfaces.
package transport

import "github.com/quillmesh/collab-server-go/wire"

// Scope describes how far an inbound frame should be relayed after the
// receiving object has processed it.
type Scope int

const (
	// ScopePointToPoint keeps the frame between the sender and this node.
	ScopePointToPoint Scope = iota
	// ScopeGroup relays the frame to the other members of the group.
	ScopeGroup
)

// Connection identifies one remote peer link. Implementations must return
// a stable, unique ID for the lifetime of the connection; the proxy keys
// its subscription registry on it.
type Connection interface {
	ID() string
}

// FrameHandler consumes inbound frames routed to a group's target object
// and reports the delivery scope for each.
type FrameHandler interface {
	Received(conn Connection, frame *wire.Frame) Scope
}

// Group is the sending surface of a communication group.
type Group interface {
	// Name returns the group identifier shared with the peers.
	Name() string

	// SendTo delivers a frame to a single member connection.
	SendTo(conn Connection, frame *wire.Frame)

	// Broadcast delivers a frame to every current member.
	Broadcast(frame *wire.Frame)
}

// HostedGroup is a group owned by this node: membership is managed
// locally and inbound member frames are routed to a target handler.
type HostedGroup interface {
	Group

	// AddMember adds a connection to the group. Adding a member twice is
	// a no-op.
	AddMember(conn Connection)

	// RemoveMember drops a connection from the group and notifies
	// member-removed listeners. Removing a non-member is a no-op.
	RemoveMember(conn Connection)

	// IsMember reports whether the connection belongs to the group.
	IsMember(conn Connection) bool

	// OnMemberRemoved registers a listener invoked after a member has
	// been dropped, whether by RemoveMember or by connection loss.
	OnMemberRemoved(fn func(Connection)) (cancel func())

	// SetTarget installs the handler that receives inbound member frames.
	SetTarget(h FrameHandler)

	// Close drops all members without notifying listeners and releases
	// the group. A closed group discards sends.
	Close()
}

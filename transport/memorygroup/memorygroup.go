// Package memorygroup provides an in-process implementation of the
// transport interfaces using direct delivery. It is suitable for
// single-node deployments and testing scenarios.
package memorygroup

import (
	"sync"

	"github.com/google/uuid"
	"github.com/quillmesh/collab-server-go/internal/signals"
	"github.com/quillmesh/collab-server-go/transport"
	"github.com/quillmesh/collab-server-go/wire"
)

// Conn is an in-memory connection endpoint. Frames delivered to it are
// recorded and optionally forwarded to a sink callback.
type Conn struct {
	id string

	mu   sync.Mutex
	sent []*wire.Frame
	sink func(*wire.Frame)
}

// NewConn returns a connection with a generated unique ID.
func NewConn() *Conn {
	return &Conn{id: uuid.NewString()}
}

// ID implements transport.Connection.
func (c *Conn) ID() string { return c.id }

// SetSink installs a callback invoked for every frame delivered to the
// connection.
func (c *Conn) SetSink(fn func(*wire.Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = fn
}

// Deliver hands a frame to the connection endpoint.
func (c *Conn) Deliver(f *wire.Frame) {
	c.mu.Lock()
	c.sent = append(c.sent, f)
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		sink(f)
	}
}

// Received returns a copy of every frame delivered so far.
func (c *Conn) Received() []*wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*wire.Frame(nil), c.sent...)
}

// LastReceived returns the most recently delivered frame, or nil.
func (c *Conn) LastReceived() *wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

// Reset discards the recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// deliverable is satisfied by connection implementations the group can
// push frames into directly.
type deliverable interface {
	Deliver(*wire.Frame)
}

// Group is an in-memory hosted communication group.
type Group struct {
	name string

	mu      sync.Mutex
	members []transport.Connection
	target  transport.FrameHandler
	closed  bool

	removed   signals.Hub[transport.Connection]
	broadcast signals.Hub[*wire.Frame]
}

var _ transport.HostedGroup = (*Group)(nil)

// New returns an empty hosted group with the given name.
func New(name string) *Group {
	return &Group{name: name}
}

// Name implements transport.Group.
func (g *Group) Name() string { return g.name }

// AddMember implements transport.HostedGroup.
func (g *Group) AddMember(conn transport.Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.findLocked(conn) >= 0 {
		return
	}
	g.members = append(g.members, conn)
}

// RemoveMember implements transport.HostedGroup. Listeners run after the
// member has been dropped, so frames sent during the cascade no longer
// reach it.
func (g *Group) RemoveMember(conn transport.Connection) {
	g.mu.Lock()
	i := g.findLocked(conn)
	if i < 0 {
		g.mu.Unlock()
		return
	}
	g.members = append(g.members[:i:i], g.members[i+1:]...)
	g.mu.Unlock()

	g.removed.Emit(conn)
}

// IsMember implements transport.HostedGroup.
func (g *Group) IsMember(conn transport.Connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.findLocked(conn) >= 0
}

// Members returns a snapshot of the current member list.
func (g *Group) Members() []transport.Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]transport.Connection(nil), g.members...)
}

// OnMemberRemoved implements transport.HostedGroup.
func (g *Group) OnMemberRemoved(fn func(transport.Connection)) (cancel func()) {
	return g.removed.Connect(fn)
}

// SetTarget implements transport.HostedGroup.
func (g *Group) SetTarget(h transport.FrameHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.target = h
}

// SendTo implements transport.Group. Frames to non-members are dropped.
func (g *Group) SendTo(conn transport.Connection, frame *wire.Frame) {
	g.mu.Lock()
	if g.closed || g.findLocked(conn) < 0 {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	if d, ok := conn.(deliverable); ok {
		d.Deliver(frame)
	}
}

// Broadcast implements transport.Group, delivering the frame to every
// current member and notifying broadcast taps.
func (g *Group) Broadcast(frame *wire.Frame) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	members := append([]transport.Connection(nil), g.members...)
	g.mu.Unlock()

	for _, m := range members {
		if d, ok := m.(deliverable); ok {
			d.Deliver(frame)
		}
	}
	g.broadcast.Emit(frame)
}

// Mirror delivers a frame originating from another node to every member
// without notifying broadcast taps. Relays use it to avoid republishing
// remote traffic.
func (g *Group) Mirror(frame *wire.Frame) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	members := append([]transport.Connection(nil), g.members...)
	g.mu.Unlock()

	for _, m := range members {
		if d, ok := m.(deliverable); ok {
			d.Deliver(frame)
		}
	}
}

// OnBroadcast registers a tap invoked for every locally originated
// broadcast. Relays publish these frames to other nodes.
func (g *Group) OnBroadcast(fn func(*wire.Frame)) (cancel func()) {
	return g.broadcast.Connect(fn)
}

// Receive routes an inbound frame from a member to the group's target
// handler, simulating arrival from the network. Frames from non-members
// or without a target are dropped with point-to-point scope.
func (g *Group) Receive(conn transport.Connection, frame *wire.Frame) transport.Scope {
	g.mu.Lock()
	target := g.target
	member := g.findLocked(conn) >= 0
	g.mu.Unlock()

	if target == nil || !member {
		return transport.ScopePointToPoint
	}
	return target.Received(conn, frame)
}

// Close implements transport.HostedGroup.
func (g *Group) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.members = nil
	g.target = nil
}

func (g *Group) findLocked(conn transport.Connection) int {
	for i, m := range g.members {
		if m.ID() == conn.ID() {
			return i
		}
	}
	return -1
}

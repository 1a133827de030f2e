// Package memorysession provides an in-memory session engine: a real
// user table, the XML user property codec, and a push synchronization of
// the user list. It carries no document model and is suitable for
// single-node deployments, examples, and tests.
package memorysession

import (
	"log/slog"

	"github.com/quillmesh/collab-server-go/internal/signals"
	"github.com/quillmesh/collab-server-go/sessions"
	"github.com/quillmesh/collab-server-go/transport"
	"github.com/quillmesh/collab-server-go/users"
	"github.com/quillmesh/collab-server-go/wire"
)

type syncState struct {
	conn   transport.Connection
	group  transport.Group
	status sessions.SyncStatus
}

// Session is an in-memory sessions.Session implementation.
type Session struct {
	log    *slog.Logger
	status sessions.Status
	table  *users.Table
	group  transport.Group

	syncs map[string]*syncState

	closeHub        signals.Hub[struct{}]
	syncBeginHub    signals.Hub[syncBeginEvent]
	syncCompleteHub signals.Hub[transport.Connection]
	syncFailedHub   signals.Hub[syncFailedEvent]
}

type syncBeginEvent struct {
	group transport.Group
	conn  transport.Connection
}

type syncFailedEvent struct {
	conn transport.Connection
	err  error
}

var _ sessions.Session = (*Session)(nil)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the slog logger used by the session.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// New returns a running session with an empty user table.
func New(opts ...Option) *Session {
	s := &Session{
		status: sessions.StatusRunning,
		table:  users.NewTable(),
		syncs:  make(map[string]*syncState),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func (s *Session) Status() sessions.Status { return s.status }
func (s *Session) Users() *users.Table     { return s.table }

func (s *Session) SetSubscriptionGroup(g transport.Group) { s.group = g }

func (s *Session) SendToSubscriptions(frame *wire.Frame) {
	if s.group == nil {
		return
	}
	s.group.Broadcast(frame)
}

// SerializeUser writes the wire-visible user state: id, name, status.
// Connection and flags are server-side bookkeeping and never serialized.
func (s *Session) SerializeUser(u *users.User, frame *wire.Frame) {
	frame.SetUintAttr("id", u.ID())
	frame.SetAttr("name", u.Name())
	frame.SetAttr("status", u.Status().String())
}

// ParseUserProps extracts the proposed user properties from a frame.
// Recognized attributes get typed values; unrecognized ones pass through
// as strings so that deployment-specific properties (such as join
// tokens) reach the authorization listeners. The seq attribute is
// correlation state, not a user property.
func (s *Session) ParseUserProps(conn transport.Connection, frame *wire.Frame) (users.PropSet, error) {
	var props users.PropSet
	for _, a := range frame.Attrs {
		switch a.Name {
		case "seq":
		case "id":
			v, _, err := frame.UintAttr("id")
			if err != nil {
				return nil, err
			}
			props.Set("id", users.UintValue(v))
		case "status":
			st, err := users.ParseStatus(a.Value)
			if err != nil {
				return nil, wire.Errorf(
					wire.DomainRequest, wire.CodeInvalidAttribute,
					"unknown user status %q", a.Value,
				)
			}
			props.Set("status", users.StatusValue(st))
		default:
			props.Set(a.Name, users.StringValue(a.Value))
		}
	}
	return props, nil
}

// ValidateUserProps enforces the session's user rules: a non-empty name
// and no name or ID collision with another user. The exclude user is the
// rejoin candidate and does not count against itself.
func (s *Session) ValidateUserProps(props users.PropSet, exclude *users.User) error {
	nameVal, ok := props.Lookup("name")
	if !ok || nameVal.String() == "" {
		return wire.Errorf(wire.DomainUser, wire.CodeInvalidName, "user name is empty")
	}
	name := nameVal.String()

	if u := s.table.LookupByName(name); u != nil && u != exclude {
		if u.Status() != users.StatusUnavailable {
			return wire.Errorf(wire.DomainUser, wire.CodeNameInUse, "name %q already in use", name)
		}
	}

	if idVal, ok := props.Lookup("id"); ok {
		if u := s.table.LookupByID(idVal.Uint()); u != nil && u != exclude {
			return wire.Errorf(wire.DomainUser, wire.CodeIDInUse, "user ID %d already in use", idVal.Uint())
		}
	}
	return nil
}

// AddUser constructs a user from a validated property bag and inserts it
// into the table.
func (s *Session) AddUser(props users.PropSet) (*users.User, error) {
	idVal, ok := props.Lookup("id")
	if !ok {
		return nil, wire.Errorf(wire.DomainRequest, wire.CodeNoSuchAttribute, "user has no ID")
	}
	nameVal, ok := props.Lookup("name")
	if !ok {
		return nil, wire.Errorf(wire.DomainRequest, wire.CodeNoSuchAttribute, "user has no name")
	}

	status := users.StatusActive
	if st, ok := props.Lookup("status"); ok {
		status = st.Status()
	}
	var flags users.Flags
	if fl, ok := props.Lookup("flags"); ok {
		flags = fl.Flags()
	}
	var conn transport.Connection
	if cv, ok := props.Lookup("connection"); ok {
		conn = cv.Connection()
	}

	u := users.NewUser(idVal.Uint(), nameVal.String(), status, flags, conn)
	if err := s.table.Add(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Session) HasSynchronizations() bool { return len(s.syncs) > 0 }

func (s *Session) SynchronizationStatus(conn transport.Connection) sessions.SyncStatus {
	if st, ok := s.syncs[conn.ID()]; ok {
		return st.status
	}
	return sessions.SyncNone
}

// SynchronizeTo pushes the session state to conn: a sync-begin frame, one
// sync-user frame per known user, then sync-end. Delivery is synchronous,
// so the synchronization moves straight to awaiting the peer's ack.
func (s *Session) SynchronizeTo(g transport.Group, conn transport.Connection) error {
	if _, ok := s.syncs[conn.ID()]; ok {
		return wire.Errorf(wire.DomainRequest, wire.CodeInvalidAttribute,
			"synchronization to %q already ongoing", conn.ID())
	}

	st := &syncState{conn: conn, group: g, status: sessions.SyncInProgress}
	s.syncs[conn.ID()] = st
	s.syncBeginHub.Emit(syncBeginEvent{group: g, conn: conn})

	begin := wire.NewFrame("sync-begin")
	begin.SetUintAttr("num-messages", uint(s.table.Len()))
	g.SendTo(conn, begin)

	s.table.ForEach(func(u *users.User) {
		f := wire.NewFrame("sync-user")
		s.SerializeUser(u, f)
		g.SendTo(conn, f)
	})

	g.SendTo(conn, wire.NewFrame("sync-end"))
	st.status = sessions.SyncAwaitingACK
	s.log.Debug("sync.push", slog.String("conn", conn.ID()))
	return nil
}

// CancelSynchronization aborts an in-progress synchronization. It is a
// no-op once the peer's ack is awaited, because everything has already
// been sent.
func (s *Session) CancelSynchronization(conn transport.Connection) {
	st, ok := s.syncs[conn.ID()]
	if !ok || st.status != sessions.SyncInProgress {
		return
	}
	delete(s.syncs, conn.ID())
	st.group.SendTo(conn, wire.NewFrame("sync-cancel"))
	s.syncFailedHub.Emit(syncFailedEvent{conn: conn, err: sessions.ErrSyncCancelled})
}

func (s *Session) SyncConnection() transport.Connection { return nil }

// Receive handles forwarded frames. The only elements the engine knows
// are the synchronization handshake; anything else is session content and
// relayed to the group.
func (s *Session) Receive(conn transport.Connection, frame *wire.Frame) transport.Scope {
	switch frame.Name {
	case "sync-ack":
		if st, ok := s.syncs[conn.ID()]; ok && st.status == sessions.SyncAwaitingACK {
			delete(s.syncs, conn.ID())
			s.syncCompleteHub.Emit(conn)
		}
		return transport.ScopePointToPoint
	case "sync-error":
		if _, ok := s.syncs[conn.ID()]; ok {
			delete(s.syncs, conn.ID())
			msg, _ := frame.Attr("message")
			s.syncFailedHub.Emit(syncFailedEvent{
				conn: conn,
				err:  wire.Errorf(wire.DomainRequest, wire.CodeUnknown, "peer reported sync error: %s", msg),
			})
		}
		return transport.ScopePointToPoint
	}
	return transport.ScopeGroup
}

// Close fails every outstanding synchronization, notifies close
// observers, and marks the session closed. Observers run before the
// status flips so that teardown code still sees a live session.
func (s *Session) Close() {
	if s.status == sessions.StatusClosed {
		return
	}

	for id, st := range s.syncs {
		delete(s.syncs, id)
		s.syncFailedHub.Emit(syncFailedEvent{conn: st.conn, err: sessions.ErrSessionClosed})
	}

	s.closeHub.Emit(struct{}{})
	s.status = sessions.StatusClosed
	s.group = nil
	s.log.Info("session.close")
}

func (s *Session) OnClose(fn func()) (cancel func()) {
	return s.closeHub.Connect(func(struct{}) { fn() })
}

func (s *Session) OnSynchronizationBegin(fn func(transport.Group, transport.Connection)) (cancel func()) {
	return s.syncBeginHub.Connect(func(ev syncBeginEvent) { fn(ev.group, ev.conn) })
}

func (s *Session) OnSynchronizationComplete(fn func(transport.Connection)) (cancel func()) {
	return s.syncCompleteHub.Connect(fn)
}

func (s *Session) OnSynchronizationFailed(fn func(transport.Connection, error)) (cancel func()) {
	return s.syncFailedHub.Connect(func(ev syncFailedEvent) { fn(ev.conn, ev.err) })
}

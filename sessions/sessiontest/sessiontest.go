// Package sessiontest provides a scriptable session for proxy tests. It
// delegates to the in-memory engine and adds knobs for the states that
// are awkward to reach through the public API, such as a session still
// synchronizing from a remote peer.
package sessiontest

import (
	"github.com/quillmesh/collab-server-go/sessions"
	"github.com/quillmesh/collab-server-go/sessions/memorysession"
	"github.com/quillmesh/collab-server-go/transport"
	"github.com/quillmesh/collab-server-go/users"
	"github.com/quillmesh/collab-server-go/wire"
)

// ReceivedCall records one frame forwarded to the session.
type ReceivedCall struct {
	Conn  transport.Connection
	Frame *wire.Frame
}

// Session wraps a memorysession.Session. Zero-valued knobs leave the
// embedded behavior untouched.
type Session struct {
	*memorysession.Session

	// ForcedStatus, when non-nil, overrides the reported lifecycle state.
	ForcedStatus *sessions.Status

	// SyncConn, when non-nil, is reported as the peer the session is
	// synchronizing from.
	SyncConn transport.Connection

	// ValidateErr, when non-nil, fails every property validation.
	ValidateErr error

	// ForcedSync overrides the reported synchronization status per
	// connection ID. The embedded engine completes its push
	// synchronously, so holding a sync in the in-progress state is only
	// reachable through this knob. CancelSynchronization clears the
	// override for the cancelled connection.
	ForcedSync map[string]sessions.SyncStatus

	// ReceivedCalls records the frames forwarded through Receive.
	ReceivedCalls []ReceivedCall

	// CancelledSyncs records the connections whose synchronization the
	// proxy asked to cancel.
	CancelledSyncs []transport.Connection
}

var _ sessions.Session = (*Session)(nil)

// New returns a scriptable session around a fresh in-memory engine.
func New() *Session {
	return &Session{Session: memorysession.New()}
}

// ForceStatus overrides the reported lifecycle state until cleared with a
// nil-knob reset.
func (s *Session) ForceStatus(st sessions.Status) {
	s.ForcedStatus = &st
}

func (s *Session) Status() sessions.Status {
	if s.ForcedStatus != nil {
		return *s.ForcedStatus
	}
	return s.Session.Status()
}

// ForceSyncStatus pins the synchronization status reported for conn.
func (s *Session) ForceSyncStatus(conn transport.Connection, st sessions.SyncStatus) {
	if s.ForcedSync == nil {
		s.ForcedSync = make(map[string]sessions.SyncStatus)
	}
	s.ForcedSync[conn.ID()] = st
}

func (s *Session) SynchronizationStatus(conn transport.Connection) sessions.SyncStatus {
	if st, ok := s.ForcedSync[conn.ID()]; ok {
		return st
	}
	return s.Session.SynchronizationStatus(conn)
}

func (s *Session) HasSynchronizations() bool {
	return len(s.ForcedSync) > 0 || s.Session.HasSynchronizations()
}

func (s *Session) SyncConnection() transport.Connection {
	if s.SyncConn != nil {
		return s.SyncConn
	}
	return s.Session.SyncConnection()
}

func (s *Session) ValidateUserProps(props users.PropSet, exclude *users.User) error {
	if s.ValidateErr != nil {
		return s.ValidateErr
	}
	return s.Session.ValidateUserProps(props, exclude)
}

func (s *Session) Receive(conn transport.Connection, frame *wire.Frame) transport.Scope {
	s.ReceivedCalls = append(s.ReceivedCalls, ReceivedCall{Conn: conn, Frame: frame})
	return s.Session.Receive(conn, frame)
}

func (s *Session) CancelSynchronization(conn transport.Connection) {
	s.CancelledSyncs = append(s.CancelledSyncs, conn)
	delete(s.ForcedSync, conn.ID())
	s.Session.CancelSynchronization(conn)
}

// Package sessions defines the capability interface a session engine
// exposes to its server-side proxy. The proxy is specified entirely
// against this interface; the document model, operational transformation,
// and sync mechanics behind it are out of its sight.
package sessions

import (
	"errors"

	"github.com/quillmesh/collab-server-go/transport"
	"github.com/quillmesh/collab-server-go/users"
	"github.com/quillmesh/collab-server-go/wire"
)

// Status is the lifecycle state of a session.
type Status int

const (
	// StatusSynchronizing means the session is still receiving its
	// initial state from a remote peer.
	StatusSynchronizing Status = iota
	// StatusRunning means the session is live and processing requests.
	StatusRunning
	// StatusClosed means the session has shut down.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusSynchronizing:
		return "synchronizing"
	case StatusRunning:
		return "running"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// SyncStatus is the state of one outbound synchronization to a peer.
type SyncStatus int

const (
	// SyncNone means no synchronization involves the connection.
	SyncNone SyncStatus = iota
	// SyncInProgress means state is still being pushed and the
	// synchronization can be cancelled.
	SyncInProgress
	// SyncAwaitingACK means everything has been sent; cancellation is no
	// longer possible and the peer will reach running state on its own.
	SyncAwaitingACK
)

// ErrSyncCancelled reports a synchronization aborted by the server side.
var ErrSyncCancelled = errors.New("synchronization cancelled")

// ErrSessionClosed reports an operation cut short by session shutdown.
var ErrSessionClosed = errors.New("session closed")

// Session is the engine-facing capability surface required by a session
// proxy. All methods are invoked from the proxy's event loop.
type Session interface {
	// Status returns the session lifecycle state.
	Status() Status

	// Users returns the session's user table. The table owns every user
	// record; the proxy only holds references.
	Users() *users.Table

	// SetSubscriptionGroup installs the communication group that carries
	// the session's change stream.
	SetSubscriptionGroup(g transport.Group)

	// SendToSubscriptions broadcasts a frame to every subscribed peer.
	SendToSubscriptions(frame *wire.Frame)

	// SerializeUser writes the full wire representation of a user onto
	// the frame's attributes.
	SerializeUser(u *users.User, frame *wire.Frame)

	// ParseUserProps extracts the proposed user properties from an
	// inbound frame. The seq attribute is not a user property and is
	// skipped.
	ParseUserProps(conn transport.Connection, frame *wire.Frame) (users.PropSet, error)

	// ValidateUserProps checks a fully populated property bag against
	// session rules. The exclude user, when non-nil, is the rejoin
	// candidate whose own name and ID must not count as conflicts.
	ValidateUserProps(props users.PropSet, exclude *users.User) error

	// AddUser constructs a user from a validated property bag and inserts
	// it into the user table.
	AddUser(props users.PropSet) (*users.User, error)

	// HasSynchronizations reports whether any synchronization, in either
	// direction, is ongoing.
	HasSynchronizations() bool

	// SynchronizationStatus returns the state of the synchronization
	// involving conn, or SyncNone.
	SynchronizationStatus(conn transport.Connection) SyncStatus

	// SynchronizeTo pushes the full session state to conn within g.
	SynchronizeTo(g transport.Group, conn transport.Connection) error

	// CancelSynchronization aborts an in-progress synchronization to
	// conn. It is a no-op once the synchronization awaits its ack.
	CancelSynchronization(conn transport.Connection)

	// SyncConnection returns the peer the session is synchronizing from
	// while Status is StatusSynchronizing, and nil otherwise.
	SyncConnection() transport.Connection

	// Receive processes a frame the proxy chose to forward.
	Receive(conn transport.Connection, frame *wire.Frame) transport.Scope

	// Close shuts the session down, failing outstanding synchronizations
	// and notifying close observers.
	Close()

	// OnClose registers an observer for session shutdown. Observers run
	// while teardown is still permitted to emit frames.
	OnClose(fn func()) (cancel func())

	// OnSynchronizationBegin registers an observer invoked after a
	// synchronization has been registered and started.
	OnSynchronizationBegin(fn func(g transport.Group, conn transport.Connection)) (cancel func())

	// OnSynchronizationComplete registers an observer invoked after a
	// finished synchronization has been dropped from the session's
	// bookkeeping.
	OnSynchronizationComplete(fn func(conn transport.Connection)) (cancel func())

	// OnSynchronizationFailed registers an observer invoked after a
	// failed synchronization has been dropped from the session's
	// bookkeeping.
	OnSynchronizationFailed(fn func(conn transport.Connection, err error)) (cancel func())
}

// Request is the handle returned by server-initiated operations such as a
// local user join. The proxy completes requests synchronously.
type Request struct {
	// Type names the operation, e.g. "user-join".
	Type string
	// User carries the result of a successful user-join request.
	User *users.User
	// Err carries the failure, if any.
	Err error
}

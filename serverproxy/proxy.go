// Package serverproxy implements the server side of a collaborative
// session: it tracks the peer connections subscribed to the session's
// change stream, manages user joins and rejoins, keeps the derived idle
// flag that gates session unloading, and handles the proxy-owned protocol
// messages while forwarding everything else to the session engine.
//
// One proxy manages exactly one session. All proxy state is confined to
// the event loop the proxy was constructed with; callers on other
// goroutines must marshal through it.
package serverproxy

import (
	"errors"
	"log/slog"

	"github.com/quillmesh/collab-server-go/eventloop"
	"github.com/quillmesh/collab-server-go/internal/signals"
	"github.com/quillmesh/collab-server-go/sessions"
	"github.com/quillmesh/collab-server-go/transport"
	"github.com/quillmesh/collab-server-go/users"
)

var (
	// ErrAlreadySubscribed reports a subscribe attempt for a connection
	// that already has a subscription.
	ErrAlreadySubscribed = errors.New("connection is already subscribed")
	// ErrNotSubscribed reports an operation on a connection without a
	// subscription.
	ErrNotSubscribed = errors.New("connection is not subscribed")
	// ErrSessionNotRunning reports an operation that requires a running
	// session.
	ErrSessionNotRunning = errors.New("session is not running")
	// ErrProxyClosed reports an operation on a disposed proxy.
	ErrProxyClosed = errors.New("session proxy is closed")
)

// SubscriptionEvent carries the arguments of the add-subscription event.
type SubscriptionEvent struct {
	Connection transport.Connection
	SeqID      uint
}

// JoinAttempt is handed to reject-join listeners before a user join is
// applied. Listeners must not mutate Props.
type JoinAttempt struct {
	// Connection is the originating peer, or nil for a local join.
	Connection transport.Connection
	// Props is the fully populated property bag for the proposed user.
	Props users.PropSet
	// Rejoin is the unavailable user being resurrected, or nil for a
	// fresh join.
	Rejoin *users.User
}

// subscription ties a subscribed connection to its reply sequence
// identifier and the users joined through it.
type subscription struct {
	conn  transport.Connection
	seqID uint
	users []*users.User
}

// SessionProxy coordinates subscriptions, users, and proxy-owned protocol
// traffic for one session.
type SessionProxy struct {
	log     *slog.Logger
	io      *eventloop.Loop
	session sessions.Session
	group   transport.HostedGroup

	subscriptions []*subscription
	localUsers    []*users.User
	userIDCounter uint
	idle          bool
	closed        bool

	addSubscription    signals.Hub[SubscriptionEvent]
	removeSubscription signals.Hub[transport.Connection]
	rejectUserJoin     signals.Gate[JoinAttempt]
	idleChanged        signals.Hub[bool]

	statusWatch         map[*users.User]func()
	detach              []func()
	detachMemberRemoved func()
}

var _ transport.FrameHandler = (*SessionProxy)(nil)

// Option configures a SessionProxy.
type Option func(*SessionProxy)

// WithLogger sets the slog logger used by the proxy. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *SessionProxy) { p.log = l }
}

// New constructs a proxy for session, delivering frames through group and
// scheduled by io. The proxy installs itself as the group's frame target
// and as the session's subscription group.
func New(io *eventloop.Loop, session sessions.Session, group transport.HostedGroup, opts ...Option) *SessionProxy {
	p := &SessionProxy{
		io:            io,
		session:       session,
		group:         group,
		userIDCounter: 1,
		idle:          true,
		statusWatch:   make(map[*users.User]func()),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}

	// Seed the counter past any users already known to the session so
	// the next join gets a free ID.
	session.Users().ForEach(func(u *users.User) {
		if p.userIDCounter <= u.ID() {
			p.userIDCounter = u.ID() + 1
		}
	})

	p.detach = append(p.detach,
		session.OnClose(p.sessionClosed),
		session.Users().OnAddUser(p.userAdded),
		session.OnSynchronizationBegin(p.syncBegan),
		session.OnSynchronizationComplete(p.syncCompleted),
		session.OnSynchronizationFailed(p.syncFailed),
	)
	p.detachMemberRemoved = group.OnMemberRemoved(p.memberRemoved)

	if session.Status() == sessions.StatusSynchronizing {
		p.idle = false
	}

	session.SetSubscriptionGroup(group)
	group.SetTarget(p)
	return p
}

// IsIdle reports whether the proxy has no subscriptions, no local users,
// and the session runs no synchronizations. The directory uses idle
// transitions to decide when the session may be unloaded.
func (p *SessionProxy) IsIdle() bool { return p.idle }

// HasSubscriptions reports whether any connection is subscribed.
func (p *SessionProxy) HasSubscriptions() bool { return len(p.subscriptions) > 0 }

// IsSubscribed reports whether conn is subscribed.
func (p *SessionProxy) IsSubscribed(conn transport.Connection) bool {
	return p.findSubscription(conn) != nil
}

// Session returns the session this proxy manages.
func (p *SessionProxy) Session() sessions.Session { return p.session }

// OnAddSubscription registers a listener invoked every time a connection
// subscribes, before the default handler records the subscription.
func (p *SessionProxy) OnAddSubscription(fn func(SubscriptionEvent)) (cancel func()) {
	return p.addSubscription.Connect(fn)
}

// OnRemoveSubscription registers a listener invoked every time a
// subscription is removed, whether by unsubscribe, connection loss, or
// session close.
func (p *SessionProxy) OnRemoveSubscription(fn func(transport.Connection)) (cancel func()) {
	return p.removeSubscription.Connect(fn)
}

// OnRejectUserJoin registers a join authorization listener. A join is
// rejected as soon as any listener returns true; with no listeners every
// join is accepted.
func (p *SessionProxy) OnRejectUserJoin(fn func(JoinAttempt) bool) (cancel func()) {
	return p.rejectUserJoin.Connect(fn)
}

// OnIdleChanged registers a listener for idle edges. Listeners fire
// exactly once per transition, never on no-op updates.
func (p *SessionProxy) OnIdleChanged(fn func(idle bool)) (cancel func()) {
	return p.idleChanged.Connect(fn)
}

func (p *SessionProxy) findSubscription(conn transport.Connection) *subscription {
	if conn == nil {
		return nil
	}
	for _, s := range p.subscriptions {
		if s.conn.ID() == conn.ID() {
			return s
		}
	}
	return nil
}

func (p *SessionProxy) computeIdle() bool {
	return len(p.subscriptions) == 0 &&
		len(p.localUsers) == 0 &&
		!p.session.HasSynchronizations()
}

func (p *SessionProxy) setIdle(v bool) {
	if p.idle == v {
		return
	}
	p.idle = v
	p.log.Debug("proxy.idle", slog.Bool("idle", v))
	p.idleChanged.Emit(v)
}

// raiseIdleIfQuiet flips idle to true when nothing keeps the proxy busy.
func (p *SessionProxy) raiseIdleIfQuiet() {
	if !p.idle && p.computeIdle() {
		p.setIdle(true)
	}
}

func removeUserRef(list []*users.User, u *users.User) []*users.User {
	for i, cand := range list {
		if cand == u {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

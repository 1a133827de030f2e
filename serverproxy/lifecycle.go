package serverproxy

import (
	"log/slog"

	"github.com/quillmesh/collab-server-go/sessions"
	"github.com/quillmesh/collab-server-go/transport"
	"github.com/quillmesh/collab-server-go/users"
	"github.com/quillmesh/collab-server-go/wire"
)

// SubscribeTo subscribes conn to the session. seqID must be unique for
// conn within the proxy's lifetime; replies to the peer's requests carry
// "{seqID}/{seq}" correlation tokens.
//
// With synchronize set, the full session state is pushed to conn inside
// the subscription group, so no group change is needed afterwards.
// synchronize must be false when the session is not yet running; that
// form subscribes the synchronizing peer itself during bring-up.
func (p *SessionProxy) SubscribeTo(conn transport.Connection, seqID uint, synchronize bool) error {
	if p.closed || p.group == nil {
		return ErrProxyClosed
	}
	if p.findSubscription(conn) != nil {
		return ErrAlreadySubscribed
	}
	if p.session.Status() != sessions.StatusRunning && synchronize {
		return ErrSessionNotRunning
	}

	p.group.AddMember(conn)
	p.emitAddSubscription(SubscriptionEvent{Connection: conn, SeqID: seqID})

	if synchronize {
		return p.session.SynchronizeTo(p.group, conn)
	}
	return nil
}

// Unsubscribe removes a subscribed connection. An in-progress
// synchronization to the peer is cancelled; otherwise the peer is told
// the session is going away with a session-close frame. Unsubscribing
// while the session itself is synchronizing is not supported.
func (p *SessionProxy) Unsubscribe(conn transport.Connection) error {
	if p.closed {
		return ErrProxyClosed
	}
	if p.session.Status() != sessions.StatusRunning {
		return ErrSessionNotRunning
	}
	s := p.findSubscription(conn)
	if s == nil {
		return ErrNotSubscribed
	}
	p.dropSubscription(s)
	return nil
}

// dropSubscription notifies the peer and removes it from the transport
// group. The member-removed cascade (when still connected) performs the
// registry teardown.
func (p *SessionProxy) dropSubscription(s *subscription) {
	// Once the synchronization awaits its ack it cannot be cancelled;
	// the peer will reach running state and must be told to close.
	if p.session.SynchronizationStatus(s.conn) != sessions.SyncInProgress {
		p.group.SendTo(s.conn, wire.NewFrame("session-close"))
	} else {
		p.session.CancelSynchronization(s.conn)
	}
	p.group.RemoveMember(s.conn)
}

// emitAddSubscription runs the add-subscription listeners and then the
// default handler that records the subscription.
func (p *SessionProxy) emitAddSubscription(ev SubscriptionEvent) {
	p.addSubscription.Emit(ev)
	p.addSubscriptionDefault(ev)
}

func (p *SessionProxy) addSubscriptionDefault(ev SubscriptionEvent) {
	p.subscriptions = append(p.subscriptions, &subscription{
		conn:  ev.Connection,
		seqID: ev.SeqID,
	})
	p.setIdle(false)
	p.log.Info("subscription.add",
		slog.String("conn", ev.Connection.ID()),
		slog.Uint64("seq_id", uint64(ev.SeqID)),
	)
}

// emitRemoveSubscription runs the remove-subscription listeners and then
// the default teardown handler.
func (p *SessionProxy) emitRemoveSubscription(conn transport.Connection) {
	p.removeSubscription.Emit(conn)
	p.removeSubscriptionDefault(conn)
}

func (p *SessionProxy) removeSubscriptionDefault(conn transport.Connection) {
	s := p.findSubscription(conn)
	if s == nil {
		return
	}

	// Drain loop: the status observer removes each user from s.users.
	for len(s.users) > 0 {
		u := s.users[0]
		u.SetStatus(users.StatusUnavailable)
		if len(s.users) > 0 && s.users[0] == u {
			// Observer did not detach the user; drop it to guarantee
			// progress.
			s.users = s.users[1:]
			p.unwatchUserStatus(u)
		}
	}

	for i, cand := range p.subscriptions {
		if cand == s {
			p.subscriptions = append(p.subscriptions[:i:i], p.subscriptions[i+1:]...)
			break
		}
	}
	p.raiseIdleIfQuiet()
	p.log.Info("subscription.remove", slog.String("conn", conn.ID()))
}

// memberRemoved reacts to the transport dropping a connection from the
// group. The leaving peer is unreachable, so only the remaining
// subscribers are told its users became unavailable; the state change
// itself happens in the remove-subscription default handler.
func (p *SessionProxy) memberRemoved(conn transport.Connection) {
	s := p.findSubscription(conn)
	if s == nil {
		return
	}

	for _, u := range append([]*users.User(nil), s.users...) {
		f := wire.NewFrame("user-status-change")
		f.SetUintAttr("id", u.ID())
		f.SetAttr("status", users.StatusUnavailable.String())
		p.session.SendToSubscriptions(f)
	}

	p.emitRemoveSubscription(conn)
}

// sessionClosed tears the proxy down when the session shuts down. The
// member-removed observer is detached first so that unsubscribing the
// remaining peers does not re-enter the cascade and emit user-status
// frames nobody will receive; the remove-subscription event still fires
// for local observers.
func (p *SessionProxy) sessionClosed() {
	if p.detachMemberRemoved != nil {
		p.detachMemberRemoved()
		p.detachMemberRemoved = nil
	}

	for len(p.subscriptions) > 0 {
		s := p.subscriptions[0]
		p.dropSubscription(s)
		p.emitRemoveSubscription(s.conn)
		if len(p.subscriptions) > 0 && p.subscriptions[0] == s {
			p.subscriptions = p.subscriptions[1:]
		}
	}

	for len(p.localUsers) > 0 {
		u := p.localUsers[0]
		u.SetStatus(users.StatusUnavailable)
		if len(p.localUsers) > 0 && p.localUsers[0] == u {
			p.localUsers = p.localUsers[1:]
			p.unwatchUserStatus(u)
		}
	}

	// Released last so no frame emission above hits a dead group.
	p.group.Close()
	p.group = nil
	p.log.Info("proxy.session_closed")
}

func (p *SessionProxy) syncBegan(transport.Group, transport.Connection) {
	p.setIdle(false)
}

func (p *SessionProxy) syncCompleted(transport.Connection) {
	p.raiseIdleIfQuiet()
}

// syncFailed kicks a subscribed peer whose synchronization broke out of
// the group, letting the member-removed cascade clean up, then settles
// idle.
func (p *SessionProxy) syncFailed(conn transport.Connection, err error) {
	if p.session.Status() == sessions.StatusRunning && p.group != nil {
		if p.findSubscription(conn) != nil {
			p.log.Warn("sync.fail",
				slog.String("conn", conn.ID()),
				slog.String("err", err.Error()),
			)
			p.group.RemoveMember(conn)
		}
	}
	p.raiseIdleIfQuiet()
}

// Close disposes the proxy: the session is closed if it is not already
// (running the teardown above), every observer is detached, and held
// references are released. A closed proxy rejects all operations.
func (p *SessionProxy) Close() {
	if p.closed {
		return
	}

	if p.session.Status() != sessions.StatusClosed {
		p.session.Close()
	}
	p.closed = true

	for _, d := range p.detach {
		d()
	}
	p.detach = nil
	if p.detachMemberRemoved != nil {
		p.detachMemberRemoved()
		p.detachMemberRemoved = nil
	}
	for u := range p.statusWatch {
		p.statusWatch[u]()
		delete(p.statusWatch, u)
	}

	p.localUsers = nil
	p.subscriptions = nil
	p.io = nil
	p.log.Info("proxy.close")
}

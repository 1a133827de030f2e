package serverproxy

import (
	"fmt"
	"log/slog"

	"github.com/quillmesh/collab-server-go/sessions"
	"github.com/quillmesh/collab-server-go/transport"
	"github.com/quillmesh/collab-server-go/users"
	"github.com/quillmesh/collab-server-go/wire"
)

// makeSeq builds the reply sequence token for an inbound frame. A frame
// without a seq attribute yields an empty token; a malformed one is a
// protocol error surfaced to the caller.
func (p *SessionProxy) makeSeq(conn transport.Connection, frame *wire.Frame) (string, error) {
	seqNum, ok, err := frame.UintAttr("seq")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	s := p.findSubscription(conn)
	if s == nil {
		// Frames only arrive through the group, so the sender is
		// subscribed; a miss means the subscription raced away.
		return "", nil
	}
	return fmt.Sprintf("%d/%d", s.seqID, seqNum), nil
}

// performUserJoin runs the join pipeline. conn is nil for local joins;
// seq, when non-empty, is echoed on the resulting broadcast frame.
//
// The pipeline validates and completes the property bag, consults the
// reject-join listeners, applies the join to the session, broadcasts the
// user-join or user-rejoin frame, and registers the user with its
// subscription or the local user list.
func (p *SessionProxy) performUserJoin(conn transport.Connection, seq string, props users.PropSet) (*users.User, error) {
	nameVal, ok := props.Lookup("name")
	if !ok {
		return nil, wire.Errorf(
			wire.DomainRequest, wire.CodeNoSuchAttribute,
			"request does not contain required attribute %q", "name",
		)
	}
	name := nameVal.String()

	// An unavailable user with the requested name is resurrected instead
	// of creating a fresh record.
	rejoin := p.session.Users().LookupByName(name)
	if rejoin != nil && rejoin.Status() != users.StatusUnavailable {
		return nil, wire.Errorf(
			wire.DomainUser, wire.CodeNameInUse,
			"name %q already in use", name,
		)
	}

	// The server chooses IDs; requests must not carry one.
	if props.Has("id") {
		return nil, wire.Errorf(
			wire.DomainRequest, wire.CodeInvalidAttribute,
			"user ID must not be provided in a join request",
		)
	}
	if rejoin != nil {
		props.Set("id", users.UintValue(rejoin.ID()))
	} else {
		props.Set("id", users.UintValue(p.userIDCounter))
	}

	if st, hasStatus := props.Lookup("status"); hasStatus {
		if st.Status() == users.StatusUnavailable {
			return nil, wire.Errorf(
				wire.DomainRequest, wire.CodeInvalidAttribute,
				"%q attribute is %q in user join request", "status", "unavailable",
			)
		}
	} else {
		props.Set("status", users.StatusValue(users.StatusActive))
	}

	if conn == nil {
		props.Set("flags", users.FlagsValue(users.FlagLocal))
	} else {
		props.Set("flags", users.FlagsValue(0))
	}
	props.Set("connection", users.ConnectionValue(conn))

	// Exclude the rejoin candidate so its own name and ID do not count
	// as conflicts.
	if err := p.session.ValidateUserProps(props, rejoin); err != nil {
		return nil, err
	}

	if p.rejectUserJoin.Veto(JoinAttempt{Connection: conn, Props: props, Rejoin: rejoin}) {
		p.log.Info("join.reject", slog.String("name", name))
		return nil, wire.Errorf(
			wire.DomainRequest, wire.CodeNotAuthorized,
			"permission denied",
		)
	}

	user := rejoin
	var frame *wire.Frame
	if user == nil {
		var err error
		user, err = p.session.AddUser(props)
		if err != nil {
			return nil, err
		}
		frame = wire.NewFrame("user-join")
	} else {
		// Name and ID are construct-only and unchanged on a rejoin.
		for _, prop := range props {
			switch prop.Name {
			case "name", "id":
			case "status":
				user.SetStatus(prop.Value.Status())
			case "flags":
				user.SetFlags(prop.Value.Flags())
			case "connection":
				user.SetConnection(prop.Value.Connection())
			}
		}
		frame = wire.NewFrame("user-rejoin")
	}

	p.session.SerializeUser(user, frame)
	if seq != "" {
		frame.SetAttr("seq", seq)
	}

	p.watchUserStatus(user)
	p.session.SendToSubscriptions(frame)

	if conn != nil {
		s := p.findSubscription(conn)
		if s != nil && !containsUser(s.users, user) {
			s.users = append(s.users, user)
		}
	} else {
		p.localUsers = append(p.localUsers, user)
		p.setIdle(false)
	}

	p.log.Info("user.join",
		slog.String("name", user.Name()),
		slog.Uint64("id", uint64(user.ID())),
		slog.Bool("rejoin", frame.Name == "user-rejoin"),
		slog.Bool("local", conn == nil),
	)
	return user, nil
}

// JoinUser joins a user directly at the server, with no originating
// connection. The returned request of type "user-join" is completed
// synchronously with the new or rejoined user, or with the error; fn,
// when non-nil, is invoked with the same result.
func (p *SessionProxy) JoinUser(props users.PropSet, fn func(*users.User, error)) *sessions.Request {
	req := &sessions.Request{Type: "user-join"}
	if p.closed {
		req.Err = ErrProxyClosed
	} else {
		req.User, req.Err = p.performUserJoin(nil, "", props.Clone())
	}
	if fn != nil {
		fn(req.User, req.Err)
	}
	return req
}

// watchUserStatus attaches the one-shot unavailability observer to a user
// the proxy tracks.
func (p *SessionProxy) watchUserStatus(u *users.User) {
	if _, watching := p.statusWatch[u]; watching {
		return
	}
	p.statusWatch[u] = u.OnStatusChanged(func(st users.Status) {
		if st != users.StatusUnavailable {
			return
		}
		p.userBecameUnavailable(u)
	})
}

func (p *SessionProxy) unwatchUserStatus(u *users.User) {
	if cancel, ok := p.statusWatch[u]; ok {
		cancel()
		delete(p.statusWatch, u)
	}
}

// userBecameUnavailable drops an unavailable user from the proxy's
// bookkeeping: off its subscription with the connection field cleared, or
// off the local user list with an idle check. The observer is one-shot.
func (p *SessionProxy) userBecameUnavailable(u *users.User) {
	if conn := u.Connection(); conn != nil {
		if s := p.findSubscription(conn); s != nil {
			s.users = removeUserRef(s.users, u)
		}
		u.SetConnection(nil)
	} else {
		p.localUsers = removeUserRef(p.localUsers, u)
		p.raiseIdleIfQuiet()
	}
	p.unwatchUserStatus(u)
}

// userAdded is the user-table add-user observer. It keeps the ID counter
// ahead of every allocated ID, and during session bring-up it enforces
// that available users belong to the subscribed synchronizing connection.
func (p *SessionProxy) userAdded(u *users.User) {
	if p.userIDCounter <= u.ID() {
		p.userIDCounter = u.ID() + 1
	}

	if p.session.Status() != sessions.StatusSynchronizing {
		return
	}
	if u.Status() == users.StatusUnavailable {
		return
	}

	syncConn := p.session.SyncConnection()
	var s *subscription
	if syncConn != nil {
		s = p.findSubscription(syncConn)
	}
	if syncConn == nil || s == nil || u.Connection() == nil || u.Connection().ID() != syncConn.ID() {
		// Protocol violation: while synchronizing, available users must
		// arrive through the synchronizing connection.
		p.log.Warn("sync.user.violation",
			slog.String("name", u.Name()),
			slog.Uint64("id", uint64(u.ID())),
		)
		p.session.Close()
		return
	}

	s.users = append(s.users, u)
	p.watchUserStatus(u)
}

func containsUser(list []*users.User, u *users.User) bool {
	for _, cand := range list {
		if cand == u {
			return true
		}
	}
	return false
}

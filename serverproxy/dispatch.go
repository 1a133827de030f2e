package serverproxy

import (
	"log/slog"

	"github.com/quillmesh/collab-server-go/sessions"
	"github.com/quillmesh/collab-server-go/transport"
	"github.com/quillmesh/collab-server-go/wire"
)

// Received implements transport.FrameHandler. Frames from a connection
// with an ongoing synchronization go straight to the session. Otherwise
// the proxy handles its own elements (user-join, session-unsubscribe) and
// forwards the rest. Failures of proxy-owned requests are answered with a
// request-failed frame to the sender only; proxy-owned messages are never
// relayed.
func (p *SessionProxy) Received(conn transport.Connection, frame *wire.Frame) transport.Scope {
	if p.closed {
		return transport.ScopePointToPoint
	}

	if p.session.SynchronizationStatus(conn) != sessions.SyncNone {
		return p.session.Receive(conn, frame)
	}

	var err error
	switch frame.Name {
	case "user-join":
		err = p.handleUserJoin(conn, frame)
	case "session-unsubscribe":
		err = p.handleSessionUnsubscribe(conn, frame)
	default:
		return p.session.Receive(conn, frame)
	}

	if err != nil {
		seq, seqErr := p.makeSeq(conn, frame)
		if seqErr != nil {
			seq = ""
		}
		p.group.SendTo(conn, wire.FailureFrame(err, seq))
		p.log.Debug("request.fail",
			slog.String("element", frame.Name),
			slog.String("err", err.Error()),
		)
	}
	return transport.ScopePointToPoint
}

func (p *SessionProxy) handleUserJoin(conn transport.Connection, frame *wire.Frame) error {
	seq, err := p.makeSeq(conn, frame)
	if err != nil {
		return err
	}
	props, err := p.session.ParseUserProps(conn, frame)
	if err != nil {
		return err
	}
	_, err = p.performUserJoin(conn, seq, props)
	return err
}

func (p *SessionProxy) handleSessionUnsubscribe(conn transport.Connection, frame *wire.Frame) error {
	if p.findSubscription(conn) == nil {
		return ErrNotSubscribed
	}
	// Dropping the member triggers the member-removed cascade, which
	// performs the actual teardown.
	p.group.RemoveMember(conn)
	return nil
}

package memorygroup

import (
	"testing"

	"github.com/quillmesh/collab-server-go/transport"
	"github.com/quillmesh/collab-server-go/wire"
)

type scopeRecorder struct {
	frames []*wire.Frame
	conns  []transport.Connection
	scope  transport.Scope
}

func (r *scopeRecorder) Received(conn transport.Connection, frame *wire.Frame) transport.Scope {
	r.conns = append(r.conns, conn)
	r.frames = append(r.frames, frame)
	return r.scope
}

func TestMembershipAndDelivery(t *testing.T) {
	g := New("session/doc")
	a := NewConn()
	b := NewConn()

	g.AddMember(a)
	g.AddMember(a) // idempotent
	g.AddMember(b)

	if !g.IsMember(a) || !g.IsMember(b) {
		t.Fatal("members not registered")
	}
	if len(g.Members()) != 2 {
		t.Fatalf("member count = %d", len(g.Members()))
	}

	g.Broadcast(wire.NewFrame("hello"))
	if len(a.Received()) != 1 || len(b.Received()) != 1 {
		t.Fatal("broadcast did not reach every member")
	}

	g.SendTo(a, wire.NewFrame("direct"))
	if len(a.Received()) != 2 || len(b.Received()) != 1 {
		t.Fatal("point-to-point send leaked")
	}
	if a.LastReceived().Name != "direct" {
		t.Fatalf("last frame = %q", a.LastReceived().Name)
	}
}

func TestSendToNonMemberIsDropped(t *testing.T) {
	g := New("g")
	stranger := NewConn()
	g.SendTo(stranger, wire.NewFrame("x"))
	if len(stranger.Received()) != 0 {
		t.Fatal("non-member received a frame")
	}
}

func TestRemoveMemberNotifiesAfterDrop(t *testing.T) {
	g := New("g")
	a := NewConn()
	b := NewConn()
	g.AddMember(a)
	g.AddMember(b)

	var removed []transport.Connection
	g.OnMemberRemoved(func(c transport.Connection) {
		removed = append(removed, c)
		// The member is already gone: frames emitted by the cascade must
		// not reach it.
		g.Broadcast(wire.NewFrame("cascade"))
	})

	g.RemoveMember(a)

	if len(removed) != 1 || removed[0].ID() != a.ID() {
		t.Fatalf("removed = %v", removed)
	}
	if len(a.Received()) != 0 {
		t.Fatal("departed member still received frames")
	}
	if len(b.Received()) != 1 {
		t.Fatal("remaining member missed the cascade frame")
	}

	g.RemoveMember(a) // no-op, no second notification
	if len(removed) != 1 {
		t.Fatal("double removal notified twice")
	}
}

func TestReceiveRoutesToTarget(t *testing.T) {
	g := New("g")
	a := NewConn()
	g.AddMember(a)

	rec := &scopeRecorder{scope: transport.ScopeGroup}
	g.SetTarget(rec)

	scope := g.Receive(a, wire.NewFrame("user-join"))
	if scope != transport.ScopeGroup {
		t.Fatalf("scope = %v", scope)
	}
	if len(rec.frames) != 1 || rec.frames[0].Name != "user-join" {
		t.Fatalf("target saw %v", rec.frames)
	}

	stranger := NewConn()
	if g.Receive(stranger, wire.NewFrame("x")); len(rec.frames) != 1 {
		t.Fatal("frame from non-member reached the target")
	}
}

func TestMirrorSkipsBroadcastTaps(t *testing.T) {
	g := New("g")
	a := NewConn()
	g.AddMember(a)

	taps := 0
	g.OnBroadcast(func(*wire.Frame) { taps++ })

	g.Broadcast(wire.NewFrame("local"))
	g.Mirror(wire.NewFrame("remote"))

	if taps != 1 {
		t.Fatalf("taps = %d, mirror must not republish", taps)
	}
	if len(a.Received()) != 2 {
		t.Fatal("mirror did not deliver to members")
	}
}

func TestClosedGroupDiscards(t *testing.T) {
	g := New("g")
	a := NewConn()
	g.AddMember(a)
	g.Close()

	g.Broadcast(wire.NewFrame("x"))
	g.SendTo(a, wire.NewFrame("y"))
	if len(a.Received()) != 0 {
		t.Fatal("closed group delivered frames")
	}
	if g.IsMember(a) {
		t.Fatal("closed group kept members")
	}
}

// Package users holds the session user model: user records with their
// status lifecycle, the heterogeneous property bag that travels through
// the join pipeline, and the session user table.
package users

import (
	"fmt"

	"github.com/quillmesh/collab-server-go/internal/signals"
	"github.com/quillmesh/collab-server-go/transport"
)

// Status is a user's availability within the session.
type Status int

const (
	StatusActive Status = iota
	StatusInactive
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusUnavailable:
		return "unavailable"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus maps the wire representation back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "active":
		return StatusActive, nil
	case "inactive":
		return StatusInactive, nil
	case "unavailable":
		return StatusUnavailable, nil
	}
	return 0, fmt.Errorf("unknown user status %q", s)
}

// Flags is a bitset of user traits.
type Flags uint

const (
	// FlagLocal marks a user joined directly at the server, with no
	// originating peer connection.
	FlagLocal Flags = 1 << iota
)

// User is one participant of a session. User records are owned by the
// session's user table and survive across rejoins: a user that
// disconnects becomes unavailable but keeps its ID and name.
//
// Users are not safe for concurrent use; all mutation happens on the
// proxy's event loop.
type User struct {
	id   uint
	name string

	status Status
	flags  Flags
	conn   transport.Connection

	statusChanged signals.Hub[Status]
}

// NewUser constructs a user record. ID and name are fixed for the record's
// lifetime.
func NewUser(id uint, name string, status Status, flags Flags, conn transport.Connection) *User {
	return &User{id: id, name: name, status: status, flags: flags, conn: conn}
}

func (u *User) ID() uint                        { return u.id }
func (u *User) Name() string                    { return u.name }
func (u *User) Status() Status                  { return u.status }
func (u *User) Flags() Flags                    { return u.flags }
func (u *User) Connection() transport.Connection { return u.conn }

// SetStatus updates the user's status and notifies observers on an actual
// transition. Setting the current status again is a no-op.
func (u *User) SetStatus(s Status) {
	if u.status == s {
		return
	}
	u.status = s
	u.statusChanged.Emit(s)
}

// SetFlags replaces the user's flag set.
func (u *User) SetFlags(f Flags) { u.flags = f }

// SetConnection replaces the connection the user is reachable through.
// A nil connection marks the user as detached.
func (u *User) SetConnection(c transport.Connection) { u.conn = c }

// OnStatusChanged registers an observer for status transitions and
// returns its detach function. Observers may detach themselves while a
// notification is in flight.
func (u *User) OnStatusChanged(fn func(Status)) (cancel func()) {
	return u.statusChanged.Connect(fn)
}

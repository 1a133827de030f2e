package users

import (
	"fmt"

	"github.com/quillmesh/collab-server-go/internal/signals"
)

// Table is a session's user table. Records are added once and never
// removed; disconnected users stay in the table as unavailable so that a
// later rejoin can resurrect them under the same ID.
type Table struct {
	order  []*User
	byID   map[uint]*User
	byName map[string]*User

	added signals.Hub[*User]
}

// NewTable returns an empty user table.
func NewTable() *Table {
	return &Table{
		byID:   make(map[uint]*User),
		byName: make(map[string]*User),
	}
}

// Add inserts a user record and notifies add-user observers. ID and name
// must be unused.
func (t *Table) Add(u *User) error {
	if _, exists := t.byID[u.ID()]; exists {
		return fmt.Errorf("user id %d already in table", u.ID())
	}
	if _, exists := t.byName[u.Name()]; exists {
		return fmt.Errorf("user name %q already in table", u.Name())
	}
	t.order = append(t.order, u)
	t.byID[u.ID()] = u
	t.byName[u.Name()] = u
	t.added.Emit(u)
	return nil
}

// LookupByID returns the user with the given ID, or nil.
func (t *Table) LookupByID(id uint) *User { return t.byID[id] }

// LookupByName returns the user with the given name regardless of its
// status, or nil.
func (t *Table) LookupByName(name string) *User { return t.byName[name] }

// ForEach visits every user in insertion order.
func (t *Table) ForEach(fn func(*User)) {
	for _, u := range append([]*User(nil), t.order...) {
		fn(u)
	}
}

// Len returns the number of records in the table.
func (t *Table) Len() int { return len(t.order) }

// OnAddUser registers an observer invoked after each insertion.
func (t *Table) OnAddUser(fn func(*User)) (cancel func()) {
	return t.added.Connect(fn)
}

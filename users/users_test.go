package users

import "testing"

func TestStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusInactive, StatusUnavailable} {
		back, err := ParseStatus(s.String())
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", s.String(), err)
		}
		if back != s {
			t.Fatalf("ParseStatus(%q) = %v", s.String(), back)
		}
	}
	if _, err := ParseStatus("away"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestSetStatusNotifiesOnEdgeOnly(t *testing.T) {
	u := NewUser(1, "alice", StatusActive, 0, nil)

	var seen []Status
	u.OnStatusChanged(func(s Status) { seen = append(seen, s) })

	u.SetStatus(StatusActive) // no edge
	u.SetStatus(StatusUnavailable)
	u.SetStatus(StatusUnavailable) // no edge

	if len(seen) != 1 || seen[0] != StatusUnavailable {
		t.Fatalf("notifications = %v", seen)
	}
}

func TestStatusObserverMayDetachDuringNotify(t *testing.T) {
	u := NewUser(1, "alice", StatusActive, 0, nil)

	calls := 0
	var off func()
	off = u.OnStatusChanged(func(Status) {
		calls++
		off()
	})

	u.SetStatus(StatusInactive)
	u.SetStatus(StatusActive)

	if calls != 1 {
		t.Fatalf("one-shot observer fired %d times", calls)
	}
}

func TestPropSetSetReplacesAndAppends(t *testing.T) {
	var ps PropSet
	ps.Set("name", StringValue("alice"))
	ps.Set("status", StatusValue(StatusInactive))
	ps.Set("name", StringValue("bob"))

	if len(ps) != 2 {
		t.Fatalf("expected 2 props, got %d", len(ps))
	}
	if v, ok := ps.Lookup("name"); !ok || v.String() != "bob" {
		t.Fatalf("name = %q, ok = %v", v.String(), ok)
	}
	if v, _ := ps.Lookup("status"); v.Status() != StatusInactive {
		t.Fatalf("status = %v", v.Status())
	}
	if ps.Has("id") {
		t.Fatal("id should be absent")
	}
}

func TestPropSetCloneIsIndependent(t *testing.T) {
	var ps PropSet
	ps.Set("name", StringValue("alice"))

	clone := ps.Clone()
	clone.Set("name", StringValue("bob"))
	clone.Set("id", UintValue(4))

	if v, _ := ps.Lookup("name"); v.String() != "alice" {
		t.Fatal("clone mutation leaked into original")
	}
	if ps.Has("id") {
		t.Fatal("clone append leaked into original")
	}
}

func TestTableAddAndLookup(t *testing.T) {
	tbl := NewTable()

	var added []*User
	tbl.OnAddUser(func(u *User) { added = append(added, u) })

	alice := NewUser(1, "alice", StatusActive, 0, nil)
	if err := tbl.Add(alice); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if tbl.LookupByID(1) != alice || tbl.LookupByName("alice") != alice {
		t.Fatal("lookup did not return the added user")
	}
	if len(added) != 1 || added[0] != alice {
		t.Fatalf("add-user observer calls: %v", added)
	}

	if err := tbl.Add(NewUser(1, "other", StatusActive, 0, nil)); err == nil {
		t.Fatal("duplicate ID must be rejected")
	}
	if err := tbl.Add(NewUser(2, "alice", StatusActive, 0, nil)); err == nil {
		t.Fatal("duplicate name must be rejected")
	}
	if tbl.Len() != 1 {
		t.Fatalf("table grew on rejected inserts: %d", tbl.Len())
	}
}

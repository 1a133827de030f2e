package users

import "github.com/quillmesh/collab-server-go/transport"

// Kind discriminates the value types a join property may carry.
type Kind int

const (
	KindString Kind = iota
	KindUint
	KindStatus
	KindFlags
	KindConnection
)

// Value is a sum over the small set of property types the join pipeline
// understands. The zero Value is an empty string.
type Value struct {
	kind   Kind
	str    string
	num    uint
	status Status
	flags  Flags
	conn   transport.Connection
}

func StringValue(s string) Value { return Value{kind: KindString, str: s} }
func UintValue(v uint) Value     { return Value{kind: KindUint, num: v} }
func StatusValue(s Status) Value { return Value{kind: KindStatus, status: s} }
func FlagsValue(f Flags) Value   { return Value{kind: KindFlags, flags: f} }
func ConnectionValue(c transport.Connection) Value {
	return Value{kind: KindConnection, conn: c}
}

func (v Value) Kind() Kind                       { return v.kind }
func (v Value) String() string                   { return v.str }
func (v Value) Uint() uint                       { return v.num }
func (v Value) Status() Status                   { return v.status }
func (v Value) Flags() Flags                     { return v.flags }
func (v Value) Connection() transport.Connection { return v.conn }

// Prop is one named property of a proposed user.
type Prop struct {
	Name  string
	Value Value
}

// PropSet is the ordered property bag passed through the join pipeline.
// The pipeline both reads client-supplied entries (name, status) and
// fills server-chosen ones (id, flags, connection).
type PropSet []Prop

// Lookup returns the named value and whether it is present.
func (ps PropSet) Lookup(name string) (Value, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p.Value, true
		}
	}
	return Value{}, false
}

// Has reports whether the named property is present.
func (ps PropSet) Has(name string) bool {
	_, ok := ps.Lookup(name)
	return ok
}

// Set replaces the named property or appends it.
func (ps *PropSet) Set(name string, v Value) {
	for i, p := range *ps {
		if p.Name == name {
			(*ps)[i].Value = v
			return
		}
	}
	*ps = append(*ps, Prop{Name: name, Value: v})
}

// Clone returns an independent copy of the bag.
func (ps PropSet) Clone() PropSet {
	return append(PropSet(nil), ps...)
}

// Package wire models the XML frames exchanged within a session's
// subscription group, along with the protocol error vocabulary carried by
// request-failed replies.
package wire

import (
	"fmt"
	"strconv"
)

// Attr is a single XML attribute. Attribute order is preserved so that
// emitted frames are deterministic.
type Attr struct {
	Name  string
	Value string
}

// Frame is one XML element of the session protocol. The root element name
// selects the handler; attributes carry the payload. Children are used by
// synchronization bursts.
type Frame struct {
	Name     string
	Attrs    []Attr
	Children []*Frame
	Text     string
}

// NewFrame returns an empty frame with the given element name.
func NewFrame(name string) *Frame {
	return &Frame{Name: name}
}

// Attr returns the named attribute value and whether it is present.
func (f *Frame) Attr(name string) (string, bool) {
	for _, a := range f.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets the named attribute, replacing an existing value.
func (f *Frame) SetAttr(name, value string) {
	for i, a := range f.Attrs {
		if a.Name == name {
			f.Attrs[i].Value = value
			return
		}
	}
	f.Attrs = append(f.Attrs, Attr{Name: name, Value: value})
}

// SetUintAttr sets the named attribute to the decimal rendering of v.
func (f *Frame) SetUintAttr(name string, v uint) {
	f.SetAttr(name, strconv.FormatUint(uint64(v), 10))
}

// UintAttr parses the named attribute as an unsigned decimal integer.
// A missing attribute yields ok == false with a nil error; a present but
// malformed attribute yields a parse-domain protocol error.
func (f *Frame) UintAttr(name string) (v uint, ok bool, err error) {
	raw, present := f.Attr(name)
	if !present {
		return 0, false, nil
	}
	n, perr := strconv.ParseUint(raw, 10, 32)
	if perr != nil {
		return 0, false, Errorf(
			DomainParse,
			CodeInvalidNumber,
			"attribute %q contains an invalid number: %q", name, raw,
		)
	}
	return uint(n), true, nil
}

// AddChild appends a child element and returns it.
func (f *Frame) AddChild(name string) *Frame {
	c := NewFrame(name)
	f.Children = append(f.Children, c)
	return c
}

// Child returns the first child with the given element name, or nil.
func (f *Frame) Child(name string) *Frame {
	for _, c := range f.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (f *Frame) String() string {
	b, err := Marshal(f)
	if err != nil {
		return fmt.Sprintf("<%s !%v>", f.Name, err)
	}
	return string(b)
}

// Package signals provides small listener-list primitives used to model
// the proxy's extensible events: an ordered fan-out hub and a vetoing
// gate with short-circuit boolean accumulation.
//
// The primitives are not safe for concurrent use. All proxy state is
// mutated from a single event loop, and listeners are expected to run on
// that loop as well.
package signals

type entry[T any] struct {
	id int
	fn func(T)
}

// Hub is an ordered list of listeners for a single event type. Emit
// snapshots the list before dispatch so listeners may connect or
// disconnect (including themselves) while an emission is in flight.
type Hub[T any] struct {
	nextID  int
	entries []entry[T]
}

// Connect appends fn to the listener list and returns a function that
// removes it again. Calling the returned function more than once is
// harmless.
func (h *Hub[T]) Connect(fn func(T)) (disconnect func()) {
	h.nextID++
	id := h.nextID
	h.entries = append(h.entries, entry[T]{id: id, fn: fn})
	return func() {
		for i, e := range h.entries {
			if e.id == id {
				h.entries = append(h.entries[:i:i], h.entries[i+1:]...)
				return
			}
		}
	}
}

// Emit invokes every connected listener in connection order.
func (h *Hub[T]) Emit(ev T) {
	snapshot := append([]entry[T](nil), h.entries...)
	for _, e := range snapshot {
		e.fn(ev)
	}
}

// Len reports the number of connected listeners.
func (h *Hub[T]) Len() int { return len(h.entries) }

type gateEntry[T any] struct {
	id int
	fn func(T) bool
}

// Gate is a listener list whose emission accumulates a boolean veto: the
// result is true as soon as any listener returns true, and remaining
// listeners are not consulted. With no listeners connected the result is
// false.
type Gate[T any] struct {
	nextID  int
	entries []gateEntry[T]
}

// Connect appends fn and returns its disconnect function.
func (g *Gate[T]) Connect(fn func(T) bool) (disconnect func()) {
	g.nextID++
	id := g.nextID
	g.entries = append(g.entries, gateEntry[T]{id: id, fn: fn})
	return func() {
		for i, e := range g.entries {
			if e.id == id {
				g.entries = append(g.entries[:i:i], g.entries[i+1:]...)
				return
			}
		}
	}
}

// Veto runs the listeners in connection order and reports whether any of
// them vetoed the event.
func (g *Gate[T]) Veto(ev T) bool {
	snapshot := append([]gateEntry[T](nil), g.entries...)
	for _, e := range snapshot {
		if e.fn(ev) {
			return true
		}
	}
	return false
}

// Len reports the number of connected listeners.
func (g *Gate[T]) Len() int { return len(g.entries) }

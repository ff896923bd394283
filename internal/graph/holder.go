package graph

import "sync/atomic"

// Holder publishes the current graph version. Publication is a single
// atomic pointer swap, so readers see either the old or the new graph,
// never a mix.
type Holder struct {
	current atomic.Pointer[Graph]
}

// NewHolder returns a Holder publishing g (Empty() when nil).
func NewHolder(g *Graph) *Holder {
	if g == nil {
		g = Empty()
	}
	h := &Holder{}
	h.current.Store(g)
	return h
}

// Load returns the current graph.
func (h *Holder) Load() *Graph {
	return h.current.Load()
}

// Publish makes g current and returns the previous version.
func (h *Holder) Publish(g *Graph) *Graph {
	return h.current.Swap(g)
}

package cluster

import (
	"fmt"
	"sort"

	track "github.com/milosgajdos/go-track"
)

// Edge is one endpoint's view of a cluster graph edge: the sepset shared
// with the neighbour and the current sepset belief, the last marginal
// passed over the edge in either direction. Both endpoints hold the same
// belief; sends keep them in sync.
type Edge struct {
	// sepset is the sorted intersection of the endpoint scopes
	sepset track.Vars
	// msg is the current sepset belief
	msg track.Factor
}

// Sepset returns the edge sepset.
func (e *Edge) Sepset() track.Vars {
	return e.sepset
}

// Message returns a copy of the current sepset belief.
func (e *Edge) Message() track.Factor {
	return e.msg.Copy()
}

func (e *Edge) clone() *Edge {
	return &Edge{sepset: e.sepset.Clone(), msg: e.msg.Copy()}
}

// Node is a cluster graph node: an identity tag, a factor, the node's edge
// endpoints keyed by neighbour node id, and an optional cached factor.
// Identity 0 is reserved for the clutter cluster.
type Node struct {
	// id is the stable graph key, assigned by the graph
	id int
	// identity is the target tag
	identity int
	// factor is the cluster factor
	factor track.Factor
	// edges maps neighbour node ids to edge endpoints
	edges map[int]*Edge
	// cached is the factor cached by the last propagation sweep
	cached track.Factor
}

// NewNode creates a new cluster node with the given target identity and
// factor and returns it.
func NewNode(identity int, factor track.Factor) *Node {
	return &Node{
		identity: identity,
		factor:   factor.Copy(),
		edges:    make(map[int]*Edge),
	}
}

// ID returns the node graph id.
func (n *Node) ID() int {
	return n.id
}

// Identity returns the node target identity.
func (n *Node) Identity() int {
	return n.identity
}

// Factor returns the node factor.
func (n *Node) Factor() track.Factor {
	return n.factor
}

// SetFactor replaces the node factor.
func (n *Node) SetFactor(f track.Factor) {
	n.factor = f
}

// Vars returns the node factor scope.
func (n *Node) Vars() track.Vars {
	return n.factor.Vars()
}

// Marginalize marginalizes the node factor onto keep.
func (n *Node) Marginalize(keep track.Vars) (track.Factor, error) {
	return n.factor.Marginalize(keep)
}

// Absorb multiplies the given message into the node factor in place.
func (n *Node) Absorb(msg track.Factor) error {
	f, err := n.factor.Absorb(msg)
	if err != nil {
		return err
	}
	n.factor = f

	return nil
}

// Cancel divides the given message out of the node factor in place.
func (n *Node) Cancel(msg track.Factor) error {
	f, err := n.factor.Cancel(msg)
	if err != nil {
		return err
	}
	n.factor = f

	return nil
}

// AddEdge records an edge endpoint to the given neighbour with the given
// sepset. If initial is non-nil it seeds the sepset belief, which makes the
// first belief-update cancellation along the edge a no-op; otherwise the
// belief starts vacuous.
func (n *Node) AddEdge(neighbor int, sepset track.Vars, initial track.Factor) {
	msg := initial
	if msg == nil {
		msg = vacuousMessage(sepset)
	} else {
		msg = msg.Copy()
	}

	n.edges[neighbor] = &Edge{sepset: sepset.Clone(), msg: msg}
}

// RemoveEdge removes the edge endpoint to the given neighbour.
func (n *Node) RemoveEdge(neighbor int) {
	delete(n.edges, neighbor)
}

// Sepset returns the sepset shared with the given neighbour.
func (n *Node) Sepset(neighbor int) (track.Vars, error) {
	e, ok := n.edges[neighbor]
	if !ok {
		return nil, fmt.Errorf("no edge to node %d", neighbor)
	}

	return e.sepset.Clone(), nil
}

// ReceivedMessage returns a copy of the sepset belief of the edge to the
// given neighbour.
func (n *Node) ReceivedMessage(neighbor int) (track.Factor, error) {
	e, ok := n.edges[neighbor]
	if !ok {
		return nil, fmt.Errorf("no edge to node %d", neighbor)
	}

	return e.msg.Copy(), nil
}

// LogMessage replaces the sepset belief of the edge to the given neighbour.
func (n *Node) LogMessage(neighbor int, msg track.Factor) error {
	e, ok := n.edges[neighbor]
	if !ok {
		return fmt.Errorf("no edge to node %d", neighbor)
	}
	e.msg = msg.Copy()

	return nil
}

// Neighbors returns the ids of the node neighbours in ascending order.
func (n *Node) Neighbors() []int {
	ids := make([]int, 0, len(n.edges))
	for id := range n.edges {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return ids
}

// CacheFactor caches a copy of the current node factor.
func (n *Node) CacheFactor() {
	n.cached = n.factor.Copy()
}

// CachedFactor returns the cached factor, or nil if none was cached.
func (n *Node) CachedFactor() track.Factor {
	if n.cached == nil {
		return nil
	}

	return n.cached.Copy()
}

// Clone returns a deep copy of the node, preserving its graph id.
func (n *Node) Clone() *Node {
	c := &Node{
		id:       n.id,
		identity: n.identity,
		factor:   n.factor.Copy(),
		edges:    make(map[int]*Edge, len(n.edges)),
	}
	for id, e := range n.edges {
		c.edges[id] = e.clone()
	}
	if n.cached != nil {
		c.cached = n.cached.Copy()
	}

	return c
}

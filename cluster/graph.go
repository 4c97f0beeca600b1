package cluster

import (
	"fmt"
	"sort"

	track "github.com/milosgajdos/go-track"
	"github.com/milosgajdos/go-track/gaussian"
)

// vacuousMessage returns the identity message on the given sepset.
func vacuousMessage(sepset track.Vars) track.Factor {
	return gaussian.NewVacuous(sepset)
}

// Graph is an undirected cluster graph. Nodes live in a flat table keyed by
// a stable id; edges are stored as per-endpoint state on the nodes, which
// keeps ownership acyclic and makes deep copies for snapshotting cheap.
type Graph struct {
	// nodes is the node table
	nodes map[int]*Node
	// next is the next node id
	next int
	// edges counts undirected edges
	edges int
}

// NewGraph creates a new empty cluster graph and returns it.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[int]*Node),
	}
}

// AddNode inserts the node into the graph, assigns it a stable id and
// returns the id.
func (g *Graph) AddNode(n *Node) int {
	n.id = g.next
	g.next++
	g.nodes[n.id] = n

	return n.id
}

// Node returns the node with the given id, or nil if absent.
func (g *Graph) Node(id int) *Node {
	return g.nodes[id]
}

// NodeCount returns the number of graph nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of graph edges.
func (g *Graph) EdgeCount() int {
	return g.edges
}

// AddEdge links nodes v and w with a sepset computed as the sorted
// intersection of their factor scopes. If initial is non-nil it seeds the
// edge sepset belief at both endpoints.
// It returns error wrapping ErrEmptySepset if the scopes are disjoint.
func (g *Graph) AddEdge(v, w int, initial track.Factor) error {
	nv, nw := g.nodes[v], g.nodes[w]
	if nv == nil || nw == nil {
		return fmt.Errorf("unknown nodes %d, %d", v, w)
	}

	sepset := nv.Vars().Intersect(nw.Vars())
	if len(sepset) == 0 {
		return fmt.Errorf("nodes %d and %d share no variables: %w", v, w, track.ErrEmptySepset)
	}

	nv.AddEdge(w, sepset, initial)
	nw.AddEdge(v, sepset, initial)
	g.edges++

	return nil
}

// RemoveNode removes the node with the given id and all its incident edges.
func (g *Graph) RemoveNode(id int) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}

	for _, nb := range n.Neighbors() {
		if other := g.nodes[nb]; other != nil {
			other.RemoveEdge(id)
			g.edges--
		}
	}

	delete(g.nodes, id)
}

// Send performs one belief-update message pass from node w to node v:
//
//	msg = marg(factor(w), sepset) / sepsetBelief
//	factor(v) *= msg
//	sepsetBelief = marg(factor(w), sepset)
//
// The division by the sepset belief cancels the information already passed
// over the edge in either direction, which keeps repeated sends idempotent
// on acyclic graphs.
// It returns error if the cancellation yields an indefinite quotient.
func (g *Graph) Send(w, v int) error {
	nw, nv := g.nodes[w], g.nodes[v]
	if nw == nil || nv == nil {
		return fmt.Errorf("unknown nodes %d, %d", w, v)
	}

	sepset, err := nv.Sepset(w)
	if err != nil {
		return err
	}

	marg, err := nw.Marginalize(sepset)
	if err != nil {
		return err
	}

	prev, err := nv.ReceivedMessage(w)
	if err != nil {
		return err
	}

	msg, err := marg.Cancel(prev)
	if err != nil {
		return err
	}

	if err := nv.Absorb(msg); err != nil {
		return err
	}

	if err := nv.LogMessage(w, marg); err != nil {
		return err
	}

	return nw.LogMessage(v, marg)
}

// Propagate runs one message passing sweep over the graph starting at root.
// Each node, at its first visit, pulls a belief-update message from every
// neighbour before its unvisited neighbours are descended into. On a tree
// this is equivalent to a root-ward collect followed by a leaf-ward
// distribute; on a loopy graph it is a single iteration of loopy belief
// update and is not guaranteed to converge.
func (g *Graph) Propagate(root int) error {
	if g.nodes[root] == nil {
		return fmt.Errorf("unknown root node %d", root)
	}

	visited := make(map[int]bool, len(g.nodes))
	stack := []int{root}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[id] {
			continue
		}
		visited[id] = true

		n := g.nodes[id]
		for _, nb := range n.Neighbors() {
			if err := g.Send(nb, id); err != nil {
				return fmt.Errorf("failed to pull message from node %d: %w", nb, err)
			}
		}

		n.CacheFactor()

		// descend in reverse so lower ids are visited first
		nbs := n.Neighbors()
		for i := len(nbs) - 1; i >= 0; i-- {
			if !visited[nbs[i]] {
				stack = append(stack, nbs[i])
			}
		}
	}

	return nil
}

// NodeIDs returns the graph node ids in ascending order.
func (g *Graph) NodeIDs() []int {
	ids := make([]int, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return ids
}

// Clone returns a deep copy of the graph preserving all node ids.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes: make(map[int]*Node, len(g.nodes)),
		next:  g.next,
		edges: g.edges,
	}
	for id, n := range g.nodes {
		c.nodes[id] = n.Clone()
	}

	return c
}

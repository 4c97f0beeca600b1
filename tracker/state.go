package tracker

import (
	track "github.com/milosgajdos/go-track"
	"github.com/milosgajdos/go-track/cluster"
)

// State is the tracker belief state: the cluster graph together with the
// bookkeeping mapping time steps to graph nodes and state variable scopes.
// Index 0 at every time step is the clutter cluster; higher indices are
// target clusters.
type State struct {
	// graph is the cluster graph
	graph *cluster.Graph
	// alloc hands out variable ids
	alloc *track.Allocator
	// stateNodes maps a time step to the state cluster node ids
	stateNodes map[int][]int
	// measNodes maps a time step to the measurement cluster node ids
	measNodes map[int][]int
	// stateVars maps a time step to the state variable scopes
	stateVars map[int][]track.Vars
	// nextIdentity is the identity assigned to the next hypothesised target
	nextIdentity int
}

// NewState creates a new empty tracker state and returns it.
func NewState() *State {
	return &State{
		graph:        cluster.NewGraph(),
		alloc:        track.NewAllocator(),
		stateNodes:   make(map[int][]int),
		measNodes:    make(map[int][]int),
		stateVars:    make(map[int][]track.Vars),
		nextIdentity: 1,
	}
}

// Graph returns the state cluster graph.
func (s *State) Graph() *cluster.Graph {
	return s.graph
}

// Targets returns the number of state clusters at the given time step,
// the clutter cluster included.
func (s *State) Targets(time int) int {
	return len(s.stateNodes[time])
}

// MeasurementClusters returns the number of measurement clusters at the
// given time step.
func (s *State) MeasurementClusters(time int) int {
	return len(s.measNodes[time])
}

// Node returns the state cluster node at the given time step and index,
// or nil if absent.
func (s *State) Node(time, i int) *cluster.Node {
	ids := s.stateNodes[time]
	if i < 0 || i >= len(ids) {
		return nil
	}

	return s.graph.Node(ids[i])
}

// Vars returns the state variable scope at the given time step and index,
// or nil if absent.
func (s *State) Vars(time, i int) track.Vars {
	vars := s.stateVars[time]
	if i < 0 || i >= len(vars) {
		return nil
	}

	return vars[i].Clone()
}

// Clone returns a deep copy of the state. Node ids and variable ids are
// preserved, so bookkeeping carries over unchanged.
func (s *State) Clone() *State {
	c := &State{
		graph:        s.graph.Clone(),
		alloc:        s.alloc.Clone(),
		stateNodes:   make(map[int][]int, len(s.stateNodes)),
		measNodes:    make(map[int][]int, len(s.measNodes)),
		stateVars:    make(map[int][]track.Vars, len(s.stateVars)),
		nextIdentity: s.nextIdentity,
	}
	for t, ids := range s.stateNodes {
		c.stateNodes[t] = append([]int(nil), ids...)
	}
	for t, ids := range s.measNodes {
		c.measNodes[t] = append([]int(nil), ids...)
	}
	for t, vars := range s.stateVars {
		vs := make([]track.Vars, len(vars))
		for i, v := range vars {
			vs[i] = v.Clone()
		}
		c.stateVars[t] = vs
	}

	return c
}

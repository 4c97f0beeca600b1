package tracker

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	track "github.com/milosgajdos/go-track"
	"github.com/milosgajdos/go-track/clg"
	"github.com/milosgajdos/go-track/cluster"
	"github.com/milosgajdos/go-track/discrete"
	"github.com/milosgajdos/go-track/gaussian"
)

// Estimate is one reported target state component.
type Estimate struct {
	// Time is the time step the estimate refers to
	Time int
	// Identity is the target identity
	Identity int
	// Mean holds the extracted state coordinates
	Mean []float64
	// Mass is the component mass
	Mass float64
}

// Metrics counts tracker events across time steps.
type Metrics struct {
	// IndefiniteRecoveries counts messages recovered from an indefinite
	// cancellation by discarding the stale message
	IndefiniteRecoveries int
	// DroppedMeasurements counts measurements whose validation gate admitted
	// no target cluster
	DroppedMeasurements int
	// AcceptedTargets counts hypothesised targets accepted by model selection
	AcceptedTargets int
}

// scratch holds per-step intermediates: the predicted state marginals, the
// predicted measurement joints per sensor and the gating factors derived
// from them. Indices follow the state cluster indices of the step.
type scratch struct {
	// predMarginals holds the predicted state marginals
	predMarginals []*gaussian.Mixture
	// predMeas holds the predicted measurement joints as predMeas[target][sensor]
	predMeas [][]*gaussian.Mixture
	// virtualZ holds the virtual measurement scopes of the joints
	virtualZ []track.Vars
	// gates holds the moment-matched predicted measurement marginals
	gates [][]*gaussian.Canonical
	// indef counts indefinite cancellations per edge within the step
	indef map[[2]int]int
	// metrics accumulates into the tracker metrics
	metrics *Metrics
}

func newScratch(m *Metrics) *scratch {
	return &scratch{
		indef:   make(map[[2]int]int),
		metrics: m,
	}
}

// Tracker is a recursive multi-target tracker. It maintains a cluster graph
// of per-target state beliefs, associates sensor measurements to targets
// through conditional linear Gaussian clusters, smooths beliefs over a fixed
// backward window and hypothesises new targets by comparing model evidence.
type Tracker struct {
	c       Config
	src     track.MeasurementSource
	state   *State
	metrics Metrics
}

// New creates a new tracker with the given config, reading measurements from
// src, and returns it. It returns error if the config is invalid.
func New(c Config, src track.MeasurementSource) (*Tracker, error) {
	if src == nil {
		return nil, fmt.Errorf("invalid measurement source")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	t := &Tracker{c: c, src: src}
	if err := t.initState(); err != nil {
		return nil, err
	}

	return t, nil
}

// State returns the tracker belief state.
func (t *Tracker) State() *State {
	return t.state
}

// Metrics returns the accumulated tracker metrics.
func (t *Tracker) Metrics() Metrics {
	return t.metrics
}

// initState seeds the belief state at time zero with the clutter cluster and
// one cluster per configured initial target.
func (t *Tracker) initState() error {
	st := NewState()
	par := t.c.mixtureParams()

	priors := append([]Launch{t.c.Clutter}, t.c.InitialTargets...)
	for i, p := range priors {
		vars := st.alloc.Alloc(track.StatePool, t.c.StateDim)
		mix, err := gaussian.NewMomentMixture(vars,
			[]float64{1.0}, []mat.Vector{p.Mean}, []mat.Symmetric{p.Cov}, par)
		if err != nil {
			return fmt.Errorf("failed to create prior %d: %w", i, err)
		}

		id := st.graph.AddNode(cluster.NewNode(i, mix))
		st.stateNodes[0] = append(st.stateNodes[0], id)
		st.stateVars[0] = append(st.stateVars[0], vars)
	}
	st.nextIdentity = len(priors)

	t.state = st

	return nil
}

// launchNode builds a state cluster from the launch prior for a newly
// hypothesised target and inserts it into st at the given time step.
func (t *Tracker) launchNode(st *State, time int) error {
	vars := st.alloc.Alloc(track.StatePool, t.c.StateDim)
	mix, err := gaussian.NewMomentMixture(vars,
		[]float64{1.0}, []mat.Vector{t.c.Launch.Mean}, []mat.Symmetric{t.c.Launch.Cov}, t.c.mixtureParams())
	if err != nil {
		return fmt.Errorf("failed to create launch prior: %w", err)
	}

	id := st.graph.AddNode(cluster.NewNode(st.nextIdentity, mix))
	st.nextIdentity++
	st.stateNodes[time] = append(st.stateNodes[time], id)
	st.stateVars[time] = append(st.stateVars[time], vars)

	return nil
}

// predict advances the belief state from time step n-1 to n. Every target
// cluster is pushed through the motion transform into a joint over the old
// and new state scope and linked to its predecessor; the clutter cluster is
// recreated from its prior. The predicted state marginals, the per-sensor
// predicted measurement joints and the gating factors are kept in sc.
func (t *Tracker) predict(st *State, n int, sc *scratch) error {
	prev := st.stateNodes[n-1]
	m := len(prev)

	sc.predMarginals = make([]*gaussian.Mixture, m)
	sc.predMeas = make([][]*gaussian.Mixture, m)
	sc.virtualZ = make([]track.Vars, m)
	sc.gates = make([][]*gaussian.Canonical, m)

	nodes := make([]int, m)
	scopes := make([]track.Vars, m)
	par := t.c.mixtureParams()

	for i := 0; i < m; i++ {
		vars := st.alloc.Alloc(track.StatePool, t.c.StateDim)
		scopes[i] = vars

		var node *cluster.Node
		if i == 0 {
			// the clutter cluster carries no temporal memory
			mix, err := gaussian.NewMomentMixture(vars,
				[]float64{1.0}, []mat.Vector{t.c.Clutter.Mean}, []mat.Symmetric{t.c.Clutter.Cov}, par)
			if err != nil {
				return fmt.Errorf("failed to create clutter prior: %w", err)
			}
			node = cluster.NewNode(0, mix)
			nodes[i] = st.graph.AddNode(node)
		} else {
			prevNode := st.graph.Node(prev[i])

			marg, err := prevNode.Marginalize(st.stateVars[n-1][i])
			if err != nil {
				return fmt.Errorf("failed to marginalize cluster %d: %w", i, err)
			}
			matched, err := marg.(*gaussian.Mixture).MomentMatchMixture()
			if err != nil {
				return fmt.Errorf("failed to match cluster %d: %w", i, err)
			}

			joint, err := matched.PushThrough(t.c.Motion, vars, t.c.ProcessCov)
			if err != nil {
				return fmt.Errorf("failed to predict cluster %d: %w", i, err)
			}

			node = cluster.NewNode(prevNode.Identity(), joint)
			nodes[i] = st.graph.AddNode(node)

			// the initial temporal message makes the first backward
			// cancellation along the edge a no-op
			if err := st.graph.AddEdge(nodes[i], prev[i], matched); err != nil {
				return err
			}
		}

		pm, err := node.Marginalize(vars)
		if err != nil {
			return fmt.Errorf("failed to marginalize prediction %d: %w", i, err)
		}
		sc.predMarginals[i] = pm.(*gaussian.Mixture)

		zv := st.alloc.Alloc(track.MeasPool, t.c.MeasDim)
		sc.virtualZ[i] = zv
		sc.predMeas[i] = make([]*gaussian.Mixture, len(t.c.Sensors))
		sc.gates[i] = make([]*gaussian.Canonical, len(t.c.Sensors))

		for j, sensor := range t.c.Sensors {
			joint, err := sc.predMarginals[i].PushThrough(sensor, zv, t.c.MeasurementCov)
			if err != nil {
				return fmt.Errorf("failed to predict measurement %d/%d: %w", i, j, err)
			}
			sc.predMeas[i][j] = joint

			zm, err := joint.Marginalize(zv)
			if err != nil {
				return fmt.Errorf("failed to marginalize measurement %d/%d: %w", i, j, err)
			}
			gate, err := zm.(*gaussian.Mixture).MomentMatch()
			if err != nil {
				return fmt.Errorf("failed to match measurement %d/%d: %w", i, j, err)
			}
			sc.gates[i][j] = gate
		}
	}

	st.stateNodes[n] = nodes
	st.stateVars[n] = scopes

	return nil
}

// build creates the measurement clusters of time step n. Every measurement
// is gated against the predicted measurement marginals; a conditional linear
// Gaussian cluster over the association variable and the gated target scopes
// is built and linked to those targets. Measurements gated by no target are
// dropped as clutter. Measurement clusters of the previous step are removed
// first, their information having been absorbed already.
func (t *Tracker) build(st *State, n int, sc *scratch) error {
	for _, id := range st.measNodes[n-1] {
		st.graph.RemoveNode(id)
	}
	delete(st.measNodes, n-1)

	m := len(st.stateNodes[n])

	for j := range t.c.Sensors {
		points, err := t.src.Points(j, n+t.c.SensorTimeOffset)
		if err != nil {
			return fmt.Errorf("failed to read sensor %d: %w", j, err)
		}

		for _, z := range points {
			var gated []int
			for k := 1; k < m; k++ {
				dist, err := sc.gates[k][j].Mahalanobis(z)
				if err != nil {
					continue
				}
				if dist <= t.c.ValidationGate {
					gated = append(gated, k)
				}
			}
			if len(gated) == 0 {
				sc.metrics.DroppedMeasurements++
				continue
			}

			if err := t.buildMeasurement(st, n, sc, j, z, gated); err != nil {
				return err
			}
		}
	}

	return nil
}

// buildMeasurement builds one measurement cluster for measurement z of
// sensor j gated by the given target indices and links it into the graph.
func (t *Tracker) buildMeasurement(st *State, n int, sc *scratch, j int, z mat.Vector, gated []int) error {
	domain := append([]int{0}, gated...)

	av := st.alloc.Alloc(track.AssocPool, 1)
	zv := st.alloc.Alloc(track.MeasPool, t.c.MeasDim)

	prior, err := discrete.NewUniform(av[0], domain)
	if err != nil {
		return fmt.Errorf("failed to create association prior: %w", err)
	}

	vals := make([]float64, z.Len())
	for i := range vals {
		vals[i] = z.AtVec(i)
	}

	branches := make(map[int]*gaussian.Mixture, len(domain))
	for _, p := range domain {
		joint, err := sc.predMeas[p][j].Rename(sc.predMarginals[p].Vars().Union(zv))
		if err != nil {
			return fmt.Errorf("failed to recast measurement joint %d: %w", p, err)
		}

		var f track.Factor = joint
		for _, q := range domain {
			if q == p {
				continue
			}
			f, err = f.Absorb(sc.predMarginals[q])
			if err != nil {
				return fmt.Errorf("failed to absorb marginal %d: %w", q, err)
			}
		}

		obs, err := f.ObserveAndReduce(zv, vals)
		if err != nil {
			return fmt.Errorf("failed to condition on measurement: %w", err)
		}
		branches[p] = obs.(*gaussian.Mixture)
	}

	cond, err := clg.New(prior, branches)
	if err != nil {
		return fmt.Errorf("failed to create measurement cluster: %w", err)
	}

	id := st.graph.AddNode(cluster.NewNode(-1, cond))
	st.measNodes[n] = append(st.measNodes[n], id)

	for _, p := range domain {
		// the initial message makes the first pull from the target a no-op
		if err := st.graph.AddEdge(id, st.stateNodes[n][p], sc.predMarginals[p]); err != nil {
			return err
		}
	}

	return nil
}

// send performs one belief-update message pass from node from to node to,
// dividing the outgoing sepset marginal by the edge sepset belief and
// updating the belief at both endpoints. With match set the outgoing
// marginal is moment matched first. A first indefinite cancellation along
// an edge is recovered by discarding the stale belief; a second one within
// the same step is fatal. State mixtures exceeding the component bound are
// reduced after absorbing.
func (t *Tracker) send(st *State, sc *scratch, from, to int, match bool) error {
	nf, nt := st.graph.Node(from), st.graph.Node(to)
	if nf == nil || nt == nil {
		return fmt.Errorf("unknown nodes %d, %d", from, to)
	}

	sepset, err := nt.Sepset(from)
	if err != nil {
		return err
	}

	marg, err := nf.Marginalize(sepset)
	if err != nil {
		return fmt.Errorf("failed to marginalize node %d: %w", from, err)
	}
	if match {
		if mix, ok := marg.(*gaussian.Mixture); ok {
			matched, err := mix.MomentMatchMixture()
			if err != nil {
				return fmt.Errorf("failed to match message from node %d: %w", from, err)
			}
			marg = matched
		}
	}

	prev, err := nt.ReceivedMessage(from)
	if err != nil {
		return err
	}

	msg, err := marg.Cancel(prev)
	if err != nil {
		if !errors.Is(err, track.ErrIndefinite) {
			return fmt.Errorf("failed to cancel message from node %d: %w", from, err)
		}
		key := edgeKey(from, to)
		sc.indef[key]++
		if sc.indef[key] > 1 {
			return fmt.Errorf("repeated indefinite message from node %d: %w", from, err)
		}
		sc.metrics.IndefiniteRecoveries++
		msg = marg
	}

	if err := nt.Absorb(msg); err != nil {
		return fmt.Errorf("failed to absorb message at node %d: %w", to, err)
	}
	if err := nt.LogMessage(from, marg); err != nil {
		return err
	}
	if err := nf.LogMessage(to, marg); err != nil {
		return err
	}

	if mix, ok := nt.Factor().(*gaussian.Mixture); ok && mix.Len() > t.c.MaxComponents {
		if err := mix.PruneAndMerge(); err != nil {
			return fmt.Errorf("failed to reduce node %d: %w", to, err)
		}
	}

	return nil
}

func edgeKey(v, w int) [2]int {
	if v > w {
		v, w = w, v
	}
	return [2]int{v, w}
}

// update runs the measurement update of time step n: every measurement
// cluster pulls a message from each linked target cluster and pushes its
// association-marginalised belief back.
func (t *Tracker) update(st *State, n int, sc *scratch) error {
	for _, mid := range st.measNodes[n] {
		for _, sid := range st.graph.Node(mid).Neighbors() {
			if err := t.send(st, sc, sid, mid, false); err != nil {
				return fmt.Errorf("measurement update at step %d: %w", n, err)
			}
			if err := t.send(st, sc, mid, sid, false); err != nil {
				return fmt.Errorf("measurement update at step %d: %w", n, err)
			}
		}
	}

	return nil
}

// smooth runs the fixed-lag backward pass at time step n, sending
// moment-matched messages down every target trajectory across the backward
// window.
func (t *Tracker) smooth(st *State, n int, sc *scratch) error {
	w := min(t.c.BackwardWindow, n)

	for j := 0; j < w; j++ {
		cur, older := st.stateNodes[n-j], st.stateNodes[n-j-1]
		for i := 1; i < len(cur) && i < len(older); i++ {
			if err := t.send(st, sc, cur[i], older[i], true); err != nil {
				return fmt.Errorf("smoothing at step %d: %w", n-j, err)
			}
		}
	}

	return nil
}

// forwardPass re-propagates the smoothed beliefs forward across the backward
// window so that the newest clusters see the refined history.
func (t *Tracker) forwardPass(st *State, n int, sc *scratch) error {
	w := min(t.c.BackwardWindow, n)

	for j := w - 1; j >= 0; j-- {
		older, cur := st.stateNodes[n-j-1], st.stateNodes[n-j]
		for i := 1; i < len(cur) && i < len(older); i++ {
			if err := t.send(st, sc, older[i], cur[i], true); err != nil {
				return fmt.Errorf("forward pass at step %d: %w", n-j, err)
			}
		}
	}

	return nil
}

// Evidence returns the model log evidence at the given time step: the sum of
// the log masses of the state cluster factors.
func (t *Tracker) Evidence(st *State, time int) float64 {
	var odds float64
	for _, id := range st.stateNodes[time] {
		odds += st.graph.Node(id).Factor().LogMass()
	}

	return odds
}

// modelSelect tests whether a target appeared at the start of the backward
// window. A trial state is cloned from the current one, the steps inside the
// window are discarded and re-run with an extra launch-prior cluster inserted
// at the window start, and the trial is adopted if its log evidence at the
// window start exceeds the current one by more than the configured margin.
func (t *Tracker) modelSelect(n int, sc *scratch) error {
	k := n - t.c.BackwardWindow
	if k < 1 {
		return nil
	}

	oldEv := t.Evidence(t.state, k)

	trial := t.state.Clone()
	for i := k; i <= n; i++ {
		for _, id := range trial.stateNodes[i] {
			trial.graph.RemoveNode(id)
		}
		for _, id := range trial.measNodes[i] {
			trial.graph.RemoveNode(id)
		}
		delete(trial.stateNodes, i)
		delete(trial.measNodes, i)
		delete(trial.stateVars, i)
	}

	if err := t.launchNode(trial, k-1); err != nil {
		return err
	}

	for i := k; i <= n; i++ {
		tsc := newScratch(sc.metrics)
		if err := t.predict(trial, i, tsc); err != nil {
			return fmt.Errorf("trial prediction at step %d: %w", i, err)
		}
		if err := t.build(trial, i, tsc); err != nil {
			return fmt.Errorf("trial association at step %d: %w", i, err)
		}
		if err := t.update(trial, i, tsc); err != nil {
			return fmt.Errorf("trial update at step %d: %w", i, err)
		}
	}

	tsc := newScratch(sc.metrics)
	if err := t.smooth(trial, n, tsc); err != nil {
		return err
	}

	newEv := t.Evidence(trial, k)
	if newEv-oldEv > t.c.EvidenceMargin {
		t.state = trial
		sc.metrics.AcceptedTargets++
	}

	return nil
}

// Extract reports the target state estimates of the given time step: one
// estimate per mixture component of every target cluster, with the mean
// projected onto the configured coordinates and the mass normalised within
// the cluster. Estimates are ordered by time, identity and descending mass.
func (t *Tracker) Extract(time int) ([]Estimate, error) {
	st := t.state
	var out []Estimate

	for i := 1; i < len(st.stateNodes[time]); i++ {
		node := st.graph.Node(st.stateNodes[time][i])

		marg, err := node.Marginalize(st.stateVars[time][i])
		if err != nil {
			return nil, fmt.Errorf("failed to marginalize cluster %d: %w", i, err)
		}

		mix := marg.(*gaussian.Mixture)
		mix.Normalize()

		for _, comp := range mix.Components() {
			mean, err := comp.Mean()
			if err != nil {
				continue
			}

			coords := make([]float64, len(t.c.ExtractIndices))
			for k, idx := range t.c.ExtractIndices {
				coords[k] = mean.AtVec(idx)
			}

			out = append(out, Estimate{
				Time:     time,
				Identity: node.Identity(),
				Mean:     coords,
				Mass:     comp.Mass(),
			})
		}
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].Time != out[b].Time {
			return out[a].Time < out[b].Time
		}
		if out[a].Identity != out[b].Identity {
			return out[a].Identity < out[b].Identity
		}
		return out[a].Mass > out[b].Mass
	})

	return out, nil
}

// Step advances the tracker by one time step and returns the state estimates
// of that step.
func (t *Tracker) Step(n int) ([]Estimate, error) {
	if n < 1 {
		return nil, fmt.Errorf("invalid time step: %d", n)
	}

	sc := newScratch(&t.metrics)

	if err := t.predict(t.state, n, sc); err != nil {
		return nil, fmt.Errorf("prediction at step %d: %w", n, err)
	}
	if err := t.build(t.state, n, sc); err != nil {
		return nil, fmt.Errorf("association at step %d: %w", n, err)
	}
	if err := t.update(t.state, n, sc); err != nil {
		return nil, err
	}
	if err := t.smooth(t.state, n, sc); err != nil {
		return nil, err
	}
	if err := t.forwardPass(t.state, n, sc); err != nil {
		return nil, err
	}
	if err := t.modelSelect(n, sc); err != nil {
		return nil, fmt.Errorf("model selection at step %d: %w", n, err)
	}

	return t.Extract(n)
}

// Run steps the tracker through every time step of the measurement source
// and returns the collected state estimates.
func (t *Tracker) Run() ([]Estimate, error) {
	var out []Estimate

	steps := t.src.TimeSteps() - t.c.SensorTimeOffset
	for n := 1; n < steps; n++ {
		est, err := t.Step(n)
		if err != nil {
			return out, err
		}
		out = append(out, est...)
	}

	return out, nil
}

package clg

import (
	"fmt"
	"math"
	"sort"

	track "github.com/milosgajdos/go-track"
	"github.com/milosgajdos/go-track/discrete"
	"github.com/milosgajdos/go-track/gaussian"
)

// Conditional is a conditional linear Gaussian factor: a discrete parent
// variable paired with one continuous Gaussian mixture per parent value,
//
//	f(a, y) = p(a) * branch[a](y)
//
// All branches share the continuous scope and the branch keys equal the
// parent domain.
type Conditional struct {
	// prior is the discrete parent factor
	prior *discrete.Table
	// branches maps each parent value to its continuous factor
	branches map[int]*gaussian.Mixture
	// contVars is the shared continuous branch scope
	contVars track.Vars
}

// New creates a new conditional linear Gaussian factor from the discrete
// prior and the per-value continuous branches.
// It returns error if the branch keys do not equal the prior domain or the
// branch scopes differ.
func New(prior *discrete.Table, branches map[int]*gaussian.Mixture) (*Conditional, error) {
	if prior == nil || len(branches) == 0 {
		return nil, fmt.Errorf("invalid conditional: missing prior or branches")
	}

	dom := prior.Domain()
	if len(dom) != len(branches) {
		return nil, fmt.Errorf("branch keys do not match parent domain: %d != %d", len(branches), len(dom))
	}

	var contVars track.Vars
	bb := make(map[int]*gaussian.Mixture, len(branches))
	for _, v := range dom {
		b, ok := branches[v]
		if !ok {
			return nil, fmt.Errorf("missing branch for parent value %d", v)
		}
		if contVars == nil {
			contVars = b.Vars().Clone()
		}
		if !b.Vars().Equal(contVars) {
			return nil, fmt.Errorf("branch %d scope %v != %v: %w", v, b.Vars(), contVars, track.ErrScopeMismatch)
		}
		bb[v] = b.Copy().(*gaussian.Mixture)
	}

	return &Conditional{
		prior:    prior.Copy().(*discrete.Table),
		branches: bb,
		contVars: contVars,
	}, nil
}

// Vars returns the factor scope: the parent variable and the continuous scope.
func (c *Conditional) Vars() track.Vars {
	return c.contVars.Union(c.prior.Vars())
}

// Prior returns a copy of the discrete parent factor.
func (c *Conditional) Prior() *discrete.Table {
	return c.prior.Copy().(*discrete.Table)
}

// Branch returns a copy of the continuous factor for parent value v.
func (c *Conditional) Branch(v int) (*gaussian.Mixture, bool) {
	b, ok := c.branches[v]
	if !ok {
		return nil, false
	}

	return b.Copy().(*gaussian.Mixture), true
}

// Copy returns a deep copy of the factor.
func (c *Conditional) Copy() track.Factor {
	return c.clone()
}

func (c *Conditional) clone() *Conditional {
	bb := make(map[int]*gaussian.Mixture, len(c.branches))
	for v, b := range c.branches {
		bb[v] = b.Copy().(*gaussian.Mixture)
	}

	return &Conditional{
		prior:    c.prior.Copy().(*discrete.Table),
		branches: bb,
		contVars: c.contVars.Clone(),
	}
}

// LogMass returns the log of the factor total mass: the log-sum-exp of the
// branch masses weighted by the parent probabilities.
func (c *Conditional) LogMass() float64 {
	var masses []float64
	for v, b := range c.branches {
		p := c.prior.Prob(v)
		if p == 0 {
			continue
		}
		lm := b.LogMass()
		if math.IsInf(lm, -1) {
			continue
		}
		masses = append(masses, math.Log(p)+lm)
	}

	if len(masses) == 0 {
		return math.Inf(-1)
	}

	max := masses[0]
	for _, m := range masses[1:] {
		if m > max {
			max = m
		}
	}

	var sum float64
	for _, m := range masses {
		sum += math.Exp(m - max)
	}

	return max + math.Log(sum)
}

// Absorb multiplies the factor by rhs. A continuous factor multiplies into
// every branch; a discrete table multiplies into the parent prior.
func (c *Conditional) Absorb(rhs track.Factor) (track.Factor, error) {
	switch f := rhs.(type) {
	case *discrete.Table:
		p, err := c.prior.Absorb(f)
		if err != nil {
			return nil, err
		}
		out := c.clone()
		out.prior = p.(*discrete.Table)
		return out, nil
	case *gaussian.Canonical, *gaussian.Mixture:
		out := c.clone()
		for v, b := range out.branches {
			prod, err := b.Absorb(f)
			if err != nil {
				return nil, err
			}
			out.branches[v] = prod.(*gaussian.Mixture)
		}
		out.contVars = out.branches[out.prior.Domain()[0]].Vars().Clone()
		return out, nil
	}

	return nil, fmt.Errorf("cannot absorb factor of type %T", rhs)
}

// Cancel divides the factor by rhs. A continuous factor divides every
// branch; a discrete table divides the parent prior.
func (c *Conditional) Cancel(rhs track.Factor) (track.Factor, error) {
	switch f := rhs.(type) {
	case *discrete.Table:
		p, err := c.prior.Cancel(f)
		if err != nil {
			return nil, err
		}
		out := c.clone()
		out.prior = p.(*discrete.Table)
		return out, nil
	case *gaussian.Canonical, *gaussian.Mixture:
		out := c.clone()
		for v, b := range out.branches {
			quot, err := b.Cancel(f)
			if err != nil {
				return nil, err
			}
			out.branches[v] = quot.(*gaussian.Mixture)
		}
		return out, nil
	}

	return nil, fmt.Errorf("cannot cancel factor of type %T", rhs)
}

// MarginalizeParent sums out the discrete parent, producing a continuous
// mixture with the components of every branch weighted by the parent
// probability of that branch.
func (c *Conditional) MarginalizeParent() (*gaussian.Mixture, error) {
	var comps []*gaussian.Canonical

	// deterministic branch order
	dom := c.prior.Domain()
	sort.Ints(dom)

	for _, v := range dom {
		p := c.prior.Prob(v)
		if p == 0 {
			continue
		}

		b := c.branches[v].Copy().(*gaussian.Mixture)
		b.AdjustLogMass(math.Log(p))
		comps = append(comps, b.Components()...)
	}

	if len(comps) == 0 {
		return gaussian.NewVacuousMixture(c.contVars, c.params()), nil
	}

	return gaussian.NewMixture(comps, c.params())
}

func (c *Conditional) params() gaussian.Params {
	for _, b := range c.branches {
		return b.Params()
	}

	return gaussian.DefaultParams()
}

// Marginalize marginalizes the factor onto the keep variables.
// Marginalising the parent out yields a continuous mixture; keeping only the
// parent yields a discrete table whose weight for value v is p(a=v) times
// the mass of branch v.
func (c *Conditional) Marginalize(keep track.Vars) (track.Factor, error) {
	keepParent := len(c.prior.Vars()) > 0 && keep.Contains(c.prior.Vars()[0])
	keepCont := len(keep.Intersect(c.contVars)) > 0

	if keepParent && keepCont {
		return nil, fmt.Errorf("cannot marginalize conditional onto mixed discrete and continuous scope")
	}

	if keepParent {
		dom := c.prior.Domain()
		w := make([]float64, len(dom))
		for i, v := range dom {
			w[i] = c.prior.Prob(v) * c.branches[v].Mass()
		}
		return discrete.NewTable(c.prior.Vars()[0], dom, w)
	}

	mix, err := c.MarginalizeParent()
	if err != nil {
		return nil, err
	}

	return mix.Marginalize(keep)
}

// ObserveAndReduce conditions the factor on observed continuous values.
// Observing the full continuous scope reduces the factor to a discrete
// table over the parent whose weight for value v is p(a=v) times the
// evidence of branch v; a partial observation conditions every branch.
func (c *Conditional) ObserveAndReduce(vars track.Vars, vals []float64) (track.Factor, error) {
	out := c.clone()

	reduced := true
	for v, b := range out.branches {
		ob, err := b.ObserveAndReduce(vars, vals)
		if err != nil {
			return nil, err
		}
		mix := ob.(*gaussian.Mixture)
		out.branches[v] = mix
		if len(mix.Vars()) > 0 {
			reduced = false
		}
	}

	if !reduced {
		out.contVars = out.branches[out.prior.Domain()[0]].Vars().Clone()
		return out, nil
	}

	// every branch reduced to evidence: collapse to a discrete factor
	dom := out.prior.Domain()
	w := make([]float64, len(dom))
	for i, v := range dom {
		w[i] = out.prior.Prob(v) * out.branches[v].Mass()
	}

	return discrete.NewTable(out.prior.Vars()[0], dom, w)
}

// String implements the Stringer interface.
func (c *Conditional) String() string {
	return fmt.Sprintf("Conditional{parent=%v, branches=%d, cont=%v}", c.prior.Vars(), len(c.branches), c.contVars)
}

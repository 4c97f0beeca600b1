package gaussian

import (
	"fmt"
	"math"
	"sort"

	track "github.com/milosgajdos/go-track"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Params bound the size of a Gaussian mixture.
type Params struct {
	// MaxComponents is the mixture component cap
	MaxComponents int
	// PruneThreshold is the component log-mass floor
	PruneThreshold float64
	// MergeDistance is the Mahalanobis merge radius
	MergeDistance float64
}

// DefaultParams returns the default mixture bound parameters.
func DefaultParams() Params {
	return Params{
		MaxComponents:  4,
		PruneThreshold: math.Log(1e-3),
		MergeDistance:  5.0,
	}
}

// Mixture is an ordered set of canonical Gaussian components sharing a scope.
type Mixture struct {
	// vars is the shared component scope
	vars track.Vars
	// comps are the mixture components
	comps []*Canonical
	// par are the mixture bound parameters
	par Params
}

// NewMixture creates a new Gaussian mixture from comps and returns it.
// It returns error wrapping ErrScopeMismatch if the components do not share
// a scope, or if comps is empty.
func NewMixture(comps []*Canonical, par Params) (*Mixture, error) {
	if len(comps) == 0 {
		return nil, fmt.Errorf("mixture must have at least one component")
	}

	vars := comps[0].Vars()
	cc := make([]*Canonical, len(comps))
	for i, c := range comps {
		if !c.Vars().Equal(vars) {
			return nil, fmt.Errorf("component %d scope %v != %v: %w", i, c.Vars(), vars, track.ErrScopeMismatch)
		}
		cc[i] = c.clone()
	}

	return &Mixture{vars: vars.Clone(), comps: cc, par: par}, nil
}

// NewVacuousMixture creates a mixture with a single vacuous component.
func NewVacuousMixture(vars track.Vars, par Params) *Mixture {
	return &Mixture{
		vars:  vars.Clone(),
		comps: []*Canonical{NewVacuous(vars)},
		par:   par,
	}
}

// NewMomentMixture creates a mixture over vars from component weights, means
// and covariances given in moment form.
func NewMomentMixture(vars track.Vars, weights []float64, means []mat.Vector, covs []mat.Symmetric, par Params) (*Mixture, error) {
	if len(weights) == 0 || len(weights) != len(means) || len(weights) != len(covs) {
		return nil, fmt.Errorf("invalid component counts: %d weights, %d means, %d covs", len(weights), len(means), len(covs))
	}

	comps := make([]*Canonical, len(weights))
	for i := range weights {
		c, err := NewMoment(vars, means[i], covs[i], weights[i])
		if err != nil {
			return nil, fmt.Errorf("failed to create component %d: %w", i, err)
		}
		comps[i] = c
	}

	return &Mixture{vars: vars.Clone(), comps: comps, par: par}, nil
}

// Vars returns the mixture scope.
func (m *Mixture) Vars() track.Vars {
	return m.vars
}

// Len returns the number of mixture components.
func (m *Mixture) Len() int {
	return len(m.comps)
}

// Params returns the mixture bound parameters.
func (m *Mixture) Params() Params {
	return m.par
}

// Components returns copies of the mixture components.
func (m *Mixture) Components() []*Canonical {
	comps := make([]*Canonical, len(m.comps))
	for i, c := range m.comps {
		comps[i] = c.clone()
	}

	return comps
}

// Copy returns a deep copy of the mixture.
func (m *Mixture) Copy() track.Factor {
	return m.clone()
}

func (m *Mixture) clone() *Mixture {
	comps := make([]*Canonical, len(m.comps))
	for i, c := range m.comps {
		comps[i] = c.clone()
	}

	return &Mixture{vars: m.vars.Clone(), comps: comps, par: m.par}
}

// logMasses returns the finite component log masses.
func (m *Mixture) logMasses() []float64 {
	masses := make([]float64, 0, len(m.comps))
	for _, c := range m.comps {
		if lm := c.LogMass(); !math.IsInf(lm, -1) {
			masses = append(masses, lm)
		}
	}

	return masses
}

// LogMass returns the log of the mixture total mass computed with
// log-sum-exp over the component log masses. A mixture all of whose
// components have zero mass reports -Inf.
func (m *Mixture) LogMass() float64 {
	masses := m.logMasses()
	if len(masses) == 0 {
		return math.Inf(-1)
	}

	return floats.LogSumExp(masses)
}

// Mass returns the mixture total mass.
func (m *Mixture) Mass() float64 {
	lm := m.LogMass()
	if math.IsInf(lm, -1) {
		return 0
	}

	return math.Exp(lm)
}

// Weights returns the linear masses of the mixture components.
func (m *Mixture) Weights() []float64 {
	w := make([]float64, len(m.comps))
	for i, c := range m.comps {
		w[i] = c.Mass()
	}

	return w
}

// Normalize rescales the mixture so its total mass is one.
func (m *Mixture) Normalize() {
	total := m.LogMass()
	if math.IsInf(total, 0) {
		return
	}

	for _, c := range m.comps {
		c.AdjustLogMass(-total)
	}
}

// AdjustLogMass shifts the log mass of every component by delta.
func (m *Mixture) AdjustLogMass(delta float64) {
	for _, c := range m.comps {
		c.AdjustLogMass(delta)
	}
}

// Absorb multiplies the mixture by rhs and returns the product.
// Absorbing a mixture multiplies out the component products pairwise.
func (m *Mixture) Absorb(rhs track.Factor) (track.Factor, error) {
	switch f := rhs.(type) {
	case *Canonical:
		comps := make([]*Canonical, len(m.comps))
		for i, c := range m.comps {
			comps[i] = c.product(f)
		}
		return &Mixture{vars: comps[0].Vars().Clone(), comps: comps, par: m.par}, nil
	case *Mixture:
		comps := make([]*Canonical, 0, len(m.comps)*len(f.comps))
		for _, c := range m.comps {
			for _, o := range f.comps {
				comps = append(comps, c.product(o))
			}
		}
		return &Mixture{vars: comps[0].Vars().Clone(), comps: comps, par: m.par}, nil
	}

	return nil, fmt.Errorf("cannot absorb factor of type %T", rhs)
}

// Cancel divides the mixture by rhs and returns the quotient.
// A mixture divisor is first collapsed to a single Gaussian by moment
// matching; dividing a mixture by a mixture exactly is not closed.
func (m *Mixture) Cancel(rhs track.Factor) (track.Factor, error) {
	var single *Canonical

	switch f := rhs.(type) {
	case *Canonical:
		single = f
	case *Mixture:
		var err error
		if single, err = f.MomentMatch(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("cannot cancel factor of type %T", rhs)
	}

	comps := make([]*Canonical, len(m.comps))
	for i, c := range m.comps {
		q, err := c.quotient(single)
		if err != nil {
			return nil, err
		}
		comps[i] = q
	}

	return &Mixture{vars: comps[0].Vars().Clone(), comps: comps, par: m.par}, nil
}

// Marginalize marginalizes every mixture component onto the keep variables.
// A mixture with no remaining mass marginalises to a vacuous mixture.
func (m *Mixture) Marginalize(keep track.Vars) (track.Factor, error) {
	return m.marginal(keep)
}

func (m *Mixture) marginal(keep track.Vars) (*Mixture, error) {
	s := m.vars.Intersect(keep)

	live := make([]*Canonical, 0, len(m.comps))
	for _, c := range m.comps {
		if !math.IsInf(c.LogMass(), -1) {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		return NewVacuousMixture(s, m.par), nil
	}

	comps := make([]*Canonical, len(live))
	for i, c := range live {
		mc, err := c.marginal(keep)
		if err != nil {
			return nil, err
		}
		comps[i] = mc
	}

	return &Mixture{vars: s, comps: comps, par: m.par}, nil
}

// ObserveAndReduce conditions every component on the observed values.
func (m *Mixture) ObserveAndReduce(vars track.Vars, vals []float64) (track.Factor, error) {
	comps := make([]*Canonical, len(m.comps))
	for i, c := range m.comps {
		oc, err := c.observe(vars, vals)
		if err != nil {
			return nil, err
		}
		comps[i] = oc
	}

	return &Mixture{vars: comps[0].Vars().Clone(), comps: comps, par: m.par}, nil
}

// PushThrough pushes every component through t with additive noise q and
// returns the joint mixture over the old and new scope. Nonlinear transforms
// are linearised at each component mean.
func (m *Mixture) PushThrough(t track.VectorTransform, newVars track.Vars, q mat.Symmetric) (*Mixture, error) {
	comps := make([]*Canonical, len(m.comps))
	for i, c := range m.comps {
		jc, err := c.PushThrough(t, newVars, q)
		if err != nil {
			return nil, fmt.Errorf("failed to push component %d: %w", i, err)
		}
		comps[i] = jc
	}

	return &Mixture{vars: comps[0].Vars().Clone(), comps: comps, par: m.par}, nil
}

// MomentMatch collapses the mixture to the single Gaussian sharing its first
// two moments and total mass. Matching a single component mixture is the
// identity; a mixture with no mass collapses to a vacuous factor.
func (m *Mixture) MomentMatch() (*Canonical, error) {
	if len(m.comps) == 1 {
		return m.comps[0].clone(), nil
	}

	total := m.LogMass()
	if math.IsInf(total, -1) {
		return NewVacuous(m.vars), nil
	}

	d := len(m.vars)
	mean := mat.NewVecDense(d, nil)
	cov := mat.NewDense(d, d, nil)

	for _, c := range m.comps {
		lm := c.LogMass()
		if math.IsInf(lm, -1) {
			continue
		}
		// normalised component weight; stable for masses spanning many decades
		w := math.Exp(lm - total)

		mu, err := c.Mean()
		if err != nil {
			return nil, err
		}
		sig, err := c.Cov()
		if err != nil {
			return nil, err
		}

		for i := 0; i < d; i++ {
			mean.SetVec(i, mean.AtVec(i)+w*mu.AtVec(i))
			for j := 0; j < d; j++ {
				cov.Set(i, j, cov.At(i, j)+w*(sig.At(i, j)+mu.AtVec(i)*mu.AtVec(j)))
			}
		}
	}

	sym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := 0.5*(cov.At(i, j)+cov.At(j, i)) - mean.AtVec(i)*mean.AtVec(j)
			sym.SetSym(i, j, v)
		}
	}

	matched, err := NewMoment(m.vars, mean, sym, 1.0)
	if err != nil {
		return nil, err
	}
	matched.AdjustLogMass(total)

	return matched, nil
}

// MomentMatchMixture collapses the mixture to a single component mixture.
func (m *Mixture) MomentMatchMixture() (*Mixture, error) {
	matched, err := m.MomentMatch()
	if err != nil {
		return nil, err
	}

	return &Mixture{vars: m.vars.Clone(), comps: []*Canonical{matched}, par: m.par}, nil
}

// PruneAndMerge reduces the mixture in place: components below the prune
// threshold are dropped, components within the merge radius of a dominant
// component are collapsed by moment matching, and the result is clipped to
// the component cap. The prune, merge, clip order is a contract: merging
// must never see a component pruning would have dropped.
func (m *Mixture) PruneAndMerge() error {
	pruned := m.prune()

	merged, err := m.merge(pruned)
	if err != nil {
		return err
	}

	if len(merged) > m.par.MaxComponents {
		sortByLogMass(merged)
		merged = merged[:m.par.MaxComponents]
	}

	m.comps = merged

	return nil
}

// prune drops components whose log mass lies below the prune threshold.
// If every component is below the threshold the largest MaxComponents
// are kept instead.
func (m *Mixture) prune() []*Canonical {
	kept := make([]*Canonical, 0, len(m.comps))
	for _, c := range m.comps {
		lm := c.LogMass()
		if lm >= m.par.PruneThreshold && !math.IsNaN(lm) {
			kept = append(kept, c)
		}
	}

	if len(kept) == 0 {
		all := make([]*Canonical, len(m.comps))
		copy(all, m.comps)
		sortByLogMass(all)
		n := min(m.par.MaxComponents, len(all))
		return all[:n]
	}

	return kept
}

// merge repeatedly seeds on the largest remaining component and collapses
// every component within the merge radius of the seed mean.
func (m *Mixture) merge(comps []*Canonical) ([]*Canonical, error) {
	live := make([]*Canonical, 0, len(comps))
	for _, c := range comps {
		if !math.IsInf(c.LogMass(), -1) {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		return comps, nil
	}

	sortByLogMass(live)

	var merged []*Canonical
	for len(live) > 0 {
		seed, err := live[0].Mean()
		if err != nil {
			return nil, err
		}

		var group, rest []*Canonical
		for _, c := range live {
			dist, err := c.Mahalanobis(seed)
			if err != nil {
				return nil, err
			}
			if dist <= m.par.MergeDistance {
				group = append(group, c)
			} else {
				rest = append(rest, c)
			}
		}

		sub := &Mixture{vars: m.vars.Clone(), comps: group, par: m.par}
		matched, err := sub.MomentMatch()
		if err != nil {
			return nil, err
		}

		merged = append(merged, matched)
		live = rest
	}

	return merged, nil
}

func sortByLogMass(comps []*Canonical) {
	sort.SliceStable(comps, func(i, j int) bool {
		return comps[i].LogMass() > comps[j].LogMass()
	})
}

// AllClose reports whether two mixtures are structurally equal within tol,
// with components canonically ordered by mean.
func (m *Mixture) AllClose(o *Mixture, tol float64) bool {
	if !m.vars.Equal(o.vars) || len(m.comps) != len(o.comps) {
		return false
	}

	a := m.Components()
	b := o.Components()
	sortByMean(a)
	sortByMean(b)

	for i := range a {
		if !a[i].AllClose(b[i], tol) {
			return false
		}
	}

	return true
}

func sortByMean(comps []*Canonical) {
	key := func(c *Canonical) []float64 {
		mu, err := c.Mean()
		if err != nil {
			return make([]float64, c.Dim())
		}
		out := make([]float64, mu.Len())
		for i := range out {
			out[i] = mu.AtVec(i)
		}
		return out
	}

	sort.SliceStable(comps, func(i, j int) bool {
		a, b := key(comps[i]), key(comps[j])
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}

// String implements the Stringer interface.
func (m *Mixture) String() string {
	s := fmt.Sprintf("Mixture{vars=%v, n=%d}", m.vars, len(m.comps))
	for i, c := range m.comps {
		s += fmt.Sprintf("\ncomponent %d: %v", i, c)
	}

	return s
}

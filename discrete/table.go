package discrete

import (
	"fmt"
	"math"

	track "github.com/milosgajdos/go-track"
)

// Table is a distribution over a small finite domain of a single discrete
// variable. Weights are nonnegative and lazily normalised: consumers that
// need probabilities call Normalize or Prob.
type Table struct {
	// vars is the table scope: one variable, or empty once marginalised out
	vars track.Vars
	// vals is the sorted variable domain
	vals []int
	// w are the value weights, parallel to vals
	w []float64
}

// NewTable creates a new discrete table over variable id with the given
// domain values and weights.
// It returns error if the domain is empty, the weights do not match or any
// weight is negative.
func NewTable(id track.ID, vals []int, weights []float64) (*Table, error) {
	if len(vals) == 0 {
		return nil, fmt.Errorf("empty table domain")
	}
	if len(vals) != len(weights) {
		return nil, fmt.Errorf("invalid weight count: %d vals, %d weights", len(vals), len(weights))
	}

	t := &Table{
		vars: track.NewVars(id),
		vals: make([]int, len(vals)),
		w:    make([]float64, len(weights)),
	}
	copy(t.vals, vals)

	for i, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("invalid weight %v for value %d", w, vals[i])
		}
		t.w[i] = w
	}

	return t, nil
}

// NewUniform creates a table with equal weight on every domain value.
func NewUniform(id track.ID, vals []int) (*Table, error) {
	w := make([]float64, len(vals))
	for i := range w {
		w[i] = 1.0 / float64(len(vals))
	}

	return NewTable(id, vals, w)
}

// Vars returns the table scope.
func (t *Table) Vars() track.Vars {
	return t.vars
}

// Domain returns the table domain values.
func (t *Table) Domain() []int {
	vals := make([]int, len(t.vals))
	copy(vals, t.vals)

	return vals
}

// Weight returns the weight of value v; absent values have zero weight.
func (t *Table) Weight(v int) float64 {
	for i, val := range t.vals {
		if val == v {
			return t.w[i]
		}
	}

	return 0
}

// Prob returns the normalised probability of value v.
func (t *Table) Prob(v int) float64 {
	total := t.total()
	if total == 0 {
		return 0
	}

	return t.Weight(v) / total
}

func (t *Table) total() float64 {
	var sum float64
	for _, w := range t.w {
		sum += w
	}

	return sum
}

// Normalize rescales the weights to sum to one.
func (t *Table) Normalize() {
	total := t.total()
	if total == 0 {
		return
	}

	for i := range t.w {
		t.w[i] /= total
	}
}

// LogMass returns the log of the total table weight.
func (t *Table) LogMass() float64 {
	total := t.total()
	if total == 0 {
		return math.Inf(-1)
	}

	return math.Log(total)
}

// Copy returns a deep copy of the table.
func (t *Table) Copy() track.Factor {
	return t.clone()
}

func (t *Table) clone() *Table {
	c := &Table{
		vars: t.vars.Clone(),
		vals: make([]int, len(t.vals)),
		w:    make([]float64, len(t.w)),
	}
	copy(c.vals, t.vals)
	copy(c.w, t.w)

	return c
}

// Absorb multiplies the table by rhs over the shared variable.
// The product domain is the intersection of the two domains.
func (t *Table) Absorb(rhs track.Factor) (track.Factor, error) {
	o, ok := rhs.(*Table)
	if !ok {
		return nil, fmt.Errorf("cannot absorb factor of type %T", rhs)
	}
	if !t.vars.Equal(o.vars) {
		return nil, fmt.Errorf("table scopes %v and %v: %w", t.vars, o.vars, track.ErrScopeMismatch)
	}

	c := &Table{vars: t.vars.Clone()}
	for i, v := range t.vals {
		if ow := o.Weight(v); ow > 0 || o.contains(v) {
			c.vals = append(c.vals, v)
			c.w = append(c.w, t.w[i]*ow)
		}
	}

	if len(c.vals) == 0 {
		return nil, fmt.Errorf("product table domain is empty")
	}

	return c, nil
}

func (t *Table) contains(v int) bool {
	for _, val := range t.vals {
		if val == v {
			return true
		}
	}

	return false
}

// Cancel divides the table by rhs over the shared variable.
// Division by a zero weight yields a zero weight.
func (t *Table) Cancel(rhs track.Factor) (track.Factor, error) {
	o, ok := rhs.(*Table)
	if !ok {
		return nil, fmt.Errorf("cannot cancel factor of type %T", rhs)
	}
	if !t.vars.Equal(o.vars) {
		return nil, fmt.Errorf("table scopes %v and %v: %w", t.vars, o.vars, track.ErrScopeMismatch)
	}

	c := t.clone()
	for i, v := range c.vals {
		if ow := o.Weight(v); ow > 0 {
			c.w[i] /= ow
		} else {
			c.w[i] = 0
		}
	}

	return c, nil
}

// Marginalize marginalizes the table onto the keep variables. Keeping the
// table variable is the identity; marginalising it out reduces the table to
// its total weight on an empty scope.
func (t *Table) Marginalize(keep track.Vars) (track.Factor, error) {
	if len(t.vars) > 0 && keep.Contains(t.vars[0]) {
		return t.clone(), nil
	}

	return &Table{vars: track.Vars{}, vals: []int{0}, w: []float64{t.total()}}, nil
}

// ObserveAndReduce conditions the table on an observed value, reducing it to
// the evidence weight of that value on an empty scope.
func (t *Table) ObserveAndReduce(vars track.Vars, vals []float64) (track.Factor, error) {
	if len(vars) != len(vals) {
		return nil, fmt.Errorf("invalid observation: %d vars, %d vals", len(vars), len(vals))
	}

	for i, id := range vars {
		if len(t.vars) > 0 && id == t.vars[0] {
			v := int(vals[i])
			return &Table{vars: track.Vars{}, vals: []int{0}, w: []float64{t.Weight(v)}}, nil
		}
	}

	return t.clone(), nil
}

// String implements the Stringer interface.
func (t *Table) String() string {
	return fmt.Sprintf("Table{vars=%v, vals=%v, w=%v}", t.vars, t.vals, t.w)
}

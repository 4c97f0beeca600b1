package clg

import (
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	track "github.com/milosgajdos/go-track"
	"github.com/milosgajdos/go-track/discrete"
	"github.com/milosgajdos/go-track/gaussian"
)

var (
	// assoc is the discrete parent variable
	assoc track.ID = 10
	// contVars is the shared continuous branch scope
	contVars track.Vars
	prior    *discrete.Table
	branches map[int]*gaussian.Mixture
)

func newBranch(t *testing.T, mean []float64, weight float64) *gaussian.Mixture {
	mix, err := gaussian.NewMomentMixture(contVars,
		[]float64{weight},
		[]mat.Vector{mat.NewVecDense(2, mean)},
		[]mat.Symmetric{mat.NewSymDense(2, []float64{1, 0, 0, 1})},
		gaussian.DefaultParams())
	assert.NoError(t, err)

	return mix
}

func setup(t *testing.T) {
	contVars = track.NewVars(1, 2)

	var err error
	prior, err = discrete.NewTable(assoc, []int{0, 1}, []float64{0.25, 0.75})
	assert.NoError(t, err)

	branches = map[int]*gaussian.Mixture{
		0: newBranch(t, []float64{0, 0}, 0.5),
		1: newBranch(t, []float64{4, 4}, 2.0),
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func TestNew(t *testing.T) {
	setup(t)
	assert := assert.New(t)

	c, err := New(prior, branches)
	assert.NoError(err)
	assert.True(track.NewVars(1, 2, assoc).Equal(c.Vars()))

	// missing branch
	_, err = New(prior, map[int]*gaussian.Mixture{0: branches[0]})
	assert.Error(err)

	// mismatched branch scope
	other, err := gaussian.NewMomentMixture(track.NewVars(5, 6),
		[]float64{1.0},
		[]mat.Vector{mat.NewVecDense(2, nil)},
		[]mat.Symmetric{mat.NewSymDense(2, []float64{1, 0, 0, 1})},
		gaussian.DefaultParams())
	assert.NoError(err)
	_, err = New(prior, map[int]*gaussian.Mixture{0: branches[0], 1: other})
	assert.ErrorIs(err, track.ErrScopeMismatch)
}

func TestLogMass(t *testing.T) {
	setup(t)
	assert := assert.New(t)

	c, err := New(prior, branches)
	assert.NoError(err)

	// total mass is the parent-weighted sum of branch masses
	want := math.Log(0.25*0.5 + 0.75*2.0)
	assert.InDelta(want, c.LogMass(), 1e-9)
}

func TestMarginalizeParent(t *testing.T) {
	setup(t)
	assert := assert.New(t)

	c, err := New(prior, branches)
	assert.NoError(err)

	mix, err := c.MarginalizeParent()
	assert.NoError(err)
	assert.Equal(2, mix.Len())
	assert.True(contVars.Equal(mix.Vars()))
	assert.InDelta(c.LogMass(), mix.LogMass(), 1e-9)
}

func TestMarginalizeToParent(t *testing.T) {
	setup(t)
	assert := assert.New(t)

	c, err := New(prior, branches)
	assert.NoError(err)

	m, err := c.Marginalize(track.NewVars(assoc))
	assert.NoError(err)
	tab := m.(*discrete.Table)

	assert.InDelta(0.25*0.5, tab.Weight(0), 1e-9)
	assert.InDelta(0.75*2.0, tab.Weight(1), 1e-9)

	// mixed discrete and continuous scopes cannot be kept together
	_, err = c.Marginalize(track.NewVars(assoc, 1))
	assert.Error(err)
}

func TestMarginalizeToContinuous(t *testing.T) {
	setup(t)
	assert := assert.New(t)

	c, err := New(prior, branches)
	assert.NoError(err)

	m, err := c.Marginalize(track.NewVars(1))
	assert.NoError(err)
	assert.True(track.NewVars(1).Equal(m.Vars()))
	assert.InDelta(c.LogMass(), m.LogMass(), 1e-9)
}

func TestAbsorbContinuous(t *testing.T) {
	setup(t)
	assert := assert.New(t)

	c, err := New(prior, branches)
	assert.NoError(err)

	msg, err := gaussian.NewMoment(contVars, mat.NewVecDense(2, []float64{0, 0}),
		mat.NewSymDense(2, []float64{2, 0, 0, 2}), 1.0)
	assert.NoError(err)

	p, err := c.Absorb(msg)
	assert.NoError(err)
	pc := p.(*Conditional)

	// the message multiplied into every branch: the branch centred on the
	// message gains relative mass over the distant one
	b0, ok := pc.Branch(0)
	assert.True(ok)
	b1, ok := pc.Branch(1)
	assert.True(ok)
	gain0 := b0.LogMass() - branches[0].LogMass()
	gain1 := b1.LogMass() - branches[1].LogMass()
	assert.Greater(gain0, gain1)

	// absorb and cancel round-trip
	q, err := p.Cancel(msg)
	assert.NoError(err)
	qb, ok := q.(*Conditional).Branch(0)
	assert.True(ok)
	assert.True(qb.AllClose(branches[0], 1e-9))
}

func TestAbsorbDiscrete(t *testing.T) {
	setup(t)
	assert := assert.New(t)

	c, err := New(prior, branches)
	assert.NoError(err)

	evid, err := discrete.NewTable(assoc, []int{0, 1}, []float64{1.0, 0.0})
	assert.NoError(err)

	p, err := c.Absorb(evid)
	assert.NoError(err)
	pc := p.(*Conditional)

	assert.InDelta(1.0, pc.Prior().Prob(0), 1e-12)
	assert.InDelta(0.0, pc.Prior().Prob(1), 1e-12)
}

func TestObserveFullScope(t *testing.T) {
	setup(t)
	assert := assert.New(t)

	c, err := New(prior, branches)
	assert.NoError(err)

	// observing the whole continuous scope collapses to a discrete factor
	r, err := c.ObserveAndReduce(contVars, []float64{0, 0})
	assert.NoError(err)
	tab := r.(*discrete.Table)

	// the observation sits on branch 0's mean: branch 0 dominates
	tab.Normalize()
	assert.Greater(tab.Prob(0), tab.Prob(1))
}

func TestObservePartialScope(t *testing.T) {
	setup(t)
	assert := assert.New(t)

	c, err := New(prior, branches)
	assert.NoError(err)

	r, err := c.ObserveAndReduce(track.NewVars(2), []float64{0})
	assert.NoError(err)
	rc := r.(*Conditional)

	assert.True(track.NewVars(1, assoc).Equal(rc.Vars()))
}

package discrete

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	track "github.com/milosgajdos/go-track"
)

func TestNewTable(t *testing.T) {
	assert := assert.New(t)

	tab, err := NewTable(1, []int{0, 2, 5}, []float64{0.2, 0.3, 0.5})
	assert.NoError(err)
	assert.Equal([]int{0, 2, 5}, tab.Domain())
	assert.Equal(0.3, tab.Weight(2))
	assert.Equal(0.0, tab.Weight(1))

	// negative weights are rejected
	_, err = NewTable(1, []int{0}, []float64{-0.1})
	assert.Error(err)

	// values and weights must align
	_, err = NewTable(1, []int{0, 1}, []float64{1.0})
	assert.Error(err)
}

func TestNewUniform(t *testing.T) {
	assert := assert.New(t)

	tab, err := NewUniform(3, []int{0, 1, 4})
	assert.NoError(err)

	for _, v := range tab.Domain() {
		assert.InDelta(1.0/3.0, tab.Prob(v), 1e-12)
	}
}

func TestTableAbsorbCancel(t *testing.T) {
	assert := assert.New(t)

	a, err := NewTable(1, []int{0, 1, 2}, []float64{0.5, 0.3, 0.2})
	assert.NoError(err)
	b, err := NewTable(1, []int{1, 2, 3}, []float64{2.0, 1.0, 4.0})
	assert.NoError(err)

	p, err := a.Absorb(b)
	assert.NoError(err)
	pt := p.(*Table)

	// the product domain is the domain intersection
	assert.Equal([]int{1, 2}, pt.Domain())
	assert.InDelta(0.6, pt.Weight(1), 1e-12)
	assert.InDelta(0.2, pt.Weight(2), 1e-12)

	q, err := p.Cancel(b)
	assert.NoError(err)
	qt := q.(*Table)
	assert.InDelta(0.3, qt.Weight(1), 1e-12)
	assert.InDelta(0.2, qt.Weight(2), 1e-12)
}

func TestTableScopeMismatch(t *testing.T) {
	assert := assert.New(t)

	a, err := NewTable(1, []int{0}, []float64{1.0})
	assert.NoError(err)
	b, err := NewTable(2, []int{0}, []float64{1.0})
	assert.NoError(err)

	_, err = a.Absorb(b)
	assert.ErrorIs(err, track.ErrScopeMismatch)
}

func TestTableMarginalize(t *testing.T) {
	assert := assert.New(t)

	tab, err := NewTable(4, []int{0, 1}, []float64{0.4, 0.6})
	assert.NoError(err)

	// keeping the variable is the identity
	m, err := tab.Marginalize(track.NewVars(4))
	assert.NoError(err)
	assert.Equal([]int{0, 1}, m.(*Table).Domain())

	// marginalising it out leaves the total weight
	m, err = tab.Marginalize(track.NewVars())
	assert.NoError(err)
	assert.Empty(m.Vars())
	assert.InDelta(math.Log(1.0), m.LogMass(), 1e-12)
}

func TestTableObserveAndReduce(t *testing.T) {
	assert := assert.New(t)

	tab, err := NewTable(4, []int{0, 1}, []float64{0.4, 0.6})
	assert.NoError(err)

	r, err := tab.ObserveAndReduce(track.NewVars(4), []float64{1})
	assert.NoError(err)
	assert.Empty(r.Vars())
	assert.InDelta(math.Log(0.6), r.LogMass(), 1e-12)
}

func TestTableNormalize(t *testing.T) {
	assert := assert.New(t)

	tab, err := NewTable(1, []int{0, 1}, []float64{2.0, 6.0})
	assert.NoError(err)

	tab.Normalize()
	assert.InDelta(0.25, tab.Weight(0), 1e-12)
	assert.InDelta(0.75, tab.Weight(1), 1e-12)
	assert.InDelta(0.0, tab.LogMass(), 1e-12)
}

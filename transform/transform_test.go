package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestNewLinear(t *testing.T) {
	assert := assert.New(t)

	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	b := mat.NewVecDense(2, []float64{1, -1})

	l, err := NewLinear(a, b)
	assert.NoError(err)

	out, err := l.Apply(mat.NewVecDense(2, []float64{1, 1}))
	assert.NoError(err)
	assert.InDelta(4.0, out.AtVec(0), 1e-12)
	assert.InDelta(6.0, out.AtVec(1), 1e-12)

	// the Jacobian of an affine map is its matrix
	jac, err := l.Jacobian(nil)
	assert.NoError(err)
	assert.True(mat.EqualApprox(a, jac, 1e-12))

	// bias dimension mismatch
	_, err = NewLinear(a, mat.NewVecDense(3, nil))
	assert.Error(err)
}

func TestFuncJacobian(t *testing.T) {
	assert := assert.New(t)

	// a nonlinear polar-style map
	f := func(v mat.Vector) mat.Vector {
		x, y := v.AtVec(0), v.AtVec(1)
		return mat.NewVecDense(2, []float64{x * x, x * y})
	}

	tr, err := NewFunc(f, 2, 2)
	assert.NoError(err)

	at := mat.NewVecDense(2, []float64{2.0, 3.0})
	jac, err := tr.Jacobian(at)
	assert.NoError(err)

	// d(x^2)/dx = 2x, d(xy)/dx = y, d(xy)/dy = x
	assert.InDelta(4.0, jac.At(0, 0), 1e-6)
	assert.InDelta(0.0, jac.At(0, 1), 1e-6)
	assert.InDelta(3.0, jac.At(1, 0), 1e-6)
	assert.InDelta(2.0, jac.At(1, 1), 1e-6)

	_, err = tr.Apply(mat.NewVecDense(3, nil))
	assert.Error(err)
}

func TestConstantAcceleration(t *testing.T) {
	assert := assert.New(t)

	m, err := NewConstantAcceleration(1, 0.5)
	assert.NoError(err)

	// (p, v, a) = (0, 1, 2) after dt = 0.5
	out, err := m.Apply(mat.NewVecDense(3, []float64{0, 1, 2}))
	assert.NoError(err)
	assert.InDelta(0*1+1*0.5+0.5*2*0.25, out.AtVec(0), 1e-12)
	assert.InDelta(1+2*0.5, out.AtVec(1), 1e-12)
	assert.InDelta(2.0, out.AtVec(2), 1e-12)

	_, err = NewConstantAcceleration(0, 1.0)
	assert.Error(err)
}

func TestConstantVelocity(t *testing.T) {
	assert := assert.New(t)

	m, err := NewConstantVelocity(2, 1.0)
	assert.NoError(err)

	out, err := m.Apply(mat.NewVecDense(4, []float64{1, 2, 3, -1}))
	assert.NoError(err)
	assert.InDelta(3.0, out.AtVec(0), 1e-12)
	assert.InDelta(2.0, out.AtVec(1), 1e-12)
	assert.InDelta(2.0, out.AtVec(2), 1e-12)
	assert.InDelta(-1.0, out.AtVec(3), 1e-12)
}

func TestPositionSensor(t *testing.T) {
	assert := assert.New(t)

	s, err := NewPositionSensor(6, 3, nil)
	assert.NoError(err)

	// state (x, vx, ax, y, vy, ay)
	out, err := s.Apply(mat.NewVecDense(6, []float64{1, 0, 0, 2, 0, 0}))
	assert.NoError(err)
	assert.Equal(2, out.Len())
	assert.InDelta(1.0, out.AtVec(0), 1e-12)
	assert.InDelta(2.0, out.AtVec(1), 1e-12)

	// a displaced sensor subtracts its location
	loc := mat.NewVecDense(2, []float64{10, 20})
	s, err = NewPositionSensor(6, 3, loc)
	assert.NoError(err)
	out, err = s.Apply(mat.NewVecDense(6, []float64{1, 0, 0, 2, 0, 0}))
	assert.NoError(err)
	assert.InDelta(-9.0, out.AtVec(0), 1e-12)
	assert.InDelta(-18.0, out.AtVec(1), 1e-12)

	// stride must divide the state dimension
	_, err = NewPositionSensor(5, 3, nil)
	assert.Error(err)
}

func TestLinearRoundTrip(t *testing.T) {
	assert := assert.New(t)

	l, err := NewConstantAcceleration(2, 1.0)
	assert.NoError(err)

	a, b := l.Linear()
	r, c := a.Dims()
	assert.Equal(6, r)
	assert.Equal(6, c)
	for i := 0; i < b.Len(); i++ {
		assert.Equal(0.0, b.AtVec(i))
	}
}

package transform

import (
	"fmt"

	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Linear is an affine vector transform x' = A*x + b.
type Linear struct {
	// a is the transform matrix
	a *mat.Dense
	// b is the transform bias
	b *mat.VecDense
}

// NewLinear creates a new affine transform from matrix a and bias b and
// returns it. A nil bias is treated as zero.
// It returns error if the bias dimension does not match a.
func NewLinear(a mat.Matrix, b mat.Vector) (*Linear, error) {
	rows, _ := a.Dims()

	bias := mat.NewVecDense(rows, nil)
	if b != nil {
		if b.Len() != rows {
			return nil, fmt.Errorf("invalid bias dimension: %d", b.Len())
		}
		bias.CopyVec(b)
	}

	aa := &mat.Dense{}
	aa.CloneFrom(a)

	return &Linear{a: aa, b: bias}, nil
}

// Apply transforms the mean vector.
func (l *Linear) Apply(mean mat.Vector) (mat.Vector, error) {
	rows, cols := l.a.Dims()
	if mean.Len() != cols {
		return nil, fmt.Errorf("invalid vector dimension: %d", mean.Len())
	}

	out := mat.NewVecDense(rows, nil)
	out.MulVec(l.a, mean)
	out.AddVec(out, l.b)

	return out, nil
}

// Jacobian returns the transform matrix.
func (l *Linear) Jacobian(mean mat.Vector) (mat.Matrix, error) {
	a := &mat.Dense{}
	a.CloneFrom(l.a)

	return a, nil
}

// Linear returns the affine map matrix and bias.
func (l *Linear) Linear() (mat.Matrix, mat.Vector) {
	a := &mat.Dense{}
	a.CloneFrom(l.a)

	b := mat.NewVecDense(l.b.Len(), nil)
	b.CopyVec(l.b)

	return a, b
}

// Func is a nonlinear vector transform whose Jacobian is computed
// numerically with central finite differences.
type Func struct {
	// f is the transform function
	f func(mat.Vector) mat.Vector
	// in and out are the transform dimensions
	in  int
	out int
}

// NewFunc creates a new nonlinear transform from f with the given input and
// output dimensions and returns it.
func NewFunc(f func(mat.Vector) mat.Vector, in, out int) (*Func, error) {
	if f == nil {
		return nil, fmt.Errorf("invalid transform function")
	}
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("invalid transform dimensions: [%d x %d]", in, out)
	}

	return &Func{f: f, in: in, out: out}, nil
}

// Apply transforms the mean vector.
func (t *Func) Apply(mean mat.Vector) (mat.Vector, error) {
	if mean.Len() != t.in {
		return nil, fmt.Errorf("invalid vector dimension: %d", mean.Len())
	}

	return t.f(mean), nil
}

// Jacobian computes the transform Jacobian at mean with central finite
// differences.
func (t *Func) Jacobian(mean mat.Vector) (mat.Matrix, error) {
	if mean.Len() != t.in {
		return nil, fmt.Errorf("invalid vector dimension: %d", mean.Len())
	}

	jac := mat.NewDense(t.out, t.in, nil)
	fd.Jacobian(jac, func(y, x []float64) {
		out := t.f(mat.NewVecDense(len(x), x))
		for i := 0; i < len(y); i++ {
			y[i] = out.AtVec(i)
		}
	}, mat.Col(nil, 0, mean), &fd.JacobianSettings{
		Formula:    fd.Central,
		Concurrent: true,
	})

	return jac, nil
}

// NewConstantAcceleration builds the discrete constant-acceleration motion
// transform for the given number of independent axes and time step dt.
// Each axis carries (position, velocity, acceleration) coordinates:
//
//	p' = p + v*dt + 0.5*a*dt^2
//	v' = v + a*dt
//	a' = a
func NewConstantAcceleration(axes int, dt float64) (*Linear, error) {
	if axes <= 0 {
		return nil, fmt.Errorf("invalid axis count: %d", axes)
	}

	n := 3 * axes
	a, err := matrix.NewDenseValIdentity(n, 1.0)
	if err != nil {
		return nil, err
	}

	for i := 0; i < axes; i++ {
		o := 3 * i
		a.Set(o, o+1, dt)
		a.Set(o, o+2, 0.5*dt*dt)
		a.Set(o+1, o+2, dt)
	}

	return NewLinear(a, nil)
}

// NewConstantVelocity builds the discrete constant-velocity motion transform
// for the given number of independent axes and time step dt. Each axis
// carries (position, velocity) coordinates.
func NewConstantVelocity(axes int, dt float64) (*Linear, error) {
	if axes <= 0 {
		return nil, fmt.Errorf("invalid axis count: %d", axes)
	}

	n := 2 * axes
	a, err := matrix.NewDenseValIdentity(n, 1.0)
	if err != nil {
		return nil, err
	}

	for i := 0; i < axes; i++ {
		a.Set(2*i, 2*i+1, dt)
	}

	return NewLinear(a, nil)
}

// NewPositionSensor builds the measurement transform of a fixed sensor that
// observes the position coordinate of every axis. The state carries stride
// coordinates per axis with position first; loc is the sensor location
// subtracted from the observed positions, nil meaning the origin.
func NewPositionSensor(stateDim, stride int, loc mat.Vector) (*Linear, error) {
	if stride <= 0 || stateDim <= 0 || stateDim%stride != 0 {
		return nil, fmt.Errorf("invalid sensor dimensions: state %d, stride %d", stateDim, stride)
	}

	axes := stateDim / stride
	if loc != nil && loc.Len() != axes {
		return nil, fmt.Errorf("invalid sensor location dimension: %d", loc.Len())
	}

	a := mat.NewDense(axes, stateDim, nil)
	for i := 0; i < axes; i++ {
		a.Set(i, i*stride, 1.0)
	}

	var b mat.Vector
	if loc != nil {
		neg := mat.NewVecDense(axes, nil)
		neg.ScaleVec(-1, loc)
		b = neg
	}

	return NewLinear(a, b)
}

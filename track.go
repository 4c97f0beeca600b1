package track

import "gonum.org/v1/gonum/mat"

// Factor is a probability factor over a sorted scope of scalar random variables.
// Every concrete factor (canonical Gaussian, Gaussian mixture, discrete table,
// conditional linear Gaussian) implements this capability surface; operations
// that genuinely need the concrete variant are exposed as methods on the variant.
type Factor interface {
	// Vars returns the factor scope
	Vars() Vars
	// Absorb multiplies the factor by rhs and returns the product
	Absorb(rhs Factor) (Factor, error)
	// Cancel divides the factor by rhs and returns the quotient
	Cancel(rhs Factor) (Factor, error)
	// Marginalize marginalizes the factor onto the keep variables
	Marginalize(keep Vars) (Factor, error)
	// ObserveAndReduce conditions the factor on observed variable values
	// and drops the observed variables from its scope
	ObserveAndReduce(vars Vars, vals []float64) (Factor, error)
	// LogMass returns the logarithm of the factor total mass
	LogMass() float64
	// Copy returns a deep copy of the factor
	Copy() Factor
}

// VectorTransform maps a vector between two spaces.
// It is supplied externally for both the motion model (state to state)
// and each sensor model (state to measurement).
type VectorTransform interface {
	// Apply transforms the mean vector
	Apply(mean mat.Vector) (mat.Vector, error)
	// Jacobian returns the transform Jacobian evaluated at mean
	Jacobian(mean mat.Vector) (mat.Matrix, error)
}

// LinearTransform is an affine fast path for VectorTransform.
// Transforms which are affine maps x' = A*x + b may implement it so
// consumers can skip the linearisation point.
type LinearTransform interface {
	VectorTransform
	// Linear returns the affine map matrix and bias
	Linear() (A mat.Matrix, b mat.Vector)
}

// MeasurementSource yields sensor measurements per discrete time step.
type MeasurementSource interface {
	// Points returns all measurement vectors reported by the given sensor
	// at the given time step
	Points(sensor, time int) ([]mat.Vector, error)
	// TimeSteps returns the number of available time steps
	TimeSteps() int
}

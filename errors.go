package track

import "errors"

var (
	// ErrSingular is returned when a matrix inversion fails even after
	// the jitter retry.
	ErrSingular = errors.New("singular matrix")

	// ErrIndefinite is returned when a factor quotient yields a precision
	// matrix which is not positive semidefinite.
	ErrIndefinite = errors.New("numerically indefinite quotient")

	// ErrEmptySepset is returned when two clusters with disjoint scopes
	// are linked by an edge.
	ErrEmptySepset = errors.New("empty sepset")

	// ErrScopeMismatch is returned when factors on incompatible scopes are
	// combined by an operation which requires equal scopes.
	ErrScopeMismatch = errors.New("factor scope mismatch")
)

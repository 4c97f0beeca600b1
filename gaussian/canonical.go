package gaussian

import (
	"fmt"
	"math"

	track "github.com/milosgajdos/go-track"
	"gonum.org/v1/gonum/mat"
)

const ln2Pi = 1.8378770664093453

// Canonical is a single Gaussian factor in canonical (information) form,
// parameterised by precision K, information vector h and log-normaliser g:
//
//	f(x) = exp(g + h'x - 0.5 x'Kx)
//
// A vacuous factor has K = 0, h = 0, g = 0 and is the multiplicative identity.
// A factor with an empty scope carries only g and represents a scalar mass.
type Canonical struct {
	// vars is the sorted factor scope
	vars track.Vars
	// k is the precision matrix
	k *mat.SymDense
	// h is the information vector
	h *mat.VecDense
	// g is the log-normaliser
	g float64
}

// NewCanonical creates a new canonical Gaussian over vars given precision k,
// information h and log-normaliser g.
// It returns error if the dimensions of k and h do not match the scope.
func NewCanonical(vars track.Vars, k mat.Symmetric, h mat.Vector, g float64) (*Canonical, error) {
	d := len(vars)
	if d == 0 {
		return &Canonical{vars: track.Vars{}, g: g}, nil
	}

	if k.SymmetricDim() != d || h.Len() != d {
		return nil, fmt.Errorf("invalid parameter dimensions: K %d, h %d, scope %d", k.SymmetricDim(), h.Len(), d)
	}

	kk := mat.NewSymDense(d, nil)
	kk.CopySym(k)

	hh := mat.NewVecDense(d, nil)
	hh.CopyVec(h)

	return &Canonical{
		vars: vars.Clone(),
		k:    kk,
		h:    hh,
		g:    g,
	}, nil
}

// NewVacuous creates a vacuous canonical Gaussian over vars and returns it.
func NewVacuous(vars track.Vars) *Canonical {
	d := len(vars)
	if d == 0 {
		return &Canonical{vars: track.Vars{}}
	}

	return &Canonical{
		vars: vars.Clone(),
		k:    mat.NewSymDense(d, nil),
		h:    mat.NewVecDense(d, nil),
	}
}

// NewMoment creates a new canonical Gaussian over vars from its moment form:
// mean, covariance and linear weight. The resulting factor integrates to weight.
// It returns error if cov is not invertible.
func NewMoment(vars track.Vars, mean mat.Vector, cov mat.Symmetric, weight float64) (*Canonical, error) {
	d := len(vars)
	if mean.Len() != d || cov.SymmetricDim() != d {
		return nil, fmt.Errorf("invalid moment dimensions: mean %d, cov %d, scope %d", mean.Len(), cov.SymmetricDim(), d)
	}

	k, logDetCov, err := inverse(cov)
	if err != nil {
		return nil, fmt.Errorf("failed to invert covariance: %w", err)
	}

	h := mat.NewVecDense(d, nil)
	h.MulVec(k, mean)

	// log-det of K is the negated log-det of the covariance
	g := math.Log(weight) - 0.5*mat.Dot(mean, h) - 0.5*float64(d)*ln2Pi - 0.5*logDetCov

	return &Canonical{
		vars: vars.Clone(),
		k:    k,
		h:    h,
		g:    g,
	}, nil
}

// Vars returns the factor scope.
func (c *Canonical) Vars() track.Vars {
	return c.vars
}

// Dim returns the factor dimension.
func (c *Canonical) Dim() int {
	return len(c.vars)
}

// Precision returns a copy of the precision matrix K.
func (c *Canonical) Precision() mat.Symmetric {
	k := mat.NewSymDense(len(c.vars), nil)
	k.CopySym(c.k)

	return k
}

// Info returns a copy of the information vector h.
func (c *Canonical) Info() mat.Vector {
	h := mat.NewVecDense(len(c.vars), nil)
	h.CopyVec(c.h)

	return h
}

// G returns the log-normaliser g.
func (c *Canonical) G() float64 {
	return c.g
}

// Copy returns a deep copy of the factor.
func (c *Canonical) Copy() track.Factor {
	return c.clone()
}

func (c *Canonical) clone() *Canonical {
	if len(c.vars) == 0 {
		return &Canonical{vars: track.Vars{}, g: c.g}
	}

	k := mat.NewSymDense(len(c.vars), nil)
	k.CopySym(c.k)

	h := mat.NewVecDense(len(c.vars), nil)
	h.CopyVec(c.h)

	return &Canonical{vars: c.vars.Clone(), k: k, h: h, g: c.g}
}

// Mean returns the factor mean K^-1 * h.
// It returns error if K is singular.
func (c *Canonical) Mean() (mat.Vector, error) {
	if len(c.vars) == 0 {
		return nil, fmt.Errorf("empty scope factor has no mean")
	}

	return solveVec(c.k, c.h)
}

// Cov returns the factor covariance K^-1.
// It returns error if K is singular.
func (c *Canonical) Cov() (mat.Symmetric, error) {
	if len(c.vars) == 0 {
		return nil, fmt.Errorf("empty scope factor has no covariance")
	}

	cov, _, err := inverse(c.k)
	if err != nil {
		return nil, err
	}

	return cov, nil
}

// LogMass returns the logarithm of the factor total mass.
// A factor whose precision is not positive definite has unbounded mass
// and reports +Inf.
func (c *Canonical) LogMass() float64 {
	d := len(c.vars)
	if d == 0 {
		return c.g
	}

	ch, err := factorize(c.k)
	if err != nil {
		return math.Inf(1)
	}

	mu := &mat.VecDense{}
	if err := ch.SolveVecTo(mu, c.h); err != nil {
		return math.Inf(1)
	}

	return c.g + 0.5*mat.Dot(c.h, mu) + 0.5*float64(d)*ln2Pi - 0.5*ch.LogDet()
}

// Mass returns the factor total mass.
func (c *Canonical) Mass() float64 {
	lm := c.LogMass()
	if math.IsInf(lm, -1) {
		return 0
	}

	return math.Exp(lm)
}

// AdjustLogMass rescales the factor so its log mass changes by delta.
func (c *Canonical) AdjustLogMass(delta float64) {
	c.g += delta
}

// Mahalanobis returns the Mahalanobis distance of x from the factor mean
// under the factor precision: (x - mu)' K (x - mu).
// It returns error if the mean is undefined.
func (c *Canonical) Mahalanobis(x mat.Vector) (float64, error) {
	if x.Len() != len(c.vars) {
		return 0, fmt.Errorf("invalid vector dimension: %d", x.Len())
	}

	mu, err := c.Mean()
	if err != nil {
		return 0, err
	}

	diff := mat.NewVecDense(x.Len(), nil)
	diff.SubVec(x, mu)

	kd := mat.NewVecDense(x.Len(), nil)
	kd.MulVec(c.k, diff)

	return mat.Dot(diff, kd), nil
}

// extend zero-pads the factor onto the superset scope to.
func (c *Canonical) extend(to track.Vars) *Canonical {
	if c.vars.Equal(to) {
		return c.clone()
	}

	d := len(to)
	k := mat.NewSymDense(d, nil)
	h := mat.NewVecDense(d, nil)

	idx := make([]int, len(c.vars))
	for i, id := range c.vars {
		idx[i] = to.Index(id)
	}

	for i := range c.vars {
		h.SetVec(idx[i], c.h.AtVec(i))
		for j := i; j < len(c.vars); j++ {
			k.SetSym(idx[i], idx[j], c.k.At(i, j))
		}
	}

	return &Canonical{vars: to.Clone(), k: k, h: h, g: c.g}
}

// product multiplies two canonical Gaussians over the union of their scopes.
func (c *Canonical) product(o *Canonical) *Canonical {
	u := c.vars.Union(o.vars)
	lhs := c.extend(u)
	rhs := o.extend(u)

	if len(u) > 0 {
		lhs.k.AddSym(lhs.k, rhs.k)
		lhs.h.AddVec(lhs.h, rhs.h)
	}
	lhs.g += rhs.g

	return lhs
}

// quotient divides the factor by o over the union of their scopes.
// It returns ErrIndefinite if the resulting precision is not positive
// semidefinite within a numeric tolerance.
func (c *Canonical) quotient(o *Canonical) (*Canonical, error) {
	u := c.vars.Union(o.vars)
	lhs := c.extend(u)
	rhs := o.extend(u)

	if len(u) > 0 {
		var negK mat.SymDense
		negK.ScaleSym(-1, rhs.k)
		lhs.k.AddSym(lhs.k, &negK)
		lhs.h.SubVec(lhs.h, rhs.h)
	}
	lhs.g -= rhs.g

	if len(u) > 0 {
		min, err := minEigenvalue(lhs.k)
		if err != nil {
			return nil, err
		}

		tol := 1e-9 * (1 + math.Abs(mat.Trace(lhs.k)))
		if min < -tol {
			return nil, fmt.Errorf("quotient precision eigenvalue %g: %w", min, track.ErrIndefinite)
		}
	}

	return lhs, nil
}

// Absorb multiplies the factor by rhs and returns the product.
// Multiplying by a mixture produces a mixture.
func (c *Canonical) Absorb(rhs track.Factor) (track.Factor, error) {
	switch f := rhs.(type) {
	case *Canonical:
		return c.product(f), nil
	case *Mixture:
		return f.Absorb(c)
	}

	return nil, fmt.Errorf("cannot absorb factor of type %T", rhs)
}

// Cancel divides the factor by rhs and returns the quotient.
func (c *Canonical) Cancel(rhs track.Factor) (track.Factor, error) {
	switch f := rhs.(type) {
	case *Canonical:
		return c.quotient(f)
	case *Mixture:
		single, err := f.MomentMatch()
		if err != nil {
			return nil, err
		}
		return c.quotient(single)
	}

	return nil, fmt.Errorf("cannot cancel factor of type %T", rhs)
}

// Marginalize marginalizes the factor onto the keep variables.
// Marginalising everything out yields an empty scope factor whose
// log-normaliser equals the factor log mass.
// It returns error wrapping ErrSingular if the marginalised block is singular.
func (c *Canonical) Marginalize(keep track.Vars) (track.Factor, error) {
	return c.marginal(keep)
}

func (c *Canonical) marginal(keep track.Vars) (*Canonical, error) {
	s := c.vars.Intersect(keep)
	r := c.vars.Diff(s)

	if len(r) == 0 {
		return c.clone(), nil
	}

	if len(s) == 0 {
		return &Canonical{vars: track.Vars{}, g: c.LogMass()}, nil
	}

	sIdx := make([]int, len(s))
	for i, id := range s {
		sIdx[i] = c.vars.Index(id)
	}
	rIdx := make([]int, len(r))
	for i, id := range r {
		rIdx[i] = c.vars.Index(id)
	}

	// Vacuous dimensions carry no information; dropping them must not
	// shift the factor mass.
	vacuous := true
	for _, ri := range rIdx {
		if c.h.AtVec(ri) != 0 {
			vacuous = false
			break
		}
		for j := 0; j < len(c.vars); j++ {
			if c.k.At(ri, j) != 0 {
				vacuous = false
				break
			}
		}
		if !vacuous {
			break
		}
	}
	if vacuous {
		k := mat.NewSymDense(len(s), nil)
		h := mat.NewVecDense(len(s), nil)
		for i := range s {
			h.SetVec(i, c.h.AtVec(sIdx[i]))
			for j := i; j < len(s); j++ {
				k.SetSym(i, j, c.k.At(sIdx[i], sIdx[j]))
			}
		}
		return &Canonical{vars: s, k: k, h: h, g: c.g}, nil
	}

	kss := mat.NewSymDense(len(s), nil)
	for i := range s {
		for j := i; j < len(s); j++ {
			kss.SetSym(i, j, c.k.At(sIdx[i], sIdx[j]))
		}
	}

	krr := mat.NewSymDense(len(r), nil)
	for i := range r {
		for j := i; j < len(r); j++ {
			krr.SetSym(i, j, c.k.At(rIdx[i], rIdx[j]))
		}
	}

	ksr := mat.NewDense(len(s), len(r), nil)
	for i := range s {
		for j := range r {
			ksr.Set(i, j, c.k.At(sIdx[i], rIdx[j]))
		}
	}

	hs := mat.NewVecDense(len(s), nil)
	for i := range s {
		hs.SetVec(i, c.h.AtVec(sIdx[i]))
	}
	hr := mat.NewVecDense(len(r), nil)
	for i := range r {
		hr.SetVec(i, c.h.AtVec(rIdx[i]))
	}

	ch, err := factorize(krr)
	if err != nil {
		return nil, fmt.Errorf("failed to marginalize: %w", err)
	}

	// W = Krr^-1 * Krs
	w := &mat.Dense{}
	if err := ch.SolveTo(w, ksr.T()); err != nil {
		return nil, fmt.Errorf("failed to marginalize: %w", track.ErrSingular)
	}

	// Ks = Kss - Ksr Krr^-1 Krs
	prod := &mat.Dense{}
	prod.Mul(ksr, w)

	ks := mat.NewSymDense(len(s), nil)
	for i := range s {
		for j := i; j < len(s); j++ {
			ks.SetSym(i, j, kss.At(i, j)-0.5*(prod.At(i, j)+prod.At(j, i)))
		}
	}

	// mr = Krr^-1 * hr
	mr := &mat.VecDense{}
	if err := ch.SolveVecTo(mr, hr); err != nil {
		return nil, fmt.Errorf("failed to marginalize: %w", track.ErrSingular)
	}

	// hs' = hs - Ksr Krr^-1 hr
	hNew := mat.NewVecDense(len(s), nil)
	hNew.MulVec(ksr, mr)
	hNew.SubVec(hs, hNew)

	g := c.g + 0.5*(float64(len(r))*ln2Pi-ch.LogDet()+mat.Dot(hr, mr))

	return &Canonical{vars: s, k: ks, h: hNew, g: g}, nil
}

// ObserveAndReduce conditions the factor on the observed variable values
// and drops the observed variables from the scope.
func (c *Canonical) ObserveAndReduce(vars track.Vars, vals []float64) (track.Factor, error) {
	return c.observe(vars, vals)
}

func (c *Canonical) observe(vars track.Vars, vals []float64) (*Canonical, error) {
	if len(vars) != len(vals) {
		return nil, fmt.Errorf("invalid observation: %d vars, %d vals", len(vars), len(vals))
	}

	// observed variables present in this scope, with their values
	var s track.Vars
	var sv []float64
	for i, id := range vars {
		if c.vars.Contains(id) {
			s = append(s, id)
			sv = append(sv, vals[i])
		}
	}

	if len(s) == 0 {
		return c.clone(), nil
	}

	r := c.vars.Diff(s)

	sIdx := make([]int, len(s))
	for i, id := range s {
		sIdx[i] = c.vars.Index(id)
	}
	rIdx := make([]int, len(r))
	for i, id := range r {
		rIdx[i] = c.vars.Index(id)
	}

	sVec := mat.NewVecDense(len(s), sv)

	// g' = g + hs's - 0.5 s'Kss s
	var hss, sks float64
	for i := range s {
		hss += c.h.AtVec(sIdx[i]) * sv[i]
		for j := range s {
			sks += sv[i] * c.k.At(sIdx[i], sIdx[j]) * sv[j]
		}
	}
	g := c.g + hss - 0.5*sks

	if len(r) == 0 {
		return &Canonical{vars: track.Vars{}, g: g}, nil
	}

	kr := mat.NewSymDense(len(r), nil)
	for i := range r {
		for j := i; j < len(r); j++ {
			kr.SetSym(i, j, c.k.At(rIdx[i], rIdx[j]))
		}
	}

	krs := mat.NewDense(len(r), len(s), nil)
	for i := range r {
		for j := range s {
			krs.Set(i, j, c.k.At(rIdx[i], sIdx[j]))
		}
	}

	// h' = hr - Krs*s
	h := mat.NewVecDense(len(r), nil)
	h.MulVec(krs, sVec)
	for i := range r {
		h.SetVec(i, c.h.AtVec(rIdx[i])-h.AtVec(i))
	}

	return &Canonical{vars: r, k: kr, h: h, g: g}, nil
}

// PushJoint pushes the factor through the affine map x' = A*x + b + n,
// n ~ N(0, q), and returns the joint factor over (x, x').
// All newVars must be larger than the factor scope variables so the joint
// scope stays sorted; q must be positive definite.
func (c *Canonical) PushJoint(a mat.Matrix, b mat.Vector, newVars track.Vars, q mat.Symmetric) (*Canonical, error) {
	d := len(c.vars)
	m := len(newVars)

	ar, ac := a.Dims()
	if ar != m || ac != d {
		return nil, fmt.Errorf("invalid transform matrix dimensions: [%d x %d]", ar, ac)
	}
	if q.SymmetricDim() != m {
		return nil, fmt.Errorf("invalid noise covariance dimension: %d", q.SymmetricDim())
	}
	if d > 0 && m > 0 && newVars[0] <= c.vars[d-1] {
		return nil, fmt.Errorf("new scope variables must follow the factor scope")
	}

	qi, logDetQ, err := inverse(q)
	if err != nil {
		return nil, fmt.Errorf("noise covariance must be positive definite: %w", err)
	}
	// inverse returns the log-det of Q^-1
	logDetQ = -logDetQ

	// Qi*A and A'*Qi*A
	qia := &mat.Dense{}
	qia.Mul(qi, a)

	atqia := &mat.Dense{}
	atqia.Mul(a.T(), qia)

	joint := mat.NewSymDense(d+m, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			joint.SetSym(i, j, c.k.At(i, j)+0.5*(atqia.At(i, j)+atqia.At(j, i)))
		}
		for j := 0; j < m; j++ {
			joint.SetSym(i, d+j, -qia.At(j, i))
		}
	}
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			joint.SetSym(d+i, d+j, qi.At(i, j))
		}
	}

	// h_joint = [h - A'Qi*b; Qi*b]
	qib := mat.NewVecDense(m, nil)
	if b != nil {
		qib.MulVec(qi, b)
	}

	atqib := mat.NewVecDense(d, nil)
	atqib.MulVec(a.T(), qib)

	h := mat.NewVecDense(d+m, nil)
	for i := 0; i < d; i++ {
		h.SetVec(i, c.h.AtVec(i)-atqib.AtVec(i))
	}
	for i := 0; i < m; i++ {
		h.SetVec(d+i, qib.AtVec(i))
	}

	g := c.g - 0.5*(float64(m)*ln2Pi+logDetQ)
	if b != nil {
		g -= 0.5 * mat.Dot(b, qib)
	}

	vars := c.vars.Union(newVars)

	return &Canonical{vars: vars, k: joint, h: h, g: g}, nil
}

// PushThrough pushes the factor through t with additive noise covariance q and
// returns the joint over the old and new scope. Nonlinear transforms are
// linearised at the factor mean in the extended Kalman manner; transforms
// implementing LinearTransform take the affine fast path.
func (c *Canonical) PushThrough(t track.VectorTransform, newVars track.Vars, q mat.Symmetric) (*Canonical, error) {
	if lt, ok := t.(track.LinearTransform); ok {
		a, b := lt.Linear()
		return c.PushJoint(a, b, newVars, q)
	}

	mu, err := c.Mean()
	if err != nil {
		return nil, fmt.Errorf("failed to linearise transform: %w", err)
	}

	jac, err := t.Jacobian(mu)
	if err != nil {
		return nil, fmt.Errorf("failed to compute jacobian: %w", err)
	}

	fmu, err := t.Apply(mu)
	if err != nil {
		return nil, fmt.Errorf("failed to apply transform: %w", err)
	}

	// b = f(mu) - J*mu
	b := mat.NewVecDense(fmu.Len(), nil)
	b.MulVec(jac, mu)
	b.SubVec(fmu, b)

	return c.PushJoint(jac, b, newVars, q)
}

// AllClose reports whether the factor equals o structurally within the
// absolute tolerance tol on K, h and g entries.
func (c *Canonical) AllClose(o *Canonical, tol float64) bool {
	if !c.vars.Equal(o.vars) {
		return false
	}

	if math.Abs(c.g-o.g) > tol {
		return false
	}

	for i := 0; i < len(c.vars); i++ {
		if math.Abs(c.h.AtVec(i)-o.h.AtVec(i)) > tol {
			return false
		}
		for j := i; j < len(c.vars); j++ {
			if math.Abs(c.k.At(i, j)-o.k.At(i, j)) > tol {
				return false
			}
		}
	}

	return true
}

// String implements the Stringer interface.
func (c *Canonical) String() string {
	if len(c.vars) == 0 {
		return fmt.Sprintf("Canonical{vars=[], g=%v}", c.g)
	}

	return fmt.Sprintf("Canonical{\nvars=%v\nK=%v\nh=%v\ng=%v\n}",
		c.vars,
		mat.Formatted(c.k, mat.Prefix("  "), mat.Squeeze()),
		mat.Formatted(c.h, mat.Prefix("  "), mat.Squeeze()),
		c.g)
}

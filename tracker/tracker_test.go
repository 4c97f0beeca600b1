package tracker

import (
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	track "github.com/milosgajdos/go-track"
	"github.com/milosgajdos/go-track/gaussian"
	"github.com/milosgajdos/go-track/source"
	"github.com/milosgajdos/go-track/transform"
)

var (
	motion track.VectorTransform
	sensor track.VectorTransform
)

func setup() {
	// planar constant-acceleration motion with (x,vx,ax,y,vy,ay) states
	// observed through their positions
	motion, _ = transform.NewConstantAcceleration(2, 1.0)
	sensor, _ = transform.NewPositionSensor(6, 3, nil)
}

func TestMain(m *testing.M) {
	setup()
	os.Exit(m.Run())
}

func eye(n int, v float64) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, v)
	}

	return m
}

func stateVec(x, vx, ax, y, vy, ay float64) mat.Vector {
	return mat.NewVecDense(6, []float64{x, vx, ax, y, vy, ay})
}

func testConfig() Config {
	return Config{
		StateDim:       6,
		MeasDim:        2,
		Motion:         motion,
		Sensors:        []track.VectorTransform{sensor},
		ProcessCov:     eye(6, 0.1),
		MeasurementCov: eye(2, 1.0),
		Clutter:        Launch{Mean: stateVec(0, 0, 0, 0, 0, 0), Cov: eye(6, 1e4)},
		Launch:         Launch{Mean: stateVec(0, 0, 0, 0, 0, 0), Cov: eye(6, 100)},
		MaxComponents:  4,
		PruneThreshold: math.Log(1e-3),
		MergeDistance:  5.0,
		ValidationGate: 9.21,
		BackwardWindow: 2,
		EvidenceMargin: 0.0,
		ExtractIndices: []int{0, 3},
	}
}

// measSource builds a single-sensor source with the given measurements per
// time step.
func measSource(t *testing.T, perStep [][][]float64) *source.Slice {
	points := make([][][]mat.Vector, 1)
	points[0] = make([][]mat.Vector, len(perStep))
	for n, pts := range perStep {
		for _, p := range pts {
			points[0][n] = append(points[0][n], mat.NewVecDense(len(p), p))
		}
	}

	s, err := source.NewSlice(points)
	assert.NoError(t, err)

	return s
}

func dominant(estimates []Estimate, time, identity int) (Estimate, bool) {
	for _, e := range estimates {
		if e.Time == time && e.Identity == identity {
			return e, true
		}
	}

	return Estimate{}, false
}

func TestConfigValidate(t *testing.T) {
	assert := assert.New(t)

	c := testConfig()
	assert.NoError(c.Validate())

	// the gate is derived from the chi-squared quantile when unset
	c = testConfig()
	c.ValidationGate = 0
	c.GateProb = 0.99
	assert.NoError(c.Validate())
	assert.InDelta(9.21, c.ValidationGate, 0.01)

	c = testConfig()
	c.StateDim = 0
	assert.Error(c.Validate())

	c = testConfig()
	c.Sensors = nil
	assert.Error(c.Validate())

	c = testConfig()
	c.Launch.Mean = nil
	assert.Error(c.Validate())

	c = testConfig()
	c.ExtractIndices = []int{7}
	assert.Error(c.Validate())
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	src := measSource(t, [][][]float64{{}, {}})

	c := testConfig()
	c.InitialTargets = []Launch{{Mean: stateVec(0, 0, 0, 1, 0, 0), Cov: eye(6, 100)}}

	trk, err := New(c, src)
	assert.NoError(err)

	// clutter plus one target at time zero
	st := trk.State()
	assert.Equal(2, st.Targets(0))
	assert.Equal(0, st.Node(0, 0).Identity())
	assert.Equal(1, st.Node(0, 1).Identity())

	_, err = New(c, nil)
	assert.Error(err)
}

func TestStateClone(t *testing.T) {
	assert := assert.New(t)

	src := measSource(t, [][][]float64{{}, {{1, 3}}})

	c := testConfig()
	c.InitialTargets = []Launch{{Mean: stateVec(0, 0, 0, 1, 0, 0), Cov: eye(6, 100)}}

	trk, err := New(c, src)
	assert.NoError(err)

	clone := trk.State().Clone()

	// stepping the tracker must not leak into the clone
	_, err = trk.Step(1)
	assert.NoError(err)

	assert.Equal(2, clone.Graph().NodeCount())
	assert.Equal(0, clone.Targets(1))
	assert.Equal(2, trk.State().Targets(1))
}

// A single target with noiseless measurements along (t, 2+t) is tracked to
// within half a unit by step five.
func TestSingleTarget(t *testing.T) {
	assert := assert.New(t)

	perStep := [][][]float64{{}}
	for n := 1; n <= 5; n++ {
		perStep = append(perStep, [][]float64{{float64(n), float64(2 + n)}})
	}
	src := measSource(t, perStep)

	c := testConfig()
	c.InitialTargets = []Launch{{Mean: stateVec(0, 0, 0, 1, 0, 0), Cov: eye(6, 100)}}

	trk, err := New(c, src)
	assert.NoError(err)

	estimates, err := trk.Run()
	assert.NoError(err)

	e, ok := dominant(estimates, 5, 1)
	assert.True(ok)
	assert.InDelta(5.0, e.Mean[0], 0.5)
	assert.InDelta(7.0, e.Mean[1], 0.5)
}

// Two well-separated targets keep their identities and stay confidently
// associated across every step.
func TestTwoTargetsUnambiguous(t *testing.T) {
	assert := assert.New(t)

	perStep := [][][]float64{{}}
	for n := 1; n <= 5; n++ {
		perStep = append(perStep, [][]float64{
			{float64(n), float64(n)},
			{float64(100 + n), float64(100 + n)},
		})
	}
	src := measSource(t, perStep)

	c := testConfig()
	c.InitialTargets = []Launch{
		{Mean: stateVec(0, 0, 0, 0, 0, 0), Cov: eye(6, 100)},
		{Mean: stateVec(100, 0, 0, 100, 0, 0), Cov: eye(6, 100)},
	}

	trk, err := New(c, src)
	assert.NoError(err)

	estimates, err := trk.Run()
	assert.NoError(err)

	for n := 1; n <= 5; n++ {
		e1, ok := dominant(estimates, n, 1)
		assert.True(ok, "no estimate for identity 1 at step %d", n)
		assert.Greater(e1.Mass, 0.5)
		assert.InDelta(float64(n), e1.Mean[0], 1.0)

		e2, ok := dominant(estimates, n, 2)
		assert.True(ok, "no estimate for identity 2 at step %d", n)
		assert.Greater(e2.Mass, 0.5)
		assert.InDelta(float64(100+n), e2.Mean[0], 1.0)
	}
}

// Measurements gated by no target are dropped: no measurement clusters are
// built and nothing is extracted.
func TestPureClutter(t *testing.T) {
	assert := assert.New(t)

	perStep := [][][]float64{{}}
	for n := 1; n <= 4; n++ {
		perStep = append(perStep, [][]float64{
			{1000, 1000},
			{-500, 800},
		})
	}
	src := measSource(t, perStep)

	// no targets: every measurement falls outside every gate
	c := testConfig()

	trk, err := New(c, src)
	assert.NoError(err)

	for n := 1; n <= 4; n++ {
		estimates, err := trk.Step(n)
		assert.NoError(err)
		assert.Empty(estimates)

		st := trk.State()
		assert.Equal(0, st.MeasurementClusters(n))
		assert.Equal(1, st.Targets(n))
		assert.Equal(0, st.Node(n, 0).Identity())
	}

	assert.Equal(8, trk.Metrics().DroppedMeasurements)
}

// The clutter cluster is recreated identically every step.
func TestClutterRecreated(t *testing.T) {
	assert := assert.New(t)

	src := measSource(t, [][][]float64{{}, {}, {}})

	trk, err := New(testConfig(), src)
	assert.NoError(err)

	_, err = trk.Step(1)
	assert.NoError(err)
	_, err = trk.Step(2)
	assert.NoError(err)

	st := trk.State()
	c1 := st.Node(1, 0).Factor().(*gaussian.Mixture)
	c2 := st.Node(2, 0).Factor().(*gaussian.Mixture)

	m1, err := c1.MomentMatch()
	assert.NoError(err)
	m2, err := c2.MomentMatch()
	assert.NoError(err)

	mean1, err := m1.Mean()
	assert.NoError(err)
	mean2, err := m2.Mean()
	assert.NoError(err)
	for i := 0; i < 6; i++ {
		assert.InDelta(mean1.AtVec(i), mean2.AtVec(i), 1e-9)
	}
	assert.InDelta(m1.LogMass(), m2.LogMass(), 1e-9)
}

// A second target born mid-scenario close enough to contest the gate of the
// first is hypothesised and accepted by model selection.
func TestModelSelectionAccepts(t *testing.T) {
	assert := assert.New(t)

	perStep := [][][]float64{{}}
	for n := 1; n <= 6; n++ {
		pts := [][]float64{{float64(n), float64(n)}}
		if n >= 3 {
			// second trajectory inside the first target's gate
			pts = append(pts, []float64{float64(n) + 2.0, float64(n) - 2.0})
		}
		perStep = append(perStep, pts)
	}
	src := measSource(t, perStep)

	c := testConfig()
	c.InitialTargets = []Launch{{Mean: stateVec(0, 0, 0, 0, 0, 0), Cov: eye(6, 100)}}

	trk, err := New(c, src)
	assert.NoError(err)

	estimates, err := trk.Run()
	assert.NoError(err)

	assert.GreaterOrEqual(trk.Metrics().AcceptedTargets, 1)

	var second bool
	for _, e := range estimates {
		if e.Identity >= 2 {
			second = true
			break
		}
	}
	assert.True(second)
}

// With every measurement explained by the existing target, the hypothesised
// extra target never improves the evidence and is rejected.
func TestModelSelectionRejects(t *testing.T) {
	assert := assert.New(t)

	perStep := [][][]float64{{}}
	for n := 1; n <= 6; n++ {
		perStep = append(perStep, [][]float64{{float64(n), float64(n)}})
	}
	src := measSource(t, perStep)

	c := testConfig()
	c.InitialTargets = []Launch{{Mean: stateVec(0, 0, 0, 0, 0, 0), Cov: eye(6, 100)}}

	trk, err := New(c, src)
	assert.NoError(err)

	estimates, err := trk.Run()
	assert.NoError(err)

	assert.Equal(0, trk.Metrics().AcceptedTargets)
	for _, e := range estimates {
		assert.LessOrEqual(e.Identity, 1)
	}
}

// Heavy contested association must not blow up the state mixtures: after
// every update each state cluster stays within the component bound.
func TestPruningBound(t *testing.T) {
	assert := assert.New(t)

	perStep := [][][]float64{{}}
	for n := 1; n <= 4; n++ {
		var pts [][]float64
		for k := 0; k < 20; k++ {
			pts = append(pts, []float64{float64(n) + 0.1*float64(k%5), float64(n) + 0.1*float64(k/5)})
		}
		perStep = append(perStep, pts)
	}
	src := measSource(t, perStep)

	c := testConfig()
	c.InitialTargets = []Launch{
		{Mean: stateVec(0, 0, 0, 0, 0, 0), Cov: eye(6, 100)},
		{Mean: stateVec(2, 0, 0, 2, 0, 0), Cov: eye(6, 100)},
	}

	trk, err := New(c, src)
	assert.NoError(err)

	for n := 1; n <= 4; n++ {
		_, err := trk.Step(n)
		assert.NoError(err)

		st := trk.State()
		for i := 0; i < st.Targets(n); i++ {
			mix, ok := st.Node(n, i).Factor().(*gaussian.Mixture)
			assert.True(ok)
			assert.LessOrEqual(mix.Len(), c.MaxComponents)
		}
	}
}

// A measurement lying exactly on the gate boundary is admitted.
func TestGateBoundaryAdmitted(t *testing.T) {
	assert := assert.New(t)

	c := testConfig()
	c.InitialTargets = []Launch{{Mean: stateVec(0, 0, 0, 0, 0, 0), Cov: eye(6, 100)}}

	// a measurement at the exact squared gate distance of the predicted
	// measurement still forms a cluster
	trk, err := New(c, measSource(t, [][][]float64{{}, {}}))
	assert.NoError(err)

	sc := newScratch(&trk.metrics)
	assert.NoError(trk.predict(trk.state, 1, sc))

	gate := sc.gates[1][0]
	mean, err := gate.Mean()
	assert.NoError(err)
	cov, err := gate.Cov()
	assert.NoError(err)

	// move sqrt(gate * var) along the first axis
	off := math.Sqrt(c.ValidationGate * cov.At(0, 0))
	z := mat.NewVecDense(2, []float64{mean.AtVec(0) + off, mean.AtVec(1)})

	d, err := gate.Mahalanobis(z)
	assert.NoError(err)
	assert.InDelta(c.ValidationGate, d, 1e-9)

	assert.NoError(trk.buildMeasurement(trk.state, 1, sc, 0, z, []int{1}))
	assert.Equal(1, trk.state.MeasurementClusters(1))
}

func TestEvidence(t *testing.T) {
	assert := assert.New(t)

	src := measSource(t, [][][]float64{{}, {{1, 1}}})

	c := testConfig()
	c.InitialTargets = []Launch{{Mean: stateVec(0, 0, 0, 0, 0, 0), Cov: eye(6, 100)}}

	trk, err := New(c, src)
	assert.NoError(err)

	before := trk.Evidence(trk.State(), 0)
	assert.False(math.IsNaN(before))

	_, err = trk.Step(1)
	assert.NoError(err)

	after := trk.Evidence(trk.State(), 1)
	assert.False(math.IsNaN(after))
}

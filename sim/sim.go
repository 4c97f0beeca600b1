package sim

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	track "github.com/milosgajdos/go-track"
	"github.com/milosgajdos/go-track/source"
)

// Target is a simulated target: an initial state and a lifespan.
type Target struct {
	// Birth is the first time step the target exists at
	Birth int
	// Death is the first time step the target no longer exists at;
	// zero means the target lives until the end of the scenario
	Death int
	// State is the target state at birth
	State mat.Vector
}

// Config contains scenario configuration.
type Config struct {
	// Motion propagates target states across one time step
	Motion track.VectorTransform
	// Sensors map target states to sensor measurements
	Sensors []track.VectorTransform
	// ProcessCov is the motion noise covariance; nil yields noiseless motion
	ProcessCov mat.Symmetric
	// MeasurementCov is the sensor noise covariance; nil yields noiseless measurements
	MeasurementCov mat.Symmetric
	// ClutterMean is the mean of the clutter distribution
	ClutterMean mat.Vector
	// ClutterCov is the covariance of the clutter distribution
	ClutterCov mat.Symmetric
	// ClutterPerStep is the number of clutter points generated per sensor per step
	ClutterPerStep int
	// Steps is the number of simulated time steps
	Steps int
	// Seed seeds the scenario random source
	Seed uint64
}

// Scenario is a multi-target scenario simulator. It propagates ground-truth
// target trajectories through the motion transform and generates per-sensor
// measurement sets with additive Gaussian noise and clutter.
type Scenario struct {
	c       Config
	targets []Target
	// process, meas and clutter are the scenario noise distributions
	process *distmv.Normal
	meas    *distmv.Normal
	clutter *distmv.Normal
}

// NewScenario creates a new scenario simulator from the given config and
// returns it. It returns error if the config is invalid.
func NewScenario(c Config) (*Scenario, error) {
	if c.Motion == nil {
		return nil, fmt.Errorf("invalid motion transform")
	}
	if len(c.Sensors) == 0 {
		return nil, fmt.Errorf("no sensor transforms")
	}
	if c.Steps <= 0 {
		return nil, fmt.Errorf("invalid step count: %d", c.Steps)
	}
	if c.ClutterPerStep > 0 && (c.ClutterMean == nil || c.ClutterCov == nil) {
		return nil, fmt.Errorf("missing clutter distribution")
	}

	src := rand.New(rand.NewSource(c.Seed))

	s := &Scenario{c: c}

	if c.ProcessCov != nil {
		d, _ := c.ProcessCov.Dims()
		dist, ok := distmv.NewNormal(make([]float64, d), c.ProcessCov, src)
		if !ok {
			return nil, fmt.Errorf("failed to create process noise")
		}
		s.process = dist
	}

	if c.MeasurementCov != nil {
		d, _ := c.MeasurementCov.Dims()
		dist, ok := distmv.NewNormal(make([]float64, d), c.MeasurementCov, src)
		if !ok {
			return nil, fmt.Errorf("failed to create measurement noise")
		}
		s.meas = dist
	}

	if c.ClutterPerStep > 0 {
		mean := make([]float64, c.ClutterMean.Len())
		for i := range mean {
			mean[i] = c.ClutterMean.AtVec(i)
		}
		dist, ok := distmv.NewNormal(mean, c.ClutterCov, src)
		if !ok {
			return nil, fmt.Errorf("failed to create clutter distribution")
		}
		s.clutter = dist
	}

	return s, nil
}

// AddTarget adds a target to the scenario.
func (s *Scenario) AddTarget(t Target) {
	s.targets = append(s.targets, t)
}

// Truth holds the simulated ground-truth trajectories as states[time][target];
// a nil entry means the target does not exist at that time step.
type Truth struct {
	states [][]mat.Vector
}

// State returns the ground-truth state of the given target at the given time
// step, or nil if the target does not exist then.
func (t *Truth) State(time, target int) mat.Vector {
	if time < 0 || time >= len(t.states) {
		return nil
	}
	if target < 0 || target >= len(t.states[time]) {
		return nil
	}

	return t.states[time][target]
}

// Run simulates the scenario and returns the generated measurement source
// together with the ground-truth trajectories.
func (s *Scenario) Run() (*source.Slice, *Truth, error) {
	states := make([][]mat.Vector, s.c.Steps)
	points := make([][][]mat.Vector, len(s.c.Sensors))
	for j := range points {
		points[j] = make([][]mat.Vector, s.c.Steps)
	}

	cur := make([]mat.Vector, len(s.targets))

	for n := 0; n < s.c.Steps; n++ {
		states[n] = make([]mat.Vector, len(s.targets))

		for i, tgt := range s.targets {
			if n < tgt.Birth || (tgt.Death > 0 && n >= tgt.Death) {
				cur[i] = nil
				continue
			}

			if n == tgt.Birth {
				cur[i] = cloneVec(tgt.State)
			} else {
				x, err := s.c.Motion.Apply(cur[i])
				if err != nil {
					return nil, nil, fmt.Errorf("failed to propagate target %d: %w", i, err)
				}
				cur[i] = addNoise(x, s.process)
			}
			states[n][i] = cloneVec(cur[i])

			for j, sensor := range s.c.Sensors {
				z, err := sensor.Apply(cur[i])
				if err != nil {
					return nil, nil, fmt.Errorf("failed to observe target %d: %w", i, err)
				}
				points[j][n] = append(points[j][n], addNoise(z, s.meas))
			}
		}

		if s.clutter != nil {
			for j := range s.c.Sensors {
				for k := 0; k < s.c.ClutterPerStep; k++ {
					z := s.clutter.Rand(nil)
					points[j][n] = append(points[j][n], mat.NewVecDense(len(z), z))
				}
			}
		}
	}

	src, err := source.NewSlice(points)
	if err != nil {
		return nil, nil, err
	}

	return src, &Truth{states: states}, nil
}

func cloneVec(v mat.Vector) mat.Vector {
	out := mat.NewVecDense(v.Len(), nil)
	out.CopyVec(v)

	return out
}

func addNoise(v mat.Vector, dist *distmv.Normal) mat.Vector {
	out := mat.NewVecDense(v.Len(), nil)
	out.CopyVec(v)
	if dist != nil {
		r := dist.Rand(nil)
		out.AddVec(out, mat.NewVecDense(len(r), r))
	}

	return out
}

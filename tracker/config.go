package tracker

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	track "github.com/milosgajdos/go-track"
	"github.com/milosgajdos/go-track/gaussian"
)

// Launch is the prior belief over the state of a newly appearing target.
type Launch struct {
	// Mean is the launch prior mean
	Mean mat.Vector
	// Cov is the launch prior covariance
	Cov mat.Symmetric
}

// Config contains tracker configuration.
type Config struct {
	// StateDim is the target state dimension
	StateDim int
	// MeasDim is the sensor measurement dimension
	MeasDim int
	// Motion propagates target states across one time step
	Motion track.VectorTransform
	// Sensors map target states to sensor measurements, one per sensor
	Sensors []track.VectorTransform
	// ProcessCov is the motion noise covariance
	ProcessCov mat.Symmetric
	// MeasurementCov is the sensor noise covariance
	MeasurementCov mat.Symmetric
	// Clutter is the clutter state prior, recreated every time step
	Clutter Launch
	// Launch is the prior of newly hypothesised targets
	Launch Launch
	// InitialTargets holds the priors of the targets present at time zero
	InitialTargets []Launch
	// MaxComponents bounds the state mixture sizes; zero means the
	// gaussian.DefaultParams bound
	MaxComponents int
	// PruneThreshold is the mixture component log mass floor; zero means the
	// gaussian.DefaultParams threshold
	PruneThreshold float64
	// MergeDistance is the mixture component merge radius; zero means the
	// gaussian.DefaultParams radius
	MergeDistance float64
	// ValidationGate is the squared Mahalanobis gating threshold; zero means
	// the threshold is derived from GateProb
	ValidationGate float64
	// GateProb is the gate coverage probability used to derive ValidationGate
	// from the chi-squared quantile when ValidationGate is zero
	GateProb float64
	// BackwardWindow is the fixed-lag smoothing window length
	BackwardWindow int
	// EvidenceMargin is the log-evidence improvement a hypothesised target
	// must exceed to be accepted
	EvidenceMargin float64
	// SensorTimeOffset shifts tracker time steps to measurement source time
	// steps when querying measurements
	SensorTimeOffset int
	// ExtractIndices selects the state coordinates reported in estimates;
	// empty means every coordinate
	ExtractIndices []int
}

// Validate checks the config and fills in the defaults.
// It returns error if the config is invalid.
func (c *Config) Validate() error {
	if c.StateDim <= 0 {
		return fmt.Errorf("invalid state dimension: %d", c.StateDim)
	}
	if c.MeasDim <= 0 {
		return fmt.Errorf("invalid measurement dimension: %d", c.MeasDim)
	}
	if c.Motion == nil {
		return fmt.Errorf("invalid motion transform")
	}
	if len(c.Sensors) == 0 {
		return fmt.Errorf("no sensor transforms")
	}
	if c.ProcessCov == nil || c.MeasurementCov == nil {
		return fmt.Errorf("missing noise covariance")
	}
	if c.Clutter.Mean == nil || c.Clutter.Cov == nil {
		return fmt.Errorf("missing clutter prior")
	}
	if c.Launch.Mean == nil || c.Launch.Cov == nil {
		return fmt.Errorf("missing launch prior")
	}
	if c.BackwardWindow < 0 {
		return fmt.Errorf("invalid backward window: %d", c.BackwardWindow)
	}

	def := gaussian.DefaultParams()
	if c.MaxComponents <= 0 {
		c.MaxComponents = def.MaxComponents
	}
	if c.PruneThreshold == 0 {
		c.PruneThreshold = def.PruneThreshold
	}
	if c.MergeDistance <= 0 {
		c.MergeDistance = def.MergeDistance
	}

	if c.ValidationGate <= 0 {
		p := c.GateProb
		if p <= 0 || p >= 1 {
			p = 0.99
		}
		chi2 := distuv.ChiSquared{K: float64(c.MeasDim)}
		c.ValidationGate = chi2.Quantile(p)
	}
	if math.IsNaN(c.ValidationGate) || math.IsInf(c.ValidationGate, 0) {
		return fmt.Errorf("invalid validation gate: %v", c.ValidationGate)
	}

	if len(c.ExtractIndices) == 0 {
		c.ExtractIndices = make([]int, c.StateDim)
		for i := range c.ExtractIndices {
			c.ExtractIndices[i] = i
		}
	}
	for _, i := range c.ExtractIndices {
		if i < 0 || i >= c.StateDim {
			return fmt.Errorf("invalid extract index: %d", i)
		}
	}

	return nil
}

// mixtureParams returns the mixture reduction parameters of the config.
func (c *Config) mixtureParams() gaussian.Params {
	return gaussian.Params{
		MaxComponents:  c.MaxComponents,
		PruneThreshold: c.PruneThreshold,
		MergeDistance:  c.MergeDistance,
	}
}

package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-track/source"
	"github.com/milosgajdos/go-track/tracker"
	"github.com/milosgajdos/go-track/transform"
)

var (
	// dir is the measurement directory
	dir string
	// sensors is the number of sensors
	sensors int
	// dt is the time step length
	dt float64
	// window is the backward smoothing window
	window int
	// maxComps bounds the state mixture sizes
	maxComps int
	// gateProb is the validation gate coverage probability
	gateProb float64
	// margin is the model selection log-evidence margin
	margin float64
	// offset shifts tracker time to source time
	offset int
	// processVar and measVar scale the noise covariances
	processVar float64
	measVar    float64
	// spread scales the clutter and launch prior covariances
	spread float64
	// targets is the number of targets present at time zero
	targets int
)

func init() {
	flag.StringVar(&dir, "dir", ".", "Measurement directory with per-sensor files")
	flag.IntVar(&sensors, "sensors", 1, "Number of sensors")
	flag.Float64Var(&dt, "dt", 1.0, "Time step length")
	flag.IntVar(&window, "window", 2, "Backward smoothing window")
	flag.IntVar(&maxComps, "max-components", 4, "Mixture component bound")
	flag.Float64Var(&gateProb, "gate-prob", 0.99, "Validation gate coverage probability")
	flag.Float64Var(&margin, "margin", 0.0, "Model selection log-evidence margin")
	flag.IntVar(&offset, "offset", 0, "Sensor time step offset")
	flag.Float64Var(&processVar, "process-var", 0.1, "Motion noise variance")
	flag.Float64Var(&measVar, "meas-var", 1.0, "Measurement noise variance")
	flag.Float64Var(&spread, "spread", 100.0, "Clutter and launch prior variance")
	flag.IntVar(&targets, "targets", 0, "Number of targets present at time zero")
}

// eye returns the n-dimensional identity scaled by v.
func eye(n int, v float64) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, v)
	}

	return m
}

func main() {
	flag.Parse()

	// planar tracking: per-axis (position, velocity, acceleration) state
	// observed through position measurements
	const (
		axes     = 2
		stateDim = 3 * axes
		measDim  = axes
	)

	src, err := source.NewFile(dir, sensors, measDim)
	if err != nil {
		log.Fatalf("Failed to load measurements: %v", err)
	}

	motion, err := transform.NewConstantAcceleration(axes, dt)
	if err != nil {
		log.Fatalf("Failed to create motion transform: %v", err)
	}

	c := tracker.Config{
		StateDim:         stateDim,
		MeasDim:          measDim,
		Motion:           motion,
		ProcessCov:       eye(stateDim, processVar),
		MeasurementCov:   eye(measDim, measVar),
		MaxComponents:    maxComps,
		GateProb:         gateProb,
		BackwardWindow:   window,
		EvidenceMargin:   margin,
		SensorTimeOffset: offset,
		// report per-axis positions
		ExtractIndices: []int{0, 3},
	}

	for i := 0; i < sensors; i++ {
		sensor, err := transform.NewPositionSensor(stateDim, 3, nil)
		if err != nil {
			log.Fatalf("Failed to create sensor transform: %v", err)
		}
		c.Sensors = append(c.Sensors, sensor)
	}

	wide := tracker.Launch{
		Mean: mat.NewVecDense(stateDim, nil),
		Cov:  eye(stateDim, spread),
	}
	c.Clutter = wide
	c.Launch = wide
	for i := 0; i < targets; i++ {
		c.InitialTargets = append(c.InitialTargets, wide)
	}

	trk, err := tracker.New(c, src)
	if err != nil {
		log.Fatalf("Failed to create tracker: %v", err)
	}

	estimates, err := trk.Run()
	if err != nil {
		log.Fatalf("Tracking failed: %v", err)
	}

	for _, e := range estimates {
		coords := make([]string, len(e.Mean))
		for i, v := range e.Mean {
			coords[i] = fmt.Sprintf("%.6g", v)
		}
		fmt.Printf("%d;%d;%s;%.6g\n", e.Time, e.Identity, strings.Join(coords, ";"), e.Mass)
	}

	m := trk.Metrics()
	log.Printf("accepted targets: %d, dropped measurements: %d, recovered messages: %d",
		m.AcceptedTargets, m.DroppedMeasurements, m.IndefiniteRecoveries)
}

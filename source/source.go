package source

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Slice is an in-memory measurement source indexed by sensor and time step.
type Slice struct {
	// points holds measurement vectors as points[sensor][time][k]
	points [][][]mat.Vector
	// steps is the number of time steps
	steps int
}

// NewSlice creates a new in-memory measurement source from points indexed
// as points[sensor][time][k] and returns it.
func NewSlice(points [][][]mat.Vector) (*Slice, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("no sensor data")
	}

	steps := 0
	for _, sensor := range points {
		if len(sensor) > steps {
			steps = len(sensor)
		}
	}

	return &Slice{points: points, steps: steps}, nil
}

// Points returns the measurement vectors reported by the given sensor at
// the given time step. Steps beyond the recorded data yield no measurements.
func (s *Slice) Points(sensor, time int) ([]mat.Vector, error) {
	if sensor < 0 || sensor >= len(s.points) {
		return nil, fmt.Errorf("invalid sensor index: %d", sensor)
	}
	if time < 0 || time >= len(s.points[sensor]) {
		return nil, nil
	}

	pts := s.points[sensor][time]
	out := make([]mat.Vector, len(pts))
	for i, p := range pts {
		v := mat.NewVecDense(p.Len(), nil)
		v.CopyVec(p)
		out[i] = v
	}

	return out, nil
}

// TimeSteps returns the number of available time steps.
func (s *Slice) TimeSteps() int {
	return s.steps
}

// File is a measurement source backed by whitespace-separated per-sensor
// files. Sensor i is read from <dir>/sensor_<i>.txt; every line carries a
// time step index followed by the measurement vector coordinates:
//
//	<time> <z_1> ... <z_d>
//
// Multiple lines may share a time step, one per measurement.
type File struct {
	*Slice
}

// NewFile loads per-sensor measurement files for sensorCount sensors with
// measDim-dimensional measurements from dir and returns the source.
// It returns error if a file is missing or malformed.
func NewFile(dir string, sensorCount, measDim int) (*File, error) {
	if sensorCount <= 0 || measDim <= 0 {
		return nil, fmt.Errorf("invalid source dimensions: %d sensors, %d coordinates", sensorCount, measDim)
	}

	points := make([][][]mat.Vector, sensorCount)
	for i := 0; i < sensorCount; i++ {
		path := filepath.Join(dir, fmt.Sprintf("sensor_%d.txt", i))
		pts, err := readSensorFile(path, measDim)
		if err != nil {
			return nil, fmt.Errorf("failed to read sensor %d: %w", i, err)
		}
		points[i] = pts
	}

	s, err := NewSlice(points)
	if err != nil {
		return nil, err
	}

	return &File{Slice: s}, nil
}

func readSensorFile(path string, measDim int) ([][]mat.Vector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var points [][]mat.Vector

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != measDim+1 {
			return nil, fmt.Errorf("%s:%d: expected %d fields, got %d", path, line, measDim+1, len(fields))
		}

		t, err := strconv.Atoi(fields[0])
		if err != nil || t < 0 {
			return nil, fmt.Errorf("%s:%d: invalid time step %q", path, line, fields[0])
		}

		vals := make([]float64, measDim)
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: invalid coordinate %q", path, line, f)
			}
			vals[i] = v
		}

		for len(points) <= t {
			points = append(points, nil)
		}
		points[t] = append(points[t], mat.NewVecDense(measDim, vals))
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}

	return points, nil
}

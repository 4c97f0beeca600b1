package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func vecs(points []mat.Vector) [][]float64 {
	out := make([][]float64, len(points))
	for i, p := range points {
		out[i] = make([]float64, p.Len())
		for j := range out[i] {
			out[i][j] = p.AtVec(j)
		}
	}

	return out
}

func TestNewSlice(t *testing.T) {
	assert := assert.New(t)

	points := [][][]mat.Vector{
		{
			{mat.NewVecDense(2, []float64{1, 2})},
			nil,
			{mat.NewVecDense(2, []float64{3, 4}), mat.NewVecDense(2, []float64{5, 6})},
		},
	}

	s, err := NewSlice(points)
	assert.NoError(err)
	assert.Equal(3, s.TimeSteps())

	got, err := s.Points(0, 2)
	assert.NoError(err)
	assert.Empty(cmp.Diff([][]float64{{3, 4}, {5, 6}}, vecs(got)))

	// an empty step yields no measurements
	got, err = s.Points(0, 1)
	assert.NoError(err)
	assert.Empty(got)

	// steps beyond the data yield no measurements, not an error
	got, err = s.Points(0, 10)
	assert.NoError(err)
	assert.Nil(got)

	_, err = s.Points(3, 0)
	assert.Error(err)

	_, err = NewSlice(nil)
	assert.Error(err)
}

func TestSliceCopies(t *testing.T) {
	assert := assert.New(t)

	p := mat.NewVecDense(2, []float64{1, 2})
	s, err := NewSlice([][][]mat.Vector{{{p}}})
	assert.NoError(err)

	got, err := s.Points(0, 0)
	assert.NoError(err)

	// mutating the returned vector must not leak into the source
	got[0].(*mat.VecDense).SetVec(0, 99)
	again, err := s.Points(0, 0)
	assert.NoError(err)
	assert.Equal(1.0, again[0].AtVec(0))
}

func TestNewFile(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	data := "# time x y\n" +
		"0 1.0 2.0\n" +
		"0 3.0 4.0\n" +
		"\n" +
		"2 5.5 6.5\n"
	assert.NoError(os.WriteFile(filepath.Join(dir, "sensor_0.txt"), []byte(data), 0644))

	s, err := NewFile(dir, 1, 2)
	assert.NoError(err)
	assert.Equal(3, s.TimeSteps())

	got, err := s.Points(0, 0)
	assert.NoError(err)
	assert.Empty(cmp.Diff([][]float64{{1, 2}, {3, 4}}, vecs(got), cmpopts.EquateApprox(0, 1e-12)))

	got, err = s.Points(0, 1)
	assert.NoError(err)
	assert.Empty(got)

	got, err = s.Points(0, 2)
	assert.NoError(err)
	assert.Empty(cmp.Diff([][]float64{{5.5, 6.5}}, vecs(got), cmpopts.EquateApprox(0, 1e-12)))
}

func TestNewFileErrors(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()

	// missing sensor file
	_, err := NewFile(dir, 1, 2)
	assert.Error(err)

	// malformed field count
	assert.NoError(os.WriteFile(filepath.Join(dir, "sensor_0.txt"), []byte("0 1.0\n"), 0644))
	_, err = NewFile(dir, 1, 2)
	assert.Error(err)

	// malformed time step
	assert.NoError(os.WriteFile(filepath.Join(dir, "sensor_0.txt"), []byte("x 1.0 2.0\n"), 0644))
	_, err = NewFile(dir, 1, 2)
	assert.Error(err)

	_, err = NewFile(dir, 0, 2)
	assert.Error(err)
}

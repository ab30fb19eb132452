package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/diffsteer/diffsteer/spec"
)

func testActionSpec() spec.Environment {
	shape := mat.NewVecDense(2, nil)
	lower := mat.NewVecDense(2, []float64{-2.0, 0.0})
	upper := mat.NewVecDense(2, []float64{2.0, 10.0})
	return spec.NewEnvironment(shape, spec.Action, lower, upper,
		spec.Continuous)
}

func TestScaleActionBounds(t *testing.T) {
	s := testActionSpec()

	scaled := ScaleAction([]float64{-2.0, 0.0}, s)
	assert.InDeltaSlice(t, []float64{-1.0, -1.0}, scaled, 1e-12)

	scaled = ScaleAction([]float64{2.0, 10.0}, s)
	assert.InDeltaSlice(t, []float64{1.0, 1.0}, scaled, 1e-12)

	scaled = ScaleAction([]float64{0.0, 5.0}, s)
	assert.InDeltaSlice(t, []float64{0.0, 0.0}, scaled, 1e-12)
}

// TestScaleActionRoundTrip checks the round-trip law
// unscale(scale(a)) == a for in-range actions
func TestScaleActionRoundTrip(t *testing.T) {
	s := testActionSpec()

	actions := []float64{-2.0, 0.0, -1.3, 7.9, 0.0, 5.0, 2.0, 10.0}
	roundTrip := UnscaleAction(ScaleAction(actions, s), s)
	assert.InDeltaSlice(t, actions, roundTrip, 1e-12)

	// And the other direction for normalized actions
	normalized := []float64{-1.0, -1.0, 0.25, -0.75, 1.0, 1.0}
	roundTrip = ScaleAction(UnscaleAction(normalized, s), s)
	assert.InDeltaSlice(t, normalized, roundTrip, 1e-12)
}

// TestScaleActionBatch checks that the bounds repeat per action across
// a flat batch
func TestScaleActionBatch(t *testing.T) {
	s := testActionSpec()

	batch := []float64{-2.0, 0.0, 2.0, 10.0}
	scaled := ScaleAction(batch, s)
	assert.InDeltaSlice(t, []float64{-1.0, -1.0, 1.0, 1.0}, scaled, 1e-12)
}

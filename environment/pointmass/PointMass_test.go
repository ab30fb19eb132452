package pointmass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestResetStartsEpisode(t *testing.T) {
	env := New(2, 10, 14)

	step := env.Reset()
	assert.True(t, step.First())
	assert.Equal(t, 0.0, step.Reward)
	require.Equal(t, 4, step.Observation.Len())

	// Velocity starts at zero
	assert.Equal(t, 0.0, step.Observation.AtVec(2))
	assert.Equal(t, 0.0, step.Observation.AtVec(3))

	// Position within bounds
	for i := 0; i < 2; i++ {
		pos := step.Observation.AtVec(i)
		assert.GreaterOrEqual(t, pos, -positionBound)
		assert.LessOrEqual(t, pos, positionBound)
	}
}

func TestStepRewardIsNonPositive(t *testing.T) {
	env := New(2, 10, 14)
	env.Reset()

	action := mat.NewVecDense(2, []float64{0.5, -0.5})
	step, done := env.Step(action)
	assert.False(t, done)
	assert.True(t, step.Mid())
	assert.LessOrEqual(t, step.Reward, 0.0)
}

func TestEpisodeEndsAtStepLimit(t *testing.T) {
	env := New(1, 3, 14)
	env.Reset()

	action := mat.NewVecDense(1, []float64{0.1})
	for i := 0; i < 2; i++ {
		step, done := env.Step(action)
		assert.False(t, done)
		assert.False(t, step.Last())
	}

	step, done := env.Step(action)
	assert.True(t, done)
	assert.True(t, step.Last())
	assert.Equal(t, 3, step.Number)
}

func TestSpecs(t *testing.T) {
	env := New(3, 10, 14)

	obsSpec := env.ObservationSpec()
	assert.Equal(t, 6, obsSpec.Shape.Len())

	actionSpec := env.ActionSpec()
	assert.Equal(t, 3, actionSpec.Shape.Len())
	for i := 0; i < 3; i++ {
		assert.Equal(t, -forceBound, actionSpec.LowerBound.AtVec(i))
		assert.Equal(t, forceBound, actionSpec.UpperBound.AtVec(i))
	}
}

func TestStateStaysBounded(t *testing.T) {
	env := New(1, 100, 14)
	env.Reset()

	// Saturate the force in one direction for a whole episode
	action := mat.NewVecDense(1, []float64{100.0})
	for i := 0; i < 100; i++ {
		step, _ := env.Step(action)
		pos := step.Observation.AtVec(0)
		vel := step.Observation.AtVec(1)
		assert.LessOrEqual(t, pos, positionBound)
		assert.LessOrEqual(t, vel, maxSpeed)
	}
}

package expreplay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/diffsteer/diffsteer/timestep"
)

// transition returns a Transition whose every field is derived from
// the argument value so that sampled data can be traced back to the
// insert that produced it
func transition(value float64, done bool) timestep.Transition {
	return timestep.Transition{
		State:     mat.NewVecDense(2, []float64{value, value + 0.1}),
		Action:    mat.NewVecDense(1, []float64{value + 0.2}),
		Reward:    value + 0.3,
		NextState: mat.NewVecDense(2, []float64{value + 0.4, value + 0.5}),
		Done:      done,
	}
}

func newTestBuffer(t *testing.T, minCap, maxCap, batch int) ExperienceReplayer {
	t.Helper()

	buffer, err := New(NewFifoSelector(1), NewUniformSelector(batch, 14),
		minCap, maxCap, 2, 1)
	require.NoError(t, err)
	return buffer
}

func TestSampleEmptyBuffer(t *testing.T) {
	buffer := newTestBuffer(t, 1, 10, 1)

	_, _, _, _, _, err := buffer.Sample()
	require.Error(t, err)
	assert.True(t, IsEmptyBuffer(err))
	assert.False(t, IsInsufficientSamples(err))
}

func TestSampleInsufficientSamples(t *testing.T) {
	buffer := newTestBuffer(t, 3, 10, 1)

	require.NoError(t, buffer.Add(transition(1.0, false)))

	_, _, _, _, _, err := buffer.Sample()
	require.Error(t, err)
	assert.True(t, IsInsufficientSamples(err))
	assert.False(t, IsEmptyBuffer(err))
}

func TestAddAndSampleRoundTrip(t *testing.T) {
	buffer := newTestBuffer(t, 1, 1, 1)

	require.NoError(t, buffer.Add(transition(1.0, true)))

	state, action, reward, nextState, done, err := buffer.Sample()
	require.NoError(t, err)

	assert.Equal(t, []float64{1.0, 1.1}, state)
	assert.Equal(t, []float64{1.2}, action)
	assert.Equal(t, []float64{1.3}, reward)
	assert.Equal(t, []float64{1.4, 1.5}, nextState)
	assert.Equal(t, []float64{1.0}, done)
}

func TestDoneIndicatorIsZeroOne(t *testing.T) {
	buffer := newTestBuffer(t, 1, 1, 1)

	require.NoError(t, buffer.Add(transition(1.0, false)))
	_, _, _, _, done, err := buffer.Sample()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.0}, done)
}

func TestCapacityTracking(t *testing.T) {
	buffer := newTestBuffer(t, 1, 3, 1)

	assert.Equal(t, 0, buffer.Capacity())
	assert.Equal(t, 3, buffer.MaxCapacity())
	assert.Equal(t, 1, buffer.MinCapacity())
	assert.Equal(t, 1, buffer.BatchSize())

	for i := 0; i < 3; i++ {
		require.NoError(t, buffer.Add(transition(float64(i), false)))
		assert.Equal(t, i+1, buffer.Capacity())
	}

	// Adding past max capacity evicts, keeping capacity fixed
	require.NoError(t, buffer.Add(transition(10.0, false)))
	assert.Equal(t, 3, buffer.Capacity())
}

func TestFifoEviction(t *testing.T) {
	// Both sampling and eviction are first-in-first-out
	buffer, err := New(NewFifoSelector(1), NewFifoSelector(1), 1, 2, 2, 1)
	require.NoError(t, err)

	require.NoError(t, buffer.Add(transition(1.0, false)))
	require.NoError(t, buffer.Add(transition(2.0, false)))
	require.NoError(t, buffer.Add(transition(3.0, false)))

	// The oldest transition was evicted, so the oldest remaining one
	// is the second insert
	state, _, _, _, _, err := buffer.Sample()
	require.NoError(t, err)
	assert.Equal(t, []float64{2.0, 2.1}, state)
}

func TestAddRejectsWrongSizes(t *testing.T) {
	buffer := newTestBuffer(t, 1, 10, 1)

	badState := timestep.Transition{
		State:     mat.NewVecDense(3, nil),
		Action:    mat.NewVecDense(1, nil),
		NextState: mat.NewVecDense(3, nil),
	}
	assert.Error(t, buffer.Add(badState))

	badAction := timestep.Transition{
		State:     mat.NewVecDense(2, nil),
		Action:    mat.NewVecDense(4, nil),
		NextState: mat.NewVecDense(2, nil),
	}
	assert.Error(t, buffer.Add(badAction))
}

func TestConfigCreate(t *testing.T) {
	buffer, err := Config{
		RemoveMethod:      Fifo,
		SampleMethod:      Uniform,
		RemoveSize:        1,
		SampleSize:        2,
		MaxReplayCapacity: 8,
		MinReplayCapacity: 2,
	}.Create(2, 1, 14)
	require.NoError(t, err)

	assert.Equal(t, 2, buffer.BatchSize())
	assert.Equal(t, 8, buffer.MaxCapacity())
	assert.Equal(t, 2, buffer.MinCapacity())
}

func TestNewRejectsBatchLargerThanCapacity(t *testing.T) {
	_, err := New(NewFifoSelector(1), NewUniformSelector(10, 14), 1, 5, 2, 1)
	assert.Error(t, err)
}

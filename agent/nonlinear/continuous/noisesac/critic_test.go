package noisesac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffsteer/diffsteer/initwfn"
	"github.com/diffsteer/diffsteer/solver"
)

func TestCombineValuesMin(t *testing.T) {
	memberQs := [][]float64{
		{3.0, 1.0, -2.0},
		{5.0, 0.5, -1.0},
	}
	combined := combineValues(memberQs, MinCombine)
	assert.Equal(t, []float64{3.0, 0.5, -2.0}, combined)
}

func TestCombineValuesMean(t *testing.T) {
	memberQs := [][]float64{
		{3.0, 1.0, -2.0},
		{5.0, 0.5, -1.0},
	}
	combined := combineValues(memberQs, MeanCombine)
	assert.Equal(t, []float64{4.0, 0.75, -1.5}, combined)
}

func TestCombineValuesSingleMember(t *testing.T) {
	memberQs := [][]float64{{1.0, 2.0}}
	assert.Equal(t, []float64{1.0, 2.0},
		combineValues(memberQs, MinCombine))
	assert.Equal(t, []float64{1.0, 2.0},
		combineValues(memberQs, MeanCombine))
}

func TestCombineValuesRejectsUnrecognized(t *testing.T) {
	memberQs := [][]float64{{1.0}, {2.0}}
	assert.Panics(t, func() {
		combineValues(memberQs, CombineType("median"))
	})
}

// TestCriticStepLossMatchesHandComputedTargets drives a full backup and
// update step: a zero-initialized 2-member ensemble evaluates a batch
// of 4 transitions with known rewards and a terminal last transition,
// the pessimistic TD targets are hand-computed, and the critic step's
// loss must equal half the sum over members of the mean squared target
// since every member predicts zero.
func TestCriticStepLossMatchesHandComputedTargets(t *testing.T) {
	config := testConfig(t, 2)
	zeroes, err := initwfn.NewZeroes()
	require.NoError(t, err)
	config.InitWFn = zeroes

	sol, err := solver.NewVanilla(1e-3, config.BatchSize, -1.0)
	require.NoError(t, err)

	features := 2 * 2 // point-mass positions and velocities
	trainer, err := newCriticTrainer(config, features, sol)
	require.NoError(t, err)

	obs := make([]float64, config.BatchSize*features)
	for i := range obs {
		obs[i] = float64(i%3) * 0.1
	}
	actions := make([]float64, config.BatchSize*2)

	memberQs, err := trainer.targetValues(obs, actions)
	require.NoError(t, err)
	require.Len(t, memberQs, 2)
	for _, qs := range memberQs {
		assert.Equal(t, []float64{0.0, 0.0, 0.0, 0.0}, qs)
	}

	rewards := []float64{1.0, 0.0, 1.0, 0.0}
	dones := []float64{0.0, 0.0, 0.0, 1.0}
	nextLogProb := []float64{-1.0, -2.0, 0.5, -0.5}
	entCoef := 0.1
	gamma := 0.99

	combined := combineValues(memberQs, MinCombine)
	targets := tdTargets(rewards, dones, combined, nextLogProb, entCoef,
		gamma)

	// target[0] = 1 + 0.99 * (0 - 0.1*(-1))
	assert.InDelta(t, 1.099, targets[0], 1e-12)
	assert.Equal(t, 0.0, targets[3])

	loss, err := trainer.step(obs, actions, targets)
	require.NoError(t, err)

	var sumSq float64
	for _, target := range targets {
		sumSq += target * target
	}
	members := float64(config.CriticMembers)
	batch := float64(config.BatchSize)
	assert.InDelta(t, 0.5*members*sumSq/batch, loss, 1e-12)
}

// TestTDTargets hand-computes a 2-member pessimistic backup on a batch
// of 4 transitions with known rewards and a terminal final transition
func TestTDTargets(t *testing.T) {
	rewards := []float64{1.0, 0.0, 1.0, 0.0}
	dones := []float64{0.0, 0.0, 0.0, 1.0}
	gamma := 0.99
	entCoef := 0.1

	memberQs := [][]float64{
		{2.0, 4.0, -1.0, 7.0},
		{3.0, 2.0, 0.0, 6.0},
	}
	nextLogProb := []float64{-1.0, -2.0, 0.5, -0.5}

	combined := combineValues(memberQs, MinCombine)

	targets := tdTargets(rewards, dones, combined, nextLogProb, entCoef,
		gamma)

	expected := make([]float64, 4)
	for i := range expected {
		backup := combined[i] - entCoef*nextLogProb[i]
		expected[i] = rewards[i] + (1.0-dones[i])*gamma*backup
	}

	assert.InDeltaSlice(t, expected, targets, 1e-12)

	// The terminal transition never bootstraps
	assert.Equal(t, 0.0, targets[3])

	// Spot check the first transition against fully hand-expanded
	// arithmetic: 1 + 0.99 * (min(2, 3) - 0.1*(-1))
	assert.InDelta(t, 1.0+0.99*2.1, targets[0], 1e-12)
}

func TestTDTargetsMeanCombine(t *testing.T) {
	memberQs := [][]float64{{3.0}, {5.0}}
	combined := combineValues(memberQs, MeanCombine)
	assert.Equal(t, []float64{4.0}, combined)

	targets := tdTargets([]float64{0.0}, []float64{0.0}, combined,
		[]float64{0.0}, 0.0, 0.99)
	assert.InDelta(t, 0.99*4.0, targets[0], 1e-12)
}

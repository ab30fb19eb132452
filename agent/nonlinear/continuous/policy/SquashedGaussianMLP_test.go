package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffsteer/diffsteer/initwfn"
	"github.com/diffsteer/diffsteer/network"
)

func newTestPolicy(t *testing.T, batch int) *SquashedGaussianMLP {
	t.Helper()

	init, err := initwfn.NewGlorotU(1.0)
	require.NoError(t, err)

	pol, err := NewSquashedGaussianMLP(3, batch, 2, []int{8},
		[]bool{true}, []*network.Activation{network.ReLU()},
		init.InitWFn(), 14)
	require.NoError(t, err)
	return pol
}

func TestSquashedGaussianSampleInBounds(t *testing.T) {
	pol := newTestPolicy(t, 4)

	obs := []float64{
		0.1, -0.2, 0.3,
		-0.4, 0.5, -0.6,
		0.0, 0.0, 0.0,
		1.0, -1.0, 1.0,
	}

	for i := 0; i < 5; i++ {
		actions, logPdf, err := pol.SampleBatch(obs)
		require.NoError(t, err)
		require.Len(t, actions, 4*2)
		require.Len(t, logPdf, 4)

		for _, a := range actions {
			assert.Less(t, math.Abs(a), 1.0,
				"squashed actions must lie in (-1, 1)")
		}
		for _, lp := range logPdf {
			assert.False(t, math.IsNaN(lp))
			assert.False(t, math.IsInf(lp, 0))
		}
	}
}

func TestSquashedGaussianMeanIsDeterministic(t *testing.T) {
	pol := newTestPolicy(t, 1)

	obs := []float64{0.1, -0.2, 0.3}

	first, _, err := pol.MeanBatch(obs)
	require.NoError(t, err)
	second, _, err := pol.MeanBatch(obs)
	require.NoError(t, err)

	assert.InDeltaSlice(t, first, second, 1e-12)
}

func TestSquashedGaussianSetWeights(t *testing.T) {
	src := newTestPolicy(t, 1)
	dest := newTestPolicy(t, 1)

	obs := []float64{0.1, -0.2, 0.3}

	srcMean, _, err := src.MeanBatch(obs)
	require.NoError(t, err)

	require.NoError(t, dest.Network().Set(src.Network()))

	destMean, _, err := dest.MeanBatch(obs)
	require.NoError(t, err)

	assert.InDeltaSlice(t, srcMean, destMean, 1e-12)
}

func TestSquashedGaussianRejectsForeignGraphSampling(t *testing.T) {
	init, err := initwfn.NewGlorotU(1.0)
	require.NoError(t, err)

	pol := newTestPolicy(t, 2)

	// A policy embedded in another graph owns no virtual machine
	embedded, err := NewSquashedGaussianMLPFromInput(
		pol.Network().Prediction()[0], 2, pol.Network().Graph(),
		[]int{4}, []bool{true}, []*network.Activation{network.TanH()},
		init.InitWFn(), "embedded", 14)
	require.NoError(t, err)

	_, _, err = embedded.SampleBatch([]float64{0, 0, 0, 0, 0, 0})
	assert.Error(t, err)
}

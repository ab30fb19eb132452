package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/diffsteer/diffsteer/initwfn"
)

// newConstantEnsemble returns a 2-member ensemble with every learnable
// initialized to the argument value
func newConstantEnsemble(t *testing.T, value float64,
	prefix string) *Ensemble {
	t.Helper()

	init, err := initwfn.NewConstant(value)
	require.NoError(t, err)

	ens, err := NewEnsemble(2, 3, 2, 4, []int{5}, []bool{true},
		[]*Activation{ReLU()}, init.InitWFn(), prefix)
	require.NoError(t, err)
	return ens
}

// learnableData returns the flat weight values of every learnable in
// the ensemble
func learnableData(ens *Ensemble) [][]float64 {
	var out [][]float64
	for _, learnable := range ens.Learnables() {
		out = append(out, learnable.Value().Data().([]float64))
	}
	return out
}

// TestEnsemblePolyakExact checks the soft-update arithmetic exactly:
// with the target at 0, the online ensemble at 1, and tau = 0.25,
// every target parameter must land exactly at 0.25
func TestEnsemblePolyakExact(t *testing.T) {
	online := newConstantEnsemble(t, 1.0, "online")
	target := newConstantEnsemble(t, 0.0, "target")

	require.NoError(t, target.PolyakFrom(online, 0.25))

	for _, weights := range learnableData(target) {
		for _, w := range weights {
			assert.Equal(t, 0.25, w)
		}
	}

	// The online ensemble is untouched
	for _, weights := range learnableData(online) {
		for _, w := range weights {
			assert.Equal(t, 1.0, w)
		}
	}
}

func TestEnsemblePolyakFullTauCopies(t *testing.T) {
	online := newConstantEnsemble(t, 1.0, "online")
	target := newConstantEnsemble(t, 0.0, "target")

	require.NoError(t, target.PolyakFrom(online, 1.0))

	for _, weights := range learnableData(target) {
		for _, w := range weights {
			assert.Equal(t, 1.0, w)
		}
	}
}

func TestEnsembleSetFrom(t *testing.T) {
	src := newConstantEnsemble(t, 0.5, "src")
	dest := newConstantEnsemble(t, -1.0, "dest")

	require.NoError(t, dest.SetFrom(src))

	for _, weights := range learnableData(dest) {
		for _, w := range weights {
			assert.Equal(t, 0.5, w)
		}
	}
}

func TestEnsembleHardCopyStatsFrom(t *testing.T) {
	src := newConstantEnsemble(t, 0.5, "src")
	dest := newConstantEnsemble(t, -1.0, "dest")

	// Fully connected ensembles carry no running statistics, so the
	// hard copy is a no-op that must still succeed
	assert.NoError(t, dest.HardCopyStatsFrom(src))
}

func TestEnsembleMembersAndShapes(t *testing.T) {
	ens := newConstantEnsemble(t, 1.0, "q")

	assert.Equal(t, 2, ens.Members())
	assert.Equal(t, 4, ens.BatchSize())
	assert.Equal(t, 3, ens.Features())
	assert.Equal(t, 2, ens.ActionSize())
	assert.Len(t, ens.Predictions(), 2)
}

func TestEnsembleForwardPass(t *testing.T) {
	ens := newConstantEnsemble(t, 0.0, "q")

	obs := make([]float64, 4*3)
	actions := make([]float64, 4*2)
	require.NoError(t, ens.SetInputs(obs, actions))

	vm := G.NewTapeMachine(ens.Graph())
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	vm.Reset()

	values := ens.Values()
	require.Len(t, values, 2)
	for _, member := range values {
		require.Len(t, member, 4)
		for _, v := range member {
			assert.Equal(t, 0.0, v)
		}
	}
}

func TestEnsembleCloneInto(t *testing.T) {
	ens := newConstantEnsemble(t, 1.0, "q")

	g := G.NewGraph()
	obs := G.NewMatrix(g, tensor.Float64, G.WithShape(4, 3),
		G.WithName("cloneObs"), G.WithInit(G.Zeroes()))
	actions := G.NewMatrix(g, tensor.Float64, G.WithShape(4, 2),
		G.WithName("cloneActions"), G.WithInit(G.Zeroes()))

	clone, err := ens.CloneInto(g, obs, actions)
	require.NoError(t, err)

	assert.Equal(t, 2, clone.Members())
	assert.Len(t, clone.Predictions(), 2)
	assert.Equal(t, g, clone.Graph())

	// The clone copies the current weights
	for _, weights := range learnableData(clone) {
		for _, w := range weights {
			assert.Equal(t, 1.0, w)
		}
	}
}

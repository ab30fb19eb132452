package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/diffsteer/diffsteer/initwfn"
	"github.com/diffsteer/diffsteer/network"
)

func TestIdentityDecodeReturnsCopy(t *testing.T) {
	dec, err := NewIdentity(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, dec.ChunkLen())
	assert.Equal(t, 3, dec.ActionDims())

	backing := []float64{1, 2, 3, 4, 5, 6}
	noise := tensor.New(tensor.WithShape(1, 2, 3),
		tensor.WithBacking(backing))

	decoded, err := dec.Decode(nil, noise, Train)
	require.NoError(t, err)
	assert.Equal(t, noise.Shape(), decoded.Shape())
	assert.Equal(t, backing, decoded.Data().([]float64))

	// Decoding copies: mutating the output leaves the noise untouched
	decoded.Data().([]float64)[0] = 99.0
	assert.Equal(t, 1.0, noise.Data().([]float64)[0])
}

func TestIdentityRejectsBadShape(t *testing.T) {
	dec, err := NewIdentity(2, 3)
	require.NoError(t, err)

	flat := tensor.New(tensor.WithShape(1, 6),
		tensor.WithBacking(make([]float64, 6)))
	_, err = dec.Decode(nil, flat, Train)
	assert.Error(t, err)

	wrongChunk := tensor.New(tensor.WithShape(1, 3, 2),
		tensor.WithBacking(make([]float64, 6)))
	_, err = dec.Decode(nil, wrongChunk, Train)
	assert.Error(t, err)
}

func TestFrozenNetDecode(t *testing.T) {
	zeroes, err := initwfn.NewZeroes()
	require.NoError(t, err)

	// Network mapping 2 observation dims + 2 noise dims to a 2-dim
	// action chunk. Zero weights make the output exactly zero no
	// matter the input.
	net, err := network.NewMultiHeadMLP(4, 1, 2, G.NewGraph(), []int{3},
		[]bool{true}, zeroes.InitWFn(),
		[]*network.Activation{network.ReLU()})
	require.NoError(t, err)

	dec, err := NewFrozenNet(net, 1, 2)
	require.NoError(t, err)

	noise := tensor.New(tensor.WithShape(1, 1, 2),
		tensor.WithBacking([]float64{0.5, -0.5}))
	decoded, err := dec.Decode([]float64{0.1, 0.2}, noise, Train)
	require.NoError(t, err)

	assert.Equal(t, []int(noise.Shape()), []int(decoded.Shape()))
	assert.Equal(t, []float64{0.0, 0.0}, decoded.Data().([]float64))

	// Decoding is repeatable across calls with the cached clone
	again, err := dec.Decode([]float64{0.3, -0.1}, noise, Inference)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.0, 0.0}, again.Data().([]float64))
}

func TestFrozenNetRejectsMismatchedOutputs(t *testing.T) {
	zeroes, err := initwfn.NewZeroes()
	require.NoError(t, err)

	net, err := network.NewMultiHeadMLP(4, 1, 3, G.NewGraph(), []int{3},
		[]bool{true}, zeroes.InitWFn(),
		[]*network.Activation{network.ReLU()})
	require.NoError(t, err)

	_, err = NewFrozenNet(net, 1, 2)
	assert.Error(t, err)
}

package decoder

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/diffsteer/diffsteer/network"
)

// frozenClone caches a fixed-batch-size copy of the frozen network
// together with its virtual machine
type frozenClone struct {
	net network.NeuralNet
	vm  G.VM
}

// FrozenNet is a Decoder backed by a pretrained neural network whose
// weights are never adjusted. The network maps a concatenated
// (observation, flattened noise) input to a flattened action chunk of
// chunkLen * actionDims outputs.
//
// FrozenNet lazily clones the wrapped network once per distinct batch
// size and reuses the clones on subsequent calls.
type FrozenNet struct {
	net        network.NeuralNet
	clones     map[int]*frozenClone
	chunkLen   int
	actionDims int
	obsDims    int
}

// NewFrozenNet returns a Decoder backed by net. The network's output
// layer must produce chunkLen * actionDims values.
func NewFrozenNet(net network.NeuralNet, chunkLen,
	actionDims int) (*FrozenNet, error) {
	if chunkLen < 1 {
		return nil, fmt.Errorf("newFrozenNet: chunkLen must be > 0")
	}
	if actionDims < 1 {
		return nil, fmt.Errorf("newFrozenNet: actionDims must be > 0")
	}
	if net.Outputs() != chunkLen*actionDims {
		return nil, fmt.Errorf("newFrozenNet: network has %v outputs "+
			"but chunk requires %v", net.Outputs(), chunkLen*actionDims)
	}

	noiseDims := chunkLen * actionDims
	obsDims := net.Features() - noiseDims
	if obsDims < 1 {
		return nil, fmt.Errorf("newFrozenNet: network takes %v features, "+
			"too few for noise of size %v", net.Features(), noiseDims)
	}

	return &FrozenNet{
		net:        net,
		clones:     make(map[int]*frozenClone),
		chunkLen:   chunkLen,
		actionDims: actionDims,
		obsDims:    obsDims,
	}, nil
}

// cloneFor returns the cached clone for the argument batch size,
// creating one if needed
func (f *FrozenNet) cloneFor(batch int) (*frozenClone, error) {
	if clone, ok := f.clones[batch]; ok {
		return clone, nil
	}

	net, err := f.net.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("cloneFor: could not clone network: %v", err)
	}
	vm := G.NewTapeMachine(net.Graph())

	clone := &frozenClone{net: net, vm: vm}
	f.clones[batch] = clone
	return clone, nil
}

// Decode runs the frozen network forward on each (observation, noise)
// pair in the batch. The mode argument is ignored: the network is
// deterministic.
func (f *FrozenNet) Decode(obs []float64, noise *tensor.Dense,
	mode Mode) (*tensor.Dense, error) {
	if len(noise.Shape()) != 3 {
		return nil, fmt.Errorf("decode: noise must have shape (batch, "+
			"chunk, actionDims), got %v", noise.Shape())
	}

	batch := noise.Shape()[0]
	if noise.Shape()[1] != f.chunkLen || noise.Shape()[2] != f.actionDims {
		return nil, fmt.Errorf("decode: invalid noise shape \n\twant(%v, "+
			"%v, %v) \n\thave%v", batch, f.chunkLen, f.actionDims,
			noise.Shape())
	}
	if len(obs) != batch*f.obsDims {
		return nil, fmt.Errorf("decode: invalid observation batch size "+
			"\n\twant(%v) \n\thave(%v)", batch*f.obsDims, len(obs))
	}

	clone, err := f.cloneFor(batch)
	if err != nil {
		return nil, fmt.Errorf("decode: %v", err)
	}

	noiseData := noise.Data().([]float64)
	noiseDims := f.chunkLen * f.actionDims
	input := make([]float64, batch*(f.obsDims+noiseDims))
	for i := 0; i < batch; i++ {
		row := i * (f.obsDims + noiseDims)
		copy(input[row:row+f.obsDims], obs[i*f.obsDims:(i+1)*f.obsDims])
		copy(input[row+f.obsDims:row+f.obsDims+noiseDims],
			noiseData[i*noiseDims:(i+1)*noiseDims])
	}

	if err := clone.net.SetInput(input); err != nil {
		return nil, fmt.Errorf("decode: could not set input: %v", err)
	}
	if err := clone.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("decode: could not run forward pass: %v", err)
	}
	clone.vm.Reset()

	out := clone.net.Output()[0].Data().([]float64)
	actions := make([]float64, len(out))
	copy(actions, out)

	return tensor.New(
		tensor.WithShape(batch, f.chunkLen, f.actionDims),
		tensor.WithBacking(actions),
	), nil
}

// ChunkLen returns the number of actions per decoded chunk
func (f *FrozenNet) ChunkLen() int {
	return f.chunkLen
}

// ActionDims returns the dimensionality of a single action
func (f *FrozenNet) ActionDims() int {
	return f.actionDims
}

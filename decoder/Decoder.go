// Package decoder provides frozen action decoders which map latent
// noise to environment actions
package decoder

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Mode describes the regime a Decoder is queried under. Decoders may
// behave stochastically in Train mode and deterministically in
// Inference mode.
type Mode int

// Available decoder modes
const (
	Train Mode = iota
	Inference
)

// Decoder maps a batch of latent noise vectors to a batch of
// environment actions, conditioned on observations. The noise tensor
// has shape (batch, chunk, actionDims) and the returned action tensor
// has the same shape. Implementations are frozen: Decode never adjusts
// any internal parameters.
type Decoder interface {
	Decode(obs []float64, noise *tensor.Dense, mode Mode) (*tensor.Dense,
		error)

	// ChunkLen returns the number of actions per decoded chunk
	ChunkLen() int

	// ActionDims returns the dimensionality of a single action
	ActionDims() int
}

// Identity is a Decoder which returns the latent noise unchanged. It
// is useful for environments whose action space coincides with the
// latent space and for testing the training loop end-to-end.
type Identity struct {
	chunkLen   int
	actionDims int
}

// NewIdentity returns a new Identity decoder
func NewIdentity(chunkLen, actionDims int) (*Identity, error) {
	if chunkLen < 1 {
		return nil, fmt.Errorf("newIdentity: chunkLen must be > 0")
	}
	if actionDims < 1 {
		return nil, fmt.Errorf("newIdentity: actionDims must be > 0")
	}
	return &Identity{chunkLen: chunkLen, actionDims: actionDims}, nil
}

// Decode returns a copy of the latent noise
func (i *Identity) Decode(obs []float64, noise *tensor.Dense,
	mode Mode) (*tensor.Dense, error) {
	if len(noise.Shape()) != 3 {
		return nil, fmt.Errorf("decode: noise must have shape (batch, "+
			"chunk, actionDims), got %v", noise.Shape())
	}
	if noise.Shape()[1] != i.chunkLen || noise.Shape()[2] != i.actionDims {
		return nil, fmt.Errorf("decode: invalid noise shape \n\twant(batch"+
			", %v, %v) \n\thave%v", i.chunkLen, i.actionDims, noise.Shape())
	}
	return noise.Clone().(*tensor.Dense), nil
}

// ChunkLen returns the number of actions per decoded chunk
func (i *Identity) ChunkLen() int {
	return i.chunkLen
}

// ActionDims returns the dimensionality of a single action
func (i *Identity) ActionDims() int {
	return i.actionDims
}

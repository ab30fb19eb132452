// Package network implements neural network function approximators
// built on Gorgonia computational graphs
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NeuralNet implements a neural network on a Gorgonia computational
// graph. A NeuralNet owns its learnable weight nodes but not the graph
// itself: many networks may share one graph, for example an ensemble of
// Q-functions or an actor composed with a frozen critic copy.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)

	// CloneWithInputsTo clones the network onto the argument graph,
	// running its forward pass from the argument input nodes. Multiple
	// inputs are concatenated along axis before the forward pass.
	CloneWithInputsTo(axis int, inputs []*G.Node,
		g *G.ExprGraph) (NeuralNet, error)

	BatchSize() int
	Features() int
	Outputs() int

	SetInput([]float64) error
	Set(NeuralNet) error
	Polyak(NeuralNet, float64) error

	// RunningStats returns the named running normalization statistics
	// of the network, keyed by statistic name. Networks without
	// normalization layers return an empty map. These tensors are never
	// adapted by gradient descent and are synchronized between networks
	// by exact copy, never by Polyak averaging.
	RunningStats() map[string]*tensor.Dense

	Learnables() G.Nodes
	Model() []G.ValueGrad
	Output() []G.Value
	Prediction() []*G.Node
}

// Set sets the weights of dest to the weights of src
func Set(dest, src NeuralNet) error {
	return dest.Set(src)
}

// Polyak sets the weights of dest to a Polyak average between its
// existing weights and the weights of src:
//
// dest <- (1 - tau) * dest + tau * src
func Polyak(dest, src NeuralNet, tau float64) error {
	return dest.Polyak(src, tau)
}

// HardCopyStats copies the running normalization statistics of src into
// dest by key lookup, an exact copy with averaging factor 1.0. This is
// a distinct synchronization path from Polyak: running statistics must
// track the source exactly, never a blend.
func HardCopyStats(dest, src NeuralNet) error {
	destStats := dest.RunningStats()
	for key, stat := range src.RunningStats() {
		destStat, ok := destStats[key]
		if !ok {
			return fmt.Errorf("hardcopystats: destination has no running "+
				"statistic %q", key)
		}
		if err := tensor.Copy(destStat, stat); err != nil {
			return fmt.Errorf("hardcopystats: could not copy %q: %v", key, err)
		}
	}
	return nil
}

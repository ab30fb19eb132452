package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Ensemble implements an ordered set of independently parameterized
// value estimators sharing the input contract (observation, action) ->
// value. All members live on one computational graph and read from
// shared observation and action input nodes, so a single VM runs every
// member's forward pass.
//
// The estimators may consume decoded environment actions or raw noise
// vectors; the Ensemble is agnostic to which, it only fixes the action
// feature width.
type Ensemble struct {
	g       *G.ExprGraph
	obs     *G.Node
	actions *G.Node

	members []NeuralNet
	preds   []*G.Node

	batchSize  int
	features   int
	actionSize int
}

// NewEnsemble returns a new Ensemble of members value estimators on a
// fresh graph. Each member is an MLP from the concatenated
// (observation, action) input to a single value prediction, with its
// own independently initialized weights. The prefix parameter
// namespaces the member weights.
func NewEnsemble(members, features, actionSize, batch int, hiddenSizes []int,
	biases []bool, activations []*Activation, init G.InitWFn,
	prefix string) (*Ensemble, error) {
	if members < 1 {
		return nil, fmt.Errorf("newensemble: must have at least 1 member")
	}

	g := G.NewGraph()
	obs := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName(prefix+"Observations"), G.WithInit(G.Zeroes()))
	actions := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, actionSize),
		G.WithName(prefix+"Actions"), G.WithInit(G.Zeroes()))

	return newEnsembleFromInputs(members, g, obs, actions, hiddenSizes, biases,
		activations, init, prefix)
}

// newEnsembleFromInputs builds ensemble members from existing
// observation and action nodes on the argument graph.
func newEnsembleFromInputs(members int, g *G.ExprGraph, obs, actions *G.Node,
	hiddenSizes []int, biases []bool, activations []*Activation,
	init G.InitWFn, prefix string) (*Ensemble, error) {

	nets := make([]NeuralNet, members)
	preds := make([]*G.Node, members)
	for i := 0; i < members; i++ {
		net, err := NewMultiHeadMLPFromInput([]*G.Node{obs, actions}, 1, g,
			hiddenSizes, biases, init, activations,
			fmt.Sprintf("%vQ%d", prefix, i))
		if err != nil {
			return nil, fmt.Errorf("newensemble: could not construct member "+
				"%d: %v", i, err)
		}
		nets[i] = net
		preds[i] = net.Prediction()[0]
	}

	return &Ensemble{
		g:          g,
		obs:        obs,
		actions:    actions,
		members:    nets,
		preds:      preds,
		batchSize:  obs.Shape()[0],
		features:   obs.Shape()[1],
		actionSize: actions.Shape()[1],
	}, nil
}

// CloneInto clones the ensemble's members onto the argument graph,
// running their forward passes from the argument observation and
// action nodes. The clone copies the current member weights; it shares
// no state with the receiver afterwards, so callers that need the
// clone to track the receiver must synchronize it with SetFrom.
func (e *Ensemble) CloneInto(g *G.ExprGraph, obs, actions *G.Node) (*Ensemble,
	error) {
	nets := make([]NeuralNet, len(e.members))
	preds := make([]*G.Node, len(e.members))
	for i, member := range e.members {
		net, err := member.CloneWithInputsTo(1, []*G.Node{obs, actions}, g)
		if err != nil {
			return nil, fmt.Errorf("cloneinto: could not clone member %d: %v",
				i, err)
		}
		nets[i] = net
		preds[i] = net.Prediction()[0]
	}

	return &Ensemble{
		g:          g,
		obs:        obs,
		actions:    actions,
		members:    nets,
		preds:      preds,
		batchSize:  obs.Shape()[0],
		features:   obs.Shape()[1],
		actionSize: actions.Shape()[1],
	}, nil
}

// Graph returns the computational graph the ensemble lives on
func (e *Ensemble) Graph() *G.ExprGraph {
	return e.g
}

// Members returns the number of estimators in the ensemble
func (e *Ensemble) Members() int {
	return len(e.members)
}

// BatchSize returns the batch size of inputs to the ensemble
func (e *Ensemble) BatchSize() int {
	return e.batchSize
}

// Features returns the number of observation features
func (e *Ensemble) Features() int {
	return e.features
}

// ActionSize returns the number of action features
func (e *Ensemble) ActionSize() int {
	return e.actionSize
}

// Predictions returns each member's prediction node, each of shape
// (batch, 1)
func (e *Ensemble) Predictions() []*G.Node {
	return e.preds
}

// Values returns each member's latest prediction values as flat
// slices of length batch. The ensemble's VM must have been run first.
func (e *Ensemble) Values() [][]float64 {
	vals := make([][]float64, len(e.members))
	for i, member := range e.members {
		data := member.Output()[0].Data().([]float64)
		out := make([]float64, len(data))
		copy(out, data)
		vals[i] = out
	}
	return vals
}

// SetInputs sets the observation and action input values before
// running the ensemble's forward pass
func (e *Ensemble) SetInputs(obs, actions []float64) error {
	if len(obs) != e.batchSize*e.features {
		return fmt.Errorf("setinputs: invalid observation size \n\twant(%v)"+
			"\n\thave(%v)", e.batchSize*e.features, len(obs))
	}
	if len(actions) != e.batchSize*e.actionSize {
		return fmt.Errorf("setinputs: invalid action size \n\twant(%v)"+
			"\n\thave(%v)", e.batchSize*e.actionSize, len(actions))
	}

	obsTensor := tensor.New(tensor.WithShape(e.batchSize, e.features),
		tensor.WithBacking(obs))
	if err := G.Let(e.obs, obsTensor); err != nil {
		return fmt.Errorf("setinputs: could not set observations: %v", err)
	}

	actionTensor := tensor.New(tensor.WithShape(e.batchSize, e.actionSize),
		tensor.WithBacking(actions))
	if err := G.Let(e.actions, actionTensor); err != nil {
		return fmt.Errorf("setinputs: could not set actions: %v", err)
	}
	return nil
}

// SetFrom sets each member's weights equal to the corresponding
// member's weights in src
func (e *Ensemble) SetFrom(src *Ensemble) error {
	if len(e.members) != len(src.members) {
		return fmt.Errorf("setfrom: mismatched ensemble sizes \n\twant(%v)"+
			"\n\thave(%v)", len(e.members), len(src.members))
	}
	for i := range e.members {
		if err := e.members[i].Set(src.members[i]); err != nil {
			return fmt.Errorf("setfrom: could not set member %d: %v", i, err)
		}
	}
	return nil
}

// PolyakFrom moves each member's weights toward the corresponding
// member's weights in src by Polyak averaging:
//
// dest <- (1 - tau) * dest + tau * src
func (e *Ensemble) PolyakFrom(src *Ensemble, tau float64) error {
	if len(e.members) != len(src.members) {
		return fmt.Errorf("polyakfrom: mismatched ensemble sizes \n\twant(%v)"+
			"\n\thave(%v)", len(e.members), len(src.members))
	}
	for i := range e.members {
		if err := e.members[i].Polyak(src.members[i], tau); err != nil {
			return fmt.Errorf("polyakfrom: could not average member %d: %v",
				i, err)
		}
	}
	return nil
}

// HardCopyStatsFrom copies each member's running normalization
// statistics from src exactly, with averaging factor 1.0. This path is
// kept separate from PolyakFrom: running statistics always track the
// source exactly.
func (e *Ensemble) HardCopyStatsFrom(src *Ensemble) error {
	if len(e.members) != len(src.members) {
		return fmt.Errorf("hardcopystatsfrom: mismatched ensemble sizes "+
			"\n\twant(%v)\n\thave(%v)", len(e.members), len(src.members))
	}
	for i := range e.members {
		if err := HardCopyStats(e.members[i], src.members[i]); err != nil {
			return fmt.Errorf("hardcopystatsfrom: member %d: %v", i, err)
		}
	}
	return nil
}

// Learnables returns the learnable nodes of every member
func (e *Ensemble) Learnables() G.Nodes {
	var learnables G.Nodes
	for _, member := range e.members {
		learnables = append(learnables, member.Learnables()...)
	}
	return learnables
}

// Model returns the learnable nodes of every member with their
// gradients
func (e *Ensemble) Model() []G.ValueGrad {
	var model []G.ValueGrad
	for _, member := range e.members {
		model = append(model, member.Model()...)
	}
	return model
}

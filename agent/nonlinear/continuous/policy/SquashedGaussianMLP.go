// Package policy implements parameterized policies for continuous
// action spaces using Gorgonia computational graphs
package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/diffsteer/diffsteer/network"
	"github.com/diffsteer/diffsteer/utils/tensorutils"
)

// stdOffset is added to the standard deviation of the policy for
// numerical stability
const stdOffset float64 = 1e-3

// squashOffset is added inside the log of the tanh change-of-variable
// correction for numerical stability
const squashOffset float64 = 1e-6

// SquashedGaussianMLP implements a tanh-squashed Gaussian policy whose
// mean and log standard deviation are predicted by an MLP. Actions are
// sampled using reparameterization: a standard normal draw is fed into
// the graph as an input node, and the sampled action together with its
// log probability are computed symbolically so that gradients flow
// from the log probability and the action back into the MLP weights.
//
// Sampled actions lie in (-1, 1) elementwise.
type SquashedGaussianMLP struct {
	net network.NeuralNet
	g   *G.ExprGraph
	vm  G.VM // non-nil only when the policy owns its graph

	eps        *G.Node
	action     *G.Node
	meanAction *G.Node
	logPdfNode *G.Node

	actionVal     G.Value
	meanActionVal G.Value
	logPdfVal     G.Value

	normal     distuv.Normal
	actionDims int
	batchSize  int
}

// NewSquashedGaussianMLP returns a new SquashedGaussianMLP on its own
// graph, with its own observation input node of shape
// (batch, features). Such a policy owns a virtual machine and can
// sample actions numerically with SampleBatch.
func NewSquashedGaussianMLP(features, batch, actionDims int,
	hiddenSizes []int, biases []bool, activations []*network.Activation,
	init G.InitWFn, seed uint64) (*SquashedGaussianMLP, error) {
	g := G.NewGraph()

	net, err := network.NewMultiHeadMLP(features, batch, 2*actionDims, g,
		hiddenSizes, biases, init, activations)
	if err != nil {
		return nil, fmt.Errorf("newSquashedGaussianMLP: could not create "+
			"policy network: %v", err)
	}

	pol, err := fromNet(net, actionDims, seed)
	if err != nil {
		return nil, fmt.Errorf("newSquashedGaussianMLP: %v", err)
	}
	pol.vm = G.NewTapeMachine(g)

	return pol, nil
}

// NewSquashedGaussianMLPFromInput returns a new SquashedGaussianMLP on
// the argument graph, running its forward pass from the argument
// observation node. The prefix parameter namespaces the policy weights
// on the shared graph. The returned policy owns no virtual machine:
// the caller runs the graph and is responsible for calling
// RandomizeEps before each run.
func NewSquashedGaussianMLPFromInput(obs *G.Node, actionDims int,
	g *G.ExprGraph, hiddenSizes []int, biases []bool,
	activations []*network.Activation, init G.InitWFn, prefix string,
	seed uint64) (*SquashedGaussianMLP, error) {
	net, err := network.NewMultiHeadMLPFromInput([]*G.Node{obs},
		2*actionDims, g, hiddenSizes, biases, init, activations, prefix)
	if err != nil {
		return nil, fmt.Errorf("newSquashedGaussianMLPFromInput: could not "+
			"create policy network: %v", err)
	}

	pol, err := fromNet(net, actionDims, seed)
	if err != nil {
		return nil, fmt.Errorf("newSquashedGaussianMLPFromInput: %v", err)
	}
	return pol, nil
}

// fromNet builds the sampling and log probability heads on top of the
// argument network, which must predict 2*actionDims outputs: the first
// actionDims columns are the mean and the last actionDims columns the
// log standard deviation.
func fromNet(net network.NeuralNet, actionDims int,
	seed uint64) (*SquashedGaussianMLP, error) {
	if net.Outputs() != 2*actionDims {
		return nil, fmt.Errorf("fromNet: policy network must predict %v "+
			"outputs \n\thave(%v)", 2*actionDims, net.Outputs())
	}

	g := net.Graph()
	batch := net.BatchSize()
	out := net.Prediction()[0]

	mean, logStd, err := splitHeads(out, actionDims)
	if err != nil {
		return nil, fmt.Errorf("fromNet: %v", err)
	}

	// Offset the standard deviation for numerical stability
	offset := G.NewConstant(stdOffset)
	std := G.Must(G.Exp(logStd))
	std = G.Must(G.Add(offset, std))

	// Reparameterized sample: u = mean + std * eps with eps drawn from
	// a standard normal and fed in as an input
	eps := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, actionDims),
		G.WithName(out.Name()+"SampleEps"), G.WithInit(G.Zeroes()))
	u := G.Must(G.Add(mean, G.Must(G.HadamardProd(std, eps))))

	action := G.Must(G.Tanh(u))
	meanAction := G.Must(G.Tanh(mean))

	logPdfNode := squashedLogPdf(std, eps, action)

	source := rand.NewSource(seed)
	normal := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: source}

	pol := &SquashedGaussianMLP{
		net: net,
		g:   g,

		eps:        eps,
		action:     action,
		meanAction: meanAction,
		logPdfNode: logPdfNode,

		normal:     normal,
		actionDims: actionDims,
		batchSize:  batch,
	}

	G.Read(pol.action, &pol.actionVal)
	G.Read(pol.meanAction, &pol.meanActionVal)
	G.Read(pol.logPdfNode, &pol.logPdfVal)

	return pol, nil
}

// splitHeads splits the network output into its mean and log standard
// deviation columns
func splitHeads(out *G.Node, actionDims int) (mean, logStd *G.Node,
	err error) {
	defer func() {
		if r := recover(); r != nil {
			mean, logStd = nil, nil
			err = fmt.Errorf("splitHeads: could not slice output heads: %v",
				r)
		}
	}()

	mean = G.Must(G.Slice(out, nil, tensorutils.NewSlice(0, actionDims, 1)))
	logStd = G.Must(G.Slice(out, nil,
		tensorutils.NewSlice(actionDims, 2*actionDims, 1)))

	// Size-1 slices collapse the column dimension
	if mean.IsVector() {
		mean = G.Must(G.Reshape(mean, []int{out.Shape()[0], actionDims}))
		logStd = G.Must(G.Reshape(logStd, []int{out.Shape()[0], actionDims}))
	}
	return mean, logStd, nil
}

// squashedLogPdf adds nodes to the computational graph which compute
// the log probability of the squashed action tanh(mean + std*eps). The
// Gaussian term uses the identity (u - mean) / std == eps, and the
// tanh change of variable contributes -log(1 - action^2) per
// dimension. The returned node has one entry per batch row.
func squashedLogPdf(std, eps, action *G.Node) *G.Node {
	graph := std.Graph()
	if graph != eps.Graph() || graph != action.Graph() {
		panic("squashedLogPdf: all nodes must share the same graph")
	}

	negativeHalf := G.NewConstant(-0.5)
	two := G.NewConstant(2.0)

	// Per-dimension Gaussian log density of u = mean + std*eps
	exponent := G.Must(G.Pow(eps, two))
	exponent = G.Must(G.HadamardProd(negativeHalf, exponent))
	term2 := G.Must(G.Log(std))
	term3 := G.NewConstant(math.Log(math.Pow(2*math.Pi, 0.5)))
	gauss := G.Must(G.Sub(exponent, G.Must(G.Add(term2, term3))))

	// Per-dimension tanh change-of-variable correction
	one := G.NewConstant(1.0)
	stability := G.NewConstant(squashOffset)
	squared := G.Must(G.Square(action))
	correction := G.Must(G.Sub(one, squared))
	correction = G.Must(G.Add(correction, stability))
	correction = G.Must(G.Log(correction))

	logProb := G.Must(G.Sub(gauss, correction))
	logProb = G.Must(G.Sum(logProb, 1))

	return logProb
}

// RandomizeEps feeds a fresh standard normal draw into the policy's
// sampling input node. It must be called before each run of the graph
// that uses the sampled action or its log probability.
func (s *SquashedGaussianMLP) RandomizeEps() error {
	draws := make([]float64, s.batchSize*s.actionDims)
	for i := range draws {
		draws[i] = s.normal.Rand()
	}
	epsTensor := tensor.New(
		tensor.WithShape(s.batchSize, s.actionDims),
		tensor.WithBacking(draws),
	)
	return G.Let(s.eps, epsTensor)
}

// ZeroEps feeds zeros into the policy's sampling input node so that
// the sampled action equals the deterministic mean action.
func (s *SquashedGaussianMLP) ZeroEps() error {
	epsTensor := tensor.New(
		tensor.WithShape(s.batchSize, s.actionDims),
		tensor.WithBacking(make([]float64, s.batchSize*s.actionDims)),
	)
	return G.Let(s.eps, epsTensor)
}

// SampleBatch samples one action per observation in the argument
// batch, returning the flat batch of sampled actions and their log
// probabilities. Only policies constructed on their own graph can
// sample numerically.
func (s *SquashedGaussianMLP) SampleBatch(obs []float64) ([]float64,
	[]float64, error) {
	if s.vm == nil {
		return nil, nil, fmt.Errorf("sampleBatch: policy does not own its " +
			"graph")
	}
	if err := s.RandomizeEps(); err != nil {
		return nil, nil, fmt.Errorf("sampleBatch: could not sample "+
			"noise: %v", err)
	}
	return s.run(obs, s.actionVal)
}

// MeanBatch returns the deterministic mean action for each observation
// in the argument batch together with the log probabilities of those
// actions. Only policies constructed on their own graph can sample
// numerically.
func (s *SquashedGaussianMLP) MeanBatch(obs []float64) ([]float64,
	[]float64, error) {
	if s.vm == nil {
		return nil, nil, fmt.Errorf("meanBatch: policy does not own its " +
			"graph")
	}
	if err := s.ZeroEps(); err != nil {
		return nil, nil, fmt.Errorf("meanBatch: could not zero noise: %v",
			err)
	}
	return s.run(obs, s.meanActionVal)
}

// run feeds the observations into the network, runs the owned virtual
// machine, and returns the value of the argument action output
// together with the log probabilities
func (s *SquashedGaussianMLP) run(obs []float64,
	actionOut G.Value) ([]float64, []float64, error) {
	if err := s.net.SetInput(obs); err != nil {
		return nil, nil, fmt.Errorf("run: could not set input: %v", err)
	}
	if err := s.vm.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("run: could not run forward pass: %v",
			err)
	}
	s.vm.Reset()

	actions := make([]float64, s.batchSize*s.actionDims)
	copy(actions, actionOut.Data().([]float64))

	logPdf := make([]float64, s.batchSize)
	copy(logPdf, s.logPdfVal.Data().([]float64))

	return actions, logPdf, nil
}

// Network returns the policy's underlying network
func (s *SquashedGaussianMLP) Network() network.NeuralNet {
	return s.net
}

// ActionNode returns the node holding the sampled action
func (s *SquashedGaussianMLP) ActionNode() *G.Node {
	return s.action
}

// MeanActionNode returns the node holding the deterministic mean
// action
func (s *SquashedGaussianMLP) MeanActionNode() *G.Node {
	return s.meanAction
}

// LogPdfNode returns the node holding the log probability of the
// sampled action
func (s *SquashedGaussianMLP) LogPdfNode() *G.Node {
	return s.logPdfNode
}

// LogPdfVal returns the value of the node returned by LogPdfNode()
// after the graph has been run
func (s *SquashedGaussianMLP) LogPdfVal() G.Value {
	return s.logPdfVal
}

// ActionVal returns the value of the node returned by ActionNode()
// after the graph has been run
func (s *SquashedGaussianMLP) ActionVal() G.Value {
	return s.actionVal
}

// BatchSize returns the number of observations the policy samples
// actions for at once
func (s *SquashedGaussianMLP) BatchSize() int {
	return s.batchSize
}

// ActionDims returns the dimensionality of the policy's actions
func (s *SquashedGaussianMLP) ActionDims() int {
	return s.actionDims
}

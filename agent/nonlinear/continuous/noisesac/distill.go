package noisesac

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/diffsteer/diffsteer/agent/nonlinear/continuous/policy"
	"github.com/diffsteer/diffsteer/decoder"
	"github.com/diffsteer/diffsteer/network"
	"github.com/diffsteer/diffsteer/solver"
	"github.com/diffsteer/diffsteer/spec"
	"github.com/diffsteer/diffsteer/utils/tensorutils"
)

// noiseCriticDistiller trains the noise critic ensemble by regression
// toward the online critic's evaluation of decoded random noise. No
// rewards are involved: each distillation step draws fresh standard
// normal noise, decodes it, asks a frozen copy of the online critic
// what the decoded action is worth, and regresses the noise critic's
// estimate of the raw noise toward that value member by member.
type noiseCriticDistiller struct {
	noise *network.Ensemble

	// criticEval is a copy of the online critic on its own graph,
	// synchronized with syncFrom before a distillation phase
	criticEval *network.Ensemble
	criticVM   G.VM

	targetNode *G.Node
	loss       *G.Node
	lossVal    G.Value
	vm         G.VM
	solver     *solver.Solver

	normal     distuv.Normal
	batchSize  int
	chunkLen   int
	actionDims int
	members    int
}

// newNoiseCriticDistiller returns a new noiseCriticDistiller. The
// noise critic ensemble is independently initialized: distillation is
// what aligns it with the online critic.
func newNoiseCriticDistiller(c Config, features int, sol *solver.Solver,
	seed uint64) (*noiseCriticDistiller, error) {
	totalDims := c.ChunkLen * c.ActionDims

	noise, err := network.NewEnsemble(c.CriticMembers, features, totalDims,
		c.BatchSize, c.CriticHiddenSizes, c.CriticBiases,
		c.CriticActivations, c.InitWFn.InitWFn(), "noiseCritic")
	if err != nil {
		return nil, fmt.Errorf("newNoiseCriticDistiller: could not create "+
			"noise critic: %v", err)
	}

	criticEval, err := network.NewEnsemble(c.CriticMembers, features,
		totalDims, c.BatchSize, c.CriticHiddenSizes, c.CriticBiases,
		c.CriticActivations, c.InitWFn.InitWFn(), "criticEval")
	if err != nil {
		return nil, fmt.Errorf("newNoiseCriticDistiller: could not create "+
			"critic evaluation copy: %v", err)
	}

	// The distillation target has one column per ensemble member:
	// member i of the noise critic regresses toward member i of the
	// online critic
	g := noise.Graph()
	targetNode := G.NewMatrix(g, tensor.Float64,
		G.WithShape(c.BatchSize, c.CriticMembers),
		G.WithName("distillTargets"), G.WithInit(G.Zeroes()))

	var loss *G.Node
	for i, pred := range noise.Predictions() {
		memberTarget := G.Must(G.Slice(targetNode, nil,
			tensorutils.NewSlice(i, i+1, 1)))
		memberTarget = G.Must(G.Ravel(memberTarget))
		diff := G.Must(G.Sub(G.Must(G.Ravel(pred)), memberTarget))
		memberLoss := G.Must(G.Mean(G.Must(G.Square(diff))))
		if loss == nil {
			loss = memberLoss
		} else {
			loss = G.Must(G.Add(loss, memberLoss))
		}
	}
	loss = G.Must(G.Mul(loss, G.NewConstant(0.5)))

	distiller := &noiseCriticDistiller{
		noise:      noise,
		criticEval: criticEval,
		criticVM:   G.NewTapeMachine(criticEval.Graph()),
		targetNode: targetNode,
		loss:       loss,
		solver:     sol,
		normal: distuv.Normal{
			Mu:    0.0,
			Sigma: 1.0,
			Src:   rand.NewSource(seed),
		},
		batchSize:  c.BatchSize,
		chunkLen:   c.ChunkLen,
		actionDims: c.ActionDims,
		members:    c.CriticMembers,
	}
	G.Read(distiller.loss, &distiller.lossVal)

	if _, err := G.Grad(loss, noise.Learnables()...); err != nil {
		return nil, fmt.Errorf("newNoiseCriticDistiller: could not compute "+
			"gradient: %v", err)
	}
	distiller.vm = G.NewTapeMachine(g,
		G.BindDualValues(noise.Learnables()...))

	return distiller, nil
}

// syncFrom copies the argument online critic's weights into the frozen
// evaluation copy used to compute distillation targets
func (n *noiseCriticDistiller) syncFrom(online *network.Ensemble) error {
	if err := n.criticEval.SetFrom(online); err != nil {
		return fmt.Errorf("syncFrom: could not copy critic weights: %v", err)
	}
	return nil
}

// ensemble returns the noise critic ensemble
func (n *noiseCriticDistiller) ensemble() *network.Ensemble {
	return n.noise
}

// step performs one distillation step on the argument observation
// batch and returns the loss. The dec parameter decodes the drawn
// noise into actions and actionSpec supplies the raw action bounds
// used to normalize the noise fed to the noise critic.
func (n *noiseCriticDistiller) step(obs []float64, dec decoder.Decoder,
	actionSpec spec.Environment) (float64, error) {
	totalDims := n.chunkLen * n.actionDims

	// Draw standard normal noise, one vector per batch element
	draws := make([]float64, n.batchSize*totalDims)
	for i := range draws {
		draws[i] = n.normal.Rand()
	}
	noiseTensor := tensor.New(
		tensor.WithShape(n.batchSize, n.chunkLen, n.actionDims),
		tensor.WithBacking(draws),
	)

	decoded, err := dec.Decode(obs, noiseTensor, decoder.Train)
	if err != nil {
		return 0, fmt.Errorf("step: could not decode noise: %v", err)
	}
	decodedFlat := decoded.Data().([]float64)

	// Evaluate the online critic copy on the decoded actions. This
	// target carries no gradient into the critic or the decoder.
	if err := n.criticEval.SetInputs(obs, decodedFlat); err != nil {
		return 0, fmt.Errorf("step: could not set critic inputs: %v", err)
	}
	if err := n.criticVM.RunAll(); err != nil {
		return 0, fmt.Errorf("step: could not evaluate critic: %v", err)
	}
	n.criticVM.Reset()
	memberQs := n.criticEval.Values()

	targets := make([]float64, n.batchSize*n.members)
	for i := 0; i < n.batchSize; i++ {
		for m := 0; m < n.members; m++ {
			targets[i*n.members+m] = memberQs[m][i]
		}
	}
	targetTensor := tensor.New(
		tensor.WithShape(n.batchSize, n.members),
		tensor.WithBacking(targets),
	)
	if err := G.Let(n.targetNode, targetTensor); err != nil {
		return 0, fmt.Errorf("step: could not set targets: %v", err)
	}

	// The noise critic sees the raw noise in normalized space
	scaledNoise := policy.ScaleAction(draws, actionSpec)
	if err := n.noise.SetInputs(obs, scaledNoise); err != nil {
		return 0, fmt.Errorf("step: could not set noise critic inputs: %v",
			err)
	}

	if err := n.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("step: could not run noise critic graph: %v",
			err)
	}
	if err := n.solver.Step(n.noise.Model()); err != nil {
		return 0, fmt.Errorf("step: could not step solver: %v", err)
	}
	n.vm.Reset()

	return n.lossVal.Data().(float64), nil
}

package noisesac

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/diffsteer/diffsteer/network"
	"github.com/diffsteer/diffsteer/solver"
	"github.com/diffsteer/diffsteer/utils/floatutils"
)

// combineValues reduces per-member value estimates to a single backup
// value per batch element using the argument combine rule. The
// memberQs parameter holds one value slice per ensemble member.
func combineValues(memberQs [][]float64, combine CombineType) []float64 {
	combined := make([]float64, len(memberQs[0]))
	for i := range combined {
		values := make([]float64, len(memberQs))
		for m := range memberQs {
			values[m] = memberQs[m][i]
		}

		switch combine {
		case MinCombine:
			combined[i] = floatutils.MinSlice(values)
		case MeanCombine:
			combined[i] = floatutils.MeanSlice(values)
		default:
			panic(fmt.Sprintf("combineValues: unrecognized combine "+
				"type %q", combine))
		}
	}
	return combined
}

// tdTargets computes the bootstrapped TD target for each transition:
//
//	target = reward + (1 - done) * gamma * (combinedQ - entCoef*logProb)
//
// The done parameter is a 0/1 indicator which masks the bootstrap
// value at terminal transitions.
func tdTargets(rewards, dones, combinedQ, nextLogProb []float64, entCoef,
	gamma float64) []float64 {
	targets := make([]float64, len(rewards))
	for i := range targets {
		backup := combinedQ[i] - entCoef*nextLogProb[i]
		targets[i] = rewards[i] + (1.0-dones[i])*gamma*backup
	}
	return targets
}

// criticTrainer updates the online critic ensemble toward externally
// computed TD targets and tracks a target ensemble which is only ever
// adjusted by Polyak averaging, never by gradient descent.
type criticTrainer struct {
	online  *network.Ensemble
	targets *network.Ensemble

	targetNode *G.Node
	loss       *G.Node
	lossVal    G.Value
	vm         G.VM
	targetVM   G.VM
	solver     *solver.Solver

	batchSize int
}

// newCriticTrainer returns a new criticTrainer with the online and
// target ensembles initialized to identical weights. The loss is half
// the sum over ensemble members of the mean squared error between each
// member's estimate and the fed-in target, so a single optimizer step
// adjusts every member.
func newCriticTrainer(c Config, features int, sol *solver.Solver) (
	*criticTrainer, error) {
	totalDims := c.ChunkLen * c.ActionDims

	online, err := network.NewEnsemble(c.CriticMembers, features, totalDims,
		c.BatchSize, c.CriticHiddenSizes, c.CriticBiases,
		c.CriticActivations, c.InitWFn.InitWFn(), "critic")
	if err != nil {
		return nil, fmt.Errorf("newCriticTrainer: could not create online "+
			"ensemble: %v", err)
	}

	targets, err := network.NewEnsemble(c.CriticMembers, features, totalDims,
		c.BatchSize, c.CriticHiddenSizes, c.CriticBiases,
		c.CriticActivations, c.InitWFn.InitWFn(), "targetCritic")
	if err != nil {
		return nil, fmt.Errorf("newCriticTrainer: could not create target "+
			"ensemble: %v", err)
	}
	if err := targets.SetFrom(online); err != nil {
		return nil, fmt.Errorf("newCriticTrainer: could not initialize "+
			"target ensemble: %v", err)
	}

	g := online.Graph()
	targetNode := G.NewVector(g, tensor.Float64, G.WithShape(c.BatchSize),
		G.WithName("tdTargets"), G.WithInit(G.Zeroes()))

	loss, err := ensembleRegressionLoss(online, targetNode)
	if err != nil {
		return nil, fmt.Errorf("newCriticTrainer: %v", err)
	}

	trainer := &criticTrainer{
		online:     online,
		targets:    targets,
		targetNode: targetNode,
		loss:       loss,
		solver:     sol,
		batchSize:  c.BatchSize,
	}
	G.Read(trainer.loss, &trainer.lossVal)

	if _, err := G.Grad(loss, online.Learnables()...); err != nil {
		return nil, fmt.Errorf("newCriticTrainer: could not compute "+
			"gradient: %v", err)
	}
	trainer.vm = G.NewTapeMachine(g,
		G.BindDualValues(online.Learnables()...))
	trainer.targetVM = G.NewTapeMachine(targets.Graph())

	return trainer, nil
}

// ensembleRegressionLoss adds nodes to the ensemble's graph computing
// half the sum over members of the mean squared error between each
// member's prediction and the argument target node
func ensembleRegressionLoss(ens *network.Ensemble, target *G.Node) (*G.Node,
	error) {
	if target.Shape()[0] != ens.BatchSize() {
		return nil, fmt.Errorf("ensembleRegressionLoss: invalid target "+
			"batch size \n\twant(%v)\n\thave(%v)", ens.BatchSize(),
			target.Shape()[0])
	}

	var loss *G.Node
	for _, pred := range ens.Predictions() {
		diff := G.Must(G.Sub(G.Must(G.Ravel(pred)), target))
		memberLoss := G.Must(G.Mean(G.Must(G.Square(diff))))
		if loss == nil {
			loss = memberLoss
		} else {
			loss = G.Must(G.Add(loss, memberLoss))
		}
	}
	half := G.NewConstant(0.5)
	return G.Must(G.Mul(loss, half)), nil
}

// onlineEnsemble returns the online critic ensemble
func (c *criticTrainer) onlineEnsemble() *network.Ensemble {
	return c.online
}

// step performs one optimizer step on the online ensemble toward the
// argument TD targets and returns the loss
func (c *criticTrainer) step(obs, actions, targets []float64) (float64,
	error) {
	if err := c.online.SetInputs(obs, actions); err != nil {
		return 0, fmt.Errorf("step: could not set critic inputs: %v", err)
	}

	backing := make([]float64, len(targets))
	copy(backing, targets)
	targetTensor := tensor.New(
		tensor.WithShape(c.batchSize),
		tensor.WithBacking(backing),
	)
	if err := G.Let(c.targetNode, targetTensor); err != nil {
		return 0, fmt.Errorf("step: could not set targets: %v", err)
	}

	if err := c.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("step: could not run critic graph: %v", err)
	}
	if err := c.solver.Step(c.online.Model()); err != nil {
		return 0, fmt.Errorf("step: could not step solver: %v", err)
	}
	c.vm.Reset()

	return c.lossVal.Data().(float64), nil
}

// targetValues evaluates all target ensemble members on the argument
// batch, returning one value slice per member
func (c *criticTrainer) targetValues(obs, actions []float64) ([][]float64,
	error) {
	if err := c.targets.SetInputs(obs, actions); err != nil {
		return nil, fmt.Errorf("targetValues: could not set inputs: %v", err)
	}
	if err := c.targetVM.RunAll(); err != nil {
		return nil, fmt.Errorf("targetValues: could not run forward "+
			"pass: %v", err)
	}
	c.targetVM.Reset()

	return c.targets.Values(), nil
}

// sync moves the target ensemble toward the online ensemble by Polyak
// averaging with rate tau and hard-copies running normalization
// statistics so they track the online ensemble exactly
func (c *criticTrainer) sync(tau float64) error {
	if err := c.targets.PolyakFrom(c.online, tau); err != nil {
		return fmt.Errorf("sync: could not Polyak average: %v", err)
	}
	if err := c.targets.HardCopyStatsFrom(c.online); err != nil {
		return fmt.Errorf("sync: could not copy running statistics: %v", err)
	}
	return nil
}

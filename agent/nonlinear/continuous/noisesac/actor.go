package noisesac

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/diffsteer/diffsteer/agent/nonlinear/continuous/policy"
	"github.com/diffsteer/diffsteer/network"
	"github.com/diffsteer/diffsteer/solver"
)

// actorTrainer updates the actor policy to maximize the noise critic's
// valuation of its sampled noise minus the entropy penalty:
//
//	loss = mean(entCoef * logProb - combinedNoiseQ)
//
// The noise critic members are cloned onto the actor's graph with
// their forward passes running from the actor's sampled action node,
// so the gradient flows through the critic clone into the policy
// weights. Only the policy weights are adjusted; the clone is
// refreshed from the live noise critic before each update.
type actorTrainer struct {
	pol *policy.SquashedGaussianMLP

	obs         *G.Node
	entCoefNode *G.Node
	criticClone *network.Ensemble
	loss        *G.Node
	lossVal     G.Value
	vm          G.VM
	solver      *solver.Solver

	batchSize int
	features  int
}

// newActorTrainer returns a new actorTrainer whose policy weights are
// freshly initialized. The noiseCritic parameter supplies the ensemble
// whose members are cloned into the actor's graph.
func newActorTrainer(c Config, features int, noiseCritic *network.Ensemble,
	sol *solver.Solver, seed uint64) (*actorTrainer, error) {
	totalDims := c.ChunkLen * c.ActionDims

	g := G.NewGraph()
	obs := G.NewMatrix(g, tensor.Float64,
		G.WithShape(c.BatchSize, features), G.WithName("actorObservations"),
		G.WithInit(G.Zeroes()))

	pol, err := policy.NewSquashedGaussianMLPFromInput(obs, totalDims, g,
		c.PolicyHiddenSizes, c.PolicyBiases, c.PolicyActivations,
		c.InitWFn.InitWFn(), "actor", seed)
	if err != nil {
		return nil, fmt.Errorf("newActorTrainer: could not create "+
			"policy: %v", err)
	}

	criticClone, err := noiseCritic.CloneInto(g, obs, pol.ActionNode())
	if err != nil {
		return nil, fmt.Errorf("newActorTrainer: could not clone noise "+
			"critic: %v", err)
	}

	combined, err := combineNodes(criticClone.Predictions(), c.CombineType)
	if err != nil {
		return nil, fmt.Errorf("newActorTrainer: %v", err)
	}

	entCoefNode := G.NewScalar(g, tensor.Float64,
		G.WithName("actorEntCoef"), G.WithValue(1.0))
	weighted := G.Must(G.Mul(pol.LogPdfNode(), entCoefNode))
	loss := G.Must(G.Mean(G.Must(G.Sub(weighted, combined))))

	trainer := &actorTrainer{
		pol:         pol,
		obs:         obs,
		entCoefNode: entCoefNode,
		criticClone: criticClone,
		loss:        loss,
		solver:      sol,
		batchSize:   c.BatchSize,
		features:    features,
	}
	G.Read(trainer.loss, &trainer.lossVal)

	if _, err := G.Grad(loss, pol.Network().Learnables()...); err != nil {
		return nil, fmt.Errorf("newActorTrainer: could not compute "+
			"gradient: %v", err)
	}
	trainer.vm = G.NewTapeMachine(g,
		G.BindDualValues(pol.Network().Learnables()...))

	return trainer, nil
}

// combineNodes adds nodes to the graph reducing the per-member value
// predictions to one value per batch row with the argument combine
// rule
func combineNodes(preds []*G.Node, combine CombineType) (*G.Node, error) {
	var stacked *G.Node
	if len(preds) == 1 {
		return G.Must(G.Ravel(preds[0])), nil
	}
	stacked = G.Must(G.Concat(1, preds...))

	switch combine {
	case MeanCombine:
		return G.Must(G.Mean(stacked, 1)), nil
	case MinCombine:
		// min(x) = -max(-x), taken along the member axis
		negated := G.Must(G.Neg(stacked))
		maxed := G.Must(G.Max(negated, 1))
		return G.Must(G.Neg(maxed)), nil
	default:
		return nil, fmt.Errorf("combineNodes: unrecognized combine type %q",
			combine)
	}
}

// policy returns the actor's trained policy
func (a *actorTrainer) policy() *policy.SquashedGaussianMLP {
	return a.pol
}

// step performs one optimizer step on the policy weights using the
// argument observation batch and entropy coefficient, refreshing the
// noise critic clone from the argument live ensemble first. It returns
// the actor loss.
func (a *actorTrainer) step(obs []float64, entCoef float64,
	noiseCritic *network.Ensemble) (float64, error) {
	if err := a.criticClone.SetFrom(noiseCritic); err != nil {
		return 0, fmt.Errorf("step: could not refresh noise critic "+
			"clone: %v", err)
	}

	if err := a.pol.RandomizeEps(); err != nil {
		return 0, fmt.Errorf("step: could not sample noise: %v", err)
	}
	if err := a.pol.Network().SetInput(obs); err != nil {
		return 0, fmt.Errorf("step: could not set observations: %v", err)
	}
	if err := G.Let(a.entCoefNode, entCoef); err != nil {
		return 0, fmt.Errorf("step: could not set entropy coefficient: %v",
			err)
	}

	if err := a.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("step: could not run actor graph: %v", err)
	}
	if err := a.solver.Step(a.pol.Network().Model()); err != nil {
		return 0, fmt.Errorf("step: could not step solver: %v", err)
	}
	a.vm.Reset()

	return a.lossVal.Data().(float64), nil
}

// actorUpdateIndices returns the set of gradient-step indices at which
// the actor updates. A non-positive actorSteps updates the actor at
// every step. Otherwise the actorSteps updates are evenly spaced
// across the gradSteps steps, ending at the final step.
func actorUpdateIndices(actorSteps, gradSteps int) map[int]bool {
	indices := make(map[int]bool)
	if actorSteps <= 0 || actorSteps >= gradSteps {
		for i := 0; i < gradSteps; i++ {
			indices[i] = true
		}
		return indices
	}

	start := float64(gradSteps)/float64(actorSteps) - 1
	stop := float64(gradSteps - 1)
	for _, i := range linspaceInt(start, stop, actorSteps) {
		indices[i] = true
	}
	return indices
}

// linspaceInt returns n evenly spaced values between start and stop
// inclusive, truncated toward zero
func linspaceInt(start, stop float64, n int) []int {
	out := make([]int, n)
	if n == 1 {
		out[0] = int(start)
		return out
	}

	step := (stop - start) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = int(start + float64(i)*step)
	}
	return out
}

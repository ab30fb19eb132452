package noisesac

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/diffsteer/diffsteer/solver"
)

// entropyCoefficient maintains the exploration temperature. The
// coefficient is either a fixed positive constant or learned in
// log-space on its own graph with its own optimizer, so that the
// coefficient exp(logCoef) can never become negative or zero.
type entropyCoefficient struct {
	learned bool
	fixed   float64

	g       *G.ExprGraph
	logCoef *G.Node
	logProb *G.Node
	loss    *G.Node
	lossVal G.Value
	vm      G.VM
	solver  *solver.Solver

	batchSize int
}

// newEntropyCoefficient returns a new entropyCoefficient resolved from
// the argument configuration. When the coefficient is learned, the
// loss on a batch of policy log-probabilities is
//
//	-mean(logCoef * (logProb + targetEntropy))
//
// with the log-probabilities treated as constants.
func newEntropyCoefficient(r resolvedConfig, sol *solver.Solver,
	batchSize int) (*entropyCoefficient, error) {
	if !r.entCoefLearned {
		return &entropyCoefficient{learned: false, fixed: r.entCoefFixed},
			nil
	}

	g := G.NewGraph()
	logCoef := G.NewScalar(g, tensor.Float64, G.WithName("logEntCoef"),
		G.WithValue(math.Log(r.entCoefInit)))
	logProb := G.NewVector(g, tensor.Float64, G.WithShape(batchSize),
		G.WithName("policyLogProb"), G.WithInit(G.Zeroes()))

	target := G.NewConstant(r.targetEntropy)
	shifted := G.Must(G.Add(logProb, target))
	weighted := G.Must(G.Mul(shifted, logCoef))
	loss := G.Must(G.Neg(G.Must(G.Mean(weighted))))

	coef := &entropyCoefficient{
		learned:   true,
		g:         g,
		logCoef:   logCoef,
		logProb:   logProb,
		loss:      loss,
		solver:    sol,
		batchSize: batchSize,
	}
	G.Read(coef.loss, &coef.lossVal)

	if _, err := G.Grad(loss, logCoef); err != nil {
		return nil, fmt.Errorf("newEntropyCoefficient: could not compute "+
			"gradient: %v", err)
	}
	coef.vm = G.NewTapeMachine(g, G.BindDualValues(logCoef))

	return coef, nil
}

// coef returns the current coefficient value
func (e *entropyCoefficient) coef() float64 {
	if !e.learned {
		return e.fixed
	}
	return math.Exp(e.logCoef.Value().Data().(float64))
}

// step returns the coefficient value to use for the current gradient
// step and, if the coefficient is learned, performs one optimizer step
// on the log coefficient using the argument batch of current-policy
// log-probabilities. The returned coefficient is the value before the
// optimizer step.
func (e *entropyCoefficient) step(logProbs []float64) (value,
	loss float64, err error) {
	value = e.coef()
	if !e.learned {
		return value, 0, nil
	}

	if len(logProbs) != e.batchSize {
		return value, 0, fmt.Errorf("step: invalid log-probability batch "+
			"size \n\twant(%v)\n\thave(%v)", e.batchSize, len(logProbs))
	}

	backing := make([]float64, e.batchSize)
	copy(backing, logProbs)
	logProbTensor := tensor.New(
		tensor.WithShape(e.batchSize),
		tensor.WithBacking(backing),
	)
	if err := G.Let(e.logProb, logProbTensor); err != nil {
		return value, 0, fmt.Errorf("step: could not set "+
			"log-probabilities: %v", err)
	}

	if err := e.vm.RunAll(); err != nil {
		return value, 0, fmt.Errorf("step: could not run graph: %v", err)
	}
	if err := e.solver.Step([]G.ValueGrad{e.logCoef}); err != nil {
		return value, 0, fmt.Errorf("step: could not step solver: %v", err)
	}
	e.vm.Reset()

	return value, e.lossVal.Data().(float64), nil
}

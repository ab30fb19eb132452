// Package noisesac implements the noise-aliased soft actor-critic
// algorithm for steering a frozen diffusion action decoder. The actor
// learns to output latent noise vectors which the decoder maps into
// executable actions, and an auxiliary noise critic is distilled from
// the reward-trained critic so that the actor can be optimized without
// invoking the decoder in its own gradient path.
package noisesac

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/diffsteer/diffsteer/agent"
	"github.com/diffsteer/diffsteer/environment"
	"github.com/diffsteer/diffsteer/initwfn"
	"github.com/diffsteer/diffsteer/network"
	"github.com/diffsteer/diffsteer/solver"
	"github.com/diffsteer/diffsteer/spec"
)

// CombineType determines how an ensemble of value estimates is reduced
// to a single backup value per transition
type CombineType string

// Available combine rules. Any other value is rejected at
// configuration time.
const (
	MinCombine  CombineType = "min"
	MeanCombine CombineType = "mean"
)

// AutoEntCoef is the entropy coefficient configuration which enables
// learning the coefficient, starting from an initial value of 1.0. An
// initial value X may be chosen with "auto_X".
const AutoEntCoef string = "auto"

// AutoTargetEntropy derives the entropy target from the action
// dimensionality at setup time
const AutoTargetEntropy string = "auto"

var _ agent.Config = Config{}

// Config implements a configuration of the noise-aliased soft
// actor-critic agent. Configs are immutable: values resolved from a
// Config at setup time are stored separately and never written back.
type Config struct {
	// Actor policy network
	PolicyHiddenSizes []int
	PolicyBiases      []bool
	PolicyActivations []*network.Activation
	PolicySolver      *solver.Solver

	// Critic ensembles. The online critic, target critic, and noise
	// critic all share this architecture.
	CriticMembers     int
	CriticHiddenSizes []int
	CriticBiases      []bool
	CriticActivations []*network.Activation
	CriticSolver      *solver.Solver
	NoiseCriticSolver *solver.Solver

	InitWFn *initwfn.InitWFn

	// Entropy coefficient: "auto", "auto_X" with X > 0, or a fixed
	// positive float string such as "0.2"
	EntCoef       string
	EntCoefSolver *solver.Solver

	// TargetEntropy is "auto" or a float string. When "auto", the
	// target is -dim(action space).
	TargetEntropy string

	// Update cadence
	BatchSize            int
	Tau                  float64
	Gamma                float64
	TargetUpdateInterval int
	GradSteps            int
	ActorGradSteps       int // negative: actor updates every step
	NoiseCriticGradSteps int
	CombineType          CombineType

	// Diffusion chunking: the decoder consumes noise shaped
	// (ChunkLen, ActionDims) per sample
	ChunkLen   int
	ActionDims int

	// Replay
	ReplayCapacity    int
	MinReplayCapacity int

	// Environment interaction
	LearningStarts int // steps of uniform random exploration
	TrainFreq      int // environment steps between training calls

	// Standard deviation of Gaussian exploration noise added to the
	// normalized action, 0 disables
	ActionNoiseStd float64
}

// resolvedConfig holds the values derived from a Config once at setup.
// Fields are never mutated afterwards.
type resolvedConfig struct {
	entCoefLearned  bool
	entCoefInit     float64 // initial coefficient when learned
	entCoefFixed    float64 // coefficient when fixed
	targetEntropy   float64
	totalActionDims int
}

// parseEntCoef resolves the entropy coefficient configuration string.
// It returns whether the coefficient is learned and its initial or
// fixed value.
func parseEntCoef(entCoef string) (learned bool, value float64, err error) {
	if entCoef == AutoEntCoef {
		return true, 1.0, nil
	}
	if strings.HasPrefix(entCoef, AutoEntCoef+"_") {
		initStr := strings.TrimPrefix(entCoef, AutoEntCoef+"_")
		init, err := strconv.ParseFloat(initStr, 64)
		if err != nil {
			return false, 0, fmt.Errorf("parseEntCoef: could not parse "+
				"initial entropy coefficient %q: %v", initStr, err)
		}
		if init <= 0 {
			return false, 0, fmt.Errorf("parseEntCoef: initial entropy "+
				"coefficient must be > 0 \n\thave(%v)", init)
		}
		return true, init, nil
	}

	fixed, err := strconv.ParseFloat(entCoef, 64)
	if err != nil {
		return false, 0, fmt.Errorf("parseEntCoef: could not parse entropy "+
			"coefficient %q: %v", entCoef, err)
	}
	if fixed <= 0 {
		return false, 0, fmt.Errorf("parseEntCoef: entropy coefficient "+
			"must be > 0 \n\thave(%v)", fixed)
	}
	return false, fixed, nil
}

// parseTargetEntropy resolves the target entropy configuration string.
// The actionDims parameter is the full dimensionality of the action
// space, used when the target is derived automatically.
func parseTargetEntropy(targetEntropy string, actionDims int) (float64,
	error) {
	if targetEntropy == AutoTargetEntropy {
		return -float64(actionDims), nil
	}
	target, err := strconv.ParseFloat(targetEntropy, 64)
	if err != nil {
		return 0, fmt.Errorf("parseTargetEntropy: could not parse target "+
			"entropy %q: %v", targetEntropy, err)
	}
	return target, nil
}

// resolve validates the Config against an environment and derives the
// resolved setup values
func (c Config) resolve(env environment.Environment) (resolvedConfig,
	error) {
	var r resolvedConfig
	if err := c.Validate(env); err != nil {
		return r, err
	}

	learned, value, err := parseEntCoef(c.EntCoef)
	if err != nil {
		return r, err
	}
	r.entCoefLearned = learned
	if learned {
		r.entCoefInit = value
	} else {
		r.entCoefFixed = value
	}

	r.totalActionDims = c.ChunkLen * c.ActionDims
	r.targetEntropy, err = parseTargetEntropy(c.TargetEntropy,
		r.totalActionDims)
	if err != nil {
		return r, err
	}

	return r, nil
}

// Validate returns an error describing why the Config cannot be used
// with the argument environment, or nil if it can
func (c Config) Validate(env environment.Environment) error {
	if env.ActionSpec().Cardinality != spec.Continuous {
		return fmt.Errorf("noisesac: actions must be continuous")
	}
	if c.ChunkLen < 1 || c.ActionDims < 1 {
		return fmt.Errorf("noisesac: chunk length and action dims must be "+
			"> 0 \n\thave(%v, %v)", c.ChunkLen, c.ActionDims)
	}
	if dims := env.ActionSpec().Shape.Len(); dims != c.ChunkLen*c.ActionDims {
		return fmt.Errorf("noisesac: action space has %v dims but chunking "+
			"requires %v", dims, c.ChunkLen*c.ActionDims)
	}

	if c.Tau <= 0 || c.Tau > 1 {
		return fmt.Errorf("noisesac: tau must be in (0, 1] \n\thave(%v)",
			c.Tau)
	}
	if c.Gamma < 0 || c.Gamma >= 1 {
		return fmt.Errorf("noisesac: gamma must be in [0, 1) \n\thave(%v)",
			c.Gamma)
	}
	if c.TargetUpdateInterval < 1 {
		return fmt.Errorf("noisesac: target update interval must be > 0 "+
			"\n\thave(%v)", c.TargetUpdateInterval)
	}
	if c.CriticMembers < 1 {
		return fmt.Errorf("noisesac: critic ensemble must have at least 1 "+
			"member \n\thave(%v)", c.CriticMembers)
	}
	if c.GradSteps < 1 {
		return fmt.Errorf("noisesac: gradient steps must be > 0 "+
			"\n\thave(%v)", c.GradSteps)
	}
	if c.NoiseCriticGradSteps < 0 {
		return fmt.Errorf("noisesac: noise critic gradient steps must be "+
			">= 0 \n\thave(%v)", c.NoiseCriticGradSteps)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("noisesac: batch size must be > 0 \n\thave(%v)",
			c.BatchSize)
	}
	if c.TrainFreq < 1 {
		return fmt.Errorf("noisesac: train frequency must be > 0 "+
			"\n\thave(%v)", c.TrainFreq)
	}
	if c.ActionNoiseStd < 0 {
		return fmt.Errorf("noisesac: action noise must be >= 0 "+
			"\n\thave(%v)", c.ActionNoiseStd)
	}

	switch c.CombineType {
	case MinCombine, MeanCombine:
	default:
		return fmt.Errorf("noisesac: unrecognized combine type %q",
			c.CombineType)
	}

	if _, _, err := parseEntCoef(c.EntCoef); err != nil {
		return fmt.Errorf("noisesac: %v", err)
	}
	dims := c.ChunkLen * c.ActionDims
	if _, err := parseTargetEntropy(c.TargetEntropy, dims); err != nil {
		return fmt.Errorf("noisesac: %v", err)
	}

	if c.PolicySolver == nil || c.CriticSolver == nil ||
		c.NoiseCriticSolver == nil {
		return fmt.Errorf("noisesac: policy, critic, and noise critic " +
			"solvers are required")
	}
	if learned, _, _ := parseEntCoef(c.EntCoef); learned &&
		c.EntCoefSolver == nil {
		return fmt.Errorf("noisesac: learned entropy coefficient requires " +
			"a solver")
	}
	if c.InitWFn == nil {
		return fmt.Errorf("noisesac: weight initializer is required")
	}

	return nil
}

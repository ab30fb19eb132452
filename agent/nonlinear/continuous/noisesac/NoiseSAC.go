package noisesac

import (
	"fmt"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/diffsteer/diffsteer/agent"
	"github.com/diffsteer/diffsteer/agent/nonlinear/continuous/policy"
	"github.com/diffsteer/diffsteer/decoder"
	"github.com/diffsteer/diffsteer/environment"
	"github.com/diffsteer/diffsteer/expreplay"
	"github.com/diffsteer/diffsteer/spec"
	"github.com/diffsteer/diffsteer/timestep"
)

// Metrics holds the scalar training metrics aggregated over one
// training call
type Metrics struct {
	// NUpdates is the cumulative number of gradient steps taken over
	// the lifetime of the agent
	NUpdates int

	EntCoef         float64
	ActorLoss       float64
	CriticLoss      float64
	NoiseCriticLoss float64

	// EntCoefLoss is meaningful only when the entropy coefficient is
	// learned
	EntCoefLoss    float64
	EntCoefLearned bool
}

var _ agent.Agent = (*NoiseSAC)(nil)

// NoiseSAC implements the noise-aliased soft actor-critic algorithm.
// One training call runs a sequence of gradient steps, each of which
// updates the entropy coefficient, the online critic ensemble, and (at
// a subsampled cadence) the actor, followed by a separate sequence of
// noise critic distillation steps against the final critic weights.
//
// The entire training call is synchronous: all trainable objects are
// mutated strictly sequentially and the target ensemble for a given
// step always synchronizes with the critic state after that step's
// critic update.
type NoiseSAC struct {
	config   Config
	resolved resolvedConfig

	obsSpec    spec.Environment
	actionSpec spec.Environment

	buffer expreplay.ExperienceReplayer
	dec    decoder.Decoder

	entCoef   *entropyCoefficient
	critic    *criticTrainer
	distiller *noiseCriticDistiller
	actor     *actorTrainer
	syncer    targetSynchronizer
	sampler   *actionSampler

	// samplePolicy mirrors the actor's weights for numeric batch
	// sampling; behaviour mirrors them at batch size 1 for action
	// selection
	samplePolicy *policy.SquashedGaussianMLP
	behaviour    *policy.SquashedGaussianMLP

	prevStep   timestep.TimeStep
	stepsTaken int
	nUpdates   int
	eval       bool

	logger zerolog.Logger
}

// New returns a new NoiseSAC agent steering the argument frozen
// decoder in the argument environment
func New(env environment.Environment, dec decoder.Decoder, c Config,
	seed int64, logger zerolog.Logger) (*NoiseSAC, error) {
	resolved, err := c.resolve(env)
	if err != nil {
		return nil, fmt.Errorf("noisesac: %v", err)
	}

	features := env.ObservationSpec().Shape.Len()
	totalDims := resolved.totalActionDims

	if dec.ChunkLen() != c.ChunkLen || dec.ActionDims() != c.ActionDims {
		return nil, fmt.Errorf("noisesac: decoder chunking (%v, %v) does "+
			"not match configuration (%v, %v)", dec.ChunkLen(),
			dec.ActionDims(), c.ChunkLen, c.ActionDims)
	}

	entCoef, err := newEntropyCoefficient(resolved, c.EntCoefSolver,
		c.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("noisesac: %v", err)
	}

	critic, err := newCriticTrainer(c, features, c.CriticSolver)
	if err != nil {
		return nil, fmt.Errorf("noisesac: %v", err)
	}

	distiller, err := newNoiseCriticDistiller(c, features,
		c.NoiseCriticSolver, uint64(seed))
	if err != nil {
		return nil, fmt.Errorf("noisesac: %v", err)
	}

	actor, err := newActorTrainer(c, features, distiller.ensemble(),
		c.PolicySolver, uint64(seed))
	if err != nil {
		return nil, fmt.Errorf("noisesac: %v", err)
	}

	samplePolicy, err := policy.NewSquashedGaussianMLP(features,
		c.BatchSize, totalDims, c.PolicyHiddenSizes, c.PolicyBiases,
		c.PolicyActivations, c.InitWFn.InitWFn(), uint64(seed)+1)
	if err != nil {
		return nil, fmt.Errorf("noisesac: could not create sampling "+
			"policy: %v", err)
	}
	behaviour, err := policy.NewSquashedGaussianMLP(features, 1, totalDims,
		c.PolicyHiddenSizes, c.PolicyBiases, c.PolicyActivations,
		c.InitWFn.InitWFn(), uint64(seed)+2)
	if err != nil {
		return nil, fmt.Errorf("noisesac: could not create behaviour "+
			"policy: %v", err)
	}

	// Both mirrors start from the actor's weights
	trainNet := actor.policy().Network()
	if err := samplePolicy.Network().Set(trainNet); err != nil {
		return nil, fmt.Errorf("noisesac: could not synchronize sampling "+
			"policy: %v", err)
	}
	if err := behaviour.Network().Set(trainNet); err != nil {
		return nil, fmt.Errorf("noisesac: could not synchronize behaviour "+
			"policy: %v", err)
	}

	buffer, err := expreplay.Config{
		RemoveMethod:      expreplay.Fifo,
		SampleMethod:      expreplay.Uniform,
		RemoveSize:        1,
		SampleSize:        c.BatchSize,
		MaxReplayCapacity: c.ReplayCapacity,
		MinReplayCapacity: c.MinReplayCapacity,
	}.Create(features, totalDims, seed)
	if err != nil {
		return nil, fmt.Errorf("noisesac: could not create replay "+
			"buffer: %v", err)
	}

	return &NoiseSAC{
		config:   c,
		resolved: resolved,

		obsSpec:    env.ObservationSpec(),
		actionSpec: env.ActionSpec(),

		buffer: buffer,
		dec:    dec,

		entCoef:   entCoef,
		critic:    critic,
		distiller: distiller,
		actor:     actor,
		syncer: targetSynchronizer{
			tau:      c.Tau,
			interval: c.TargetUpdateInterval,
		},
		sampler: newActionSampler(c, env.ActionSpec(), uint64(seed)+3),

		samplePolicy: samplePolicy,
		behaviour:    behaviour,

		logger: logger,
	}, nil
}

// Update runs one full training call: gradSteps gradient steps of
// entropy coefficient, critic, and subsampled actor updates, followed
// by the configured number of noise critic distillation steps. It
// returns the aggregated metrics.
func (n *NoiseSAC) Update(gradSteps int) (Metrics, error) {
	if gradSteps < 1 {
		return Metrics{}, fmt.Errorf("update: gradient steps must be > 0 "+
			"\n\thave(%v)", gradSteps)
	}

	actorSteps := actorUpdateIndices(n.config.ActorGradSteps, gradSteps)

	var coefSum, coefLossSum, criticLossSum, actorLossSum float64
	actorUpdates := 0

	for step := 0; step < gradSteps; step++ {
		obs, actions, rewards, nextObs, dones, err := n.buffer.Sample()
		if err != nil {
			return Metrics{}, fmt.Errorf("update: could not sample replay "+
				"buffer: %v", err)
		}

		// Entropy coefficient update uses log-probabilities of fresh
		// actions at the current observations
		_, logProbs, err := n.samplePolicy.SampleBatch(obs)
		if err != nil {
			return Metrics{}, fmt.Errorf("update: could not sample "+
				"policy: %v", err)
		}
		coef, coefLoss, err := n.entCoef.step(logProbs)
		if err != nil {
			return Metrics{}, fmt.Errorf("update: could not update entropy "+
				"coefficient: %v", err)
		}

		// Critic update regresses toward TD targets bootstrapped from
		// the decoded next action
		targets, err := n.criticTargets(nextObs, rewards, dones, coef)
		if err != nil {
			return Metrics{}, fmt.Errorf("update: %v", err)
		}
		criticLoss, err := n.critic.step(obs, actions, targets)
		if err != nil {
			return Metrics{}, fmt.Errorf("update: could not update "+
				"critic: %v", err)
		}

		if actorSteps[step] {
			actorLoss, err := n.actor.step(obs, coef, n.distiller.ensemble())
			if err != nil {
				return Metrics{}, fmt.Errorf("update: could not update "+
					"actor: %v", err)
			}
			if err := n.samplePolicy.Network().Set(
				n.actor.policy().Network()); err != nil {
				return Metrics{}, fmt.Errorf("update: could not synchronize "+
					"sampling policy: %v", err)
			}
			actorLossSum += actorLoss
			actorUpdates++
		}

		if n.syncer.shouldSync(step) {
			if err := n.syncer.sync(n.critic); err != nil {
				return Metrics{}, fmt.Errorf("update: could not synchronize "+
					"target critic: %v", err)
			}
		}

		coefSum += coef
		coefLossSum += coefLoss
		criticLossSum += criticLoss
		n.nUpdates++
	}

	// Distillation runs against the final critic weights from the loop
	// above
	var noiseLossSum float64
	if n.config.NoiseCriticGradSteps > 0 {
		if err := n.distiller.syncFrom(n.critic.onlineEnsemble()); err != nil {
			return Metrics{}, fmt.Errorf("update: %v", err)
		}
		for step := 0; step < n.config.NoiseCriticGradSteps; step++ {
			obs, _, _, _, _, err := n.buffer.Sample()
			if err != nil {
				return Metrics{}, fmt.Errorf("update: could not sample "+
					"replay buffer: %v", err)
			}
			loss, err := n.distiller.step(obs, n.dec, n.actionSpec)
			if err != nil {
				return Metrics{}, fmt.Errorf("update: could not distill "+
					"noise critic: %v", err)
			}
			noiseLossSum += loss
		}
	}

	if err := n.behaviour.Network().Set(n.actor.policy().Network()); err != nil {
		return Metrics{}, fmt.Errorf("update: could not synchronize "+
			"behaviour policy: %v", err)
	}

	metrics := Metrics{
		NUpdates:       n.nUpdates,
		EntCoef:        coefSum / float64(gradSteps),
		CriticLoss:     criticLossSum / float64(gradSteps),
		EntCoefLoss:    coefLossSum / float64(gradSteps),
		EntCoefLearned: n.resolved.entCoefLearned,
	}
	if actorUpdates > 0 {
		metrics.ActorLoss = actorLossSum / float64(actorUpdates)
	}
	if n.config.NoiseCriticGradSteps > 0 {
		metrics.NoiseCriticLoss = noiseLossSum /
			float64(n.config.NoiseCriticGradSteps)
	}
	return metrics, nil
}

// criticTargets computes the TD target for each transition in the
// batch. The next action is sampled from the policy, converted to raw
// space, decoded, and evaluated by the target ensemble; the combined
// target value minus the entropy bonus is then discounted and masked
// by the done indicator. No gradient flows through these targets.
func (n *NoiseSAC) criticTargets(nextObs, rewards, dones []float64,
	coef float64) ([]float64, error) {
	nextActions, nextLogProbs, err := n.samplePolicy.SampleBatch(nextObs)
	if err != nil {
		return nil, fmt.Errorf("could not sample next actions: %v", err)
	}

	rawNext := policy.UnscaleAction(nextActions, n.actionSpec)
	noiseTensor := tensor.New(
		tensor.WithShape(n.config.BatchSize, n.config.ChunkLen,
			n.config.ActionDims),
		tensor.WithBacking(rawNext),
	)
	decoded, err := n.dec.Decode(nextObs, noiseTensor, decoder.Train)
	if err != nil {
		return nil, fmt.Errorf("could not decode next actions: %v", err)
	}
	decodedFlat := decoded.Data().([]float64)

	memberQs, err := n.critic.targetValues(nextObs, decodedFlat)
	if err != nil {
		return nil, fmt.Errorf("could not evaluate target critics: %v", err)
	}
	combined := combineValues(memberQs, n.config.CombineType)

	return tdTargets(rewards, dones, combined, nextLogProbs, coef,
		n.config.Gamma), nil
}

// SelectAction samples an action for the argument timestep. During
// warmup the action is uniform random in the raw action space; after
// warmup it is a policy sample (or the deterministic mean action in
// the evaluation regime). The action is always the decoder's output.
func (n *NoiseSAC) SelectAction(t timestep.TimeStep) *mat.VecDense {
	obs := vecData(t.Observation)
	execute, _, err := n.sampler.sample(obs, n.behaviour, n.dec,
		n.stepsTaken, n.eval)
	if err != nil {
		panic(fmt.Sprintf("selectAction: %v", err))
	}
	return mat.NewVecDense(len(execute), execute)
}

// PredictDiffused returns the decoded action for the argument
// observation without touching the exploration state: a deterministic
// mean action when deterministic is true, otherwise a policy sample.
func (n *NoiseSAC) PredictDiffused(obs []float64, deterministic bool) (
	[]float64, error) {
	var normalized []float64
	var err error
	if deterministic {
		normalized, _, err = n.behaviour.MeanBatch(obs)
	} else {
		normalized, _, err = n.behaviour.SampleBatch(obs)
	}
	if err != nil {
		return nil, fmt.Errorf("predictDiffused: could not sample "+
			"policy: %v", err)
	}

	raw := policy.UnscaleAction(normalized, n.actionSpec)
	noiseTensor := tensor.New(
		tensor.WithShape(1, n.config.ChunkLen, n.config.ActionDims),
		tensor.WithBacking(raw),
	)
	mode := decoder.Train
	if deterministic {
		mode = decoder.Inference
	}
	decoded, err := n.dec.Decode(obs, noiseTensor, mode)
	if err != nil {
		return nil, fmt.Errorf("predictDiffused: could not decode: %v", err)
	}

	flat := decoded.Data().([]float64)
	out := make([]float64, len(flat))
	copy(out, flat)
	return out, nil
}

// ObserveFirst records the first timestep of an episode
func (n *NoiseSAC) ObserveFirst(t timestep.TimeStep) error {
	if !t.First() {
		return fmt.Errorf("observeFirst: timestep is not first "+
			"\n\thave(%v)", t)
	}
	n.prevStep = t
	return nil
}

// Observe records the latest transition in the environment. In the
// evaluation regime nothing is stored.
func (n *NoiseSAC) Observe(action mat.Vector,
	nextStep timestep.TimeStep) error {
	if !n.eval {
		transition := timestep.NewTransition(n.prevStep, action, nextStep)
		if err := n.buffer.Add(transition); err != nil {
			return fmt.Errorf("observe: could not store transition: %v", err)
		}
		n.stepsTaken++
	}
	n.prevStep = nextStep
	return nil
}

// Step runs one training call if one is due at the current environment
// step, logging the aggregated metrics
func (n *NoiseSAC) Step() error {
	if n.eval {
		return nil
	}
	if n.stepsTaken < n.config.LearningStarts {
		return nil
	}
	if n.stepsTaken%n.config.TrainFreq != 0 {
		return nil
	}
	if n.buffer.Capacity() < n.buffer.MinCapacity() {
		return nil
	}

	metrics, err := n.Update(n.config.GradSteps)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	event := n.logger.Info().
		Int("updates", metrics.NUpdates).
		Float64("entCoef", metrics.EntCoef).
		Float64("actorLoss", metrics.ActorLoss).
		Float64("criticLoss", metrics.CriticLoss).
		Float64("noiseCriticLoss", metrics.NoiseCriticLoss)
	if metrics.EntCoefLearned {
		event = event.Float64("entCoefLoss", metrics.EntCoefLoss)
	}
	event.Msg("training update")

	return nil
}

// EndEpisode performs end-of-episode bookkeeping
func (n *NoiseSAC) EndEpisode() {}

// Eval sets the agent to the evaluation regime
func (n *NoiseSAC) Eval() { n.eval = true }

// Train sets the agent to the training regime
func (n *NoiseSAC) Train() { n.eval = false }

// IsEval returns whether the agent is in its evaluation regime
func (n *NoiseSAC) IsEval() bool { return n.eval }

// TotalSteps returns the number of environment steps observed
func (n *NoiseSAC) TotalSteps() int {
	return n.stepsTaken
}

// vecData copies the argument vector into a flat slice
func vecData(v mat.Vector) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

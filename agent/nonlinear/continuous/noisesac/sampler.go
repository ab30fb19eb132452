package noisesac

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"github.com/diffsteer/diffsteer/agent/nonlinear/continuous/policy"
	"github.com/diffsteer/diffsteer/decoder"
	"github.com/diffsteer/diffsteer/spec"
	"github.com/diffsteer/diffsteer/utils/floatutils"
)

// actionSampler produces environment-ready actions from observations.
// It has two regimes: before learningStarts environment steps it draws
// actions uniformly from the raw action space, and afterwards it
// samples latent noise from the policy. In both regimes the raw action
// is treated as a noise vector and passed through the decoder; the
// decoded flattened action is both executed and stored.
type actionSampler struct {
	actionSpec spec.Environment

	learningStarts int
	chunkLen       int
	actionDims     int

	// Gaussian noise added to the normalized policy action, disabled
	// when noiseStd is 0
	noiseStd float64
	noise    distuv.Normal
	uniform  *rand.Rand
}

// newActionSampler returns a new actionSampler for the argument raw
// action space
func newActionSampler(c Config, actionSpec spec.Environment,
	seed uint64) *actionSampler {
	return &actionSampler{
		actionSpec:     actionSpec,
		learningStarts: c.LearningStarts,
		chunkLen:       c.ChunkLen,
		actionDims:     c.ActionDims,
		noiseStd:       c.ActionNoiseStd,
		noise: distuv.Normal{
			Mu:    0.0,
			Sigma: 1.0,
			Src:   rand.NewSource(seed),
		},
		uniform: rand.New(rand.NewSource(seed)),
	}
}

// warmup returns whether the sampler draws uniform random actions at
// the argument environment-step count. Evaluation never uses warmup
// actions.
func (a *actionSampler) warmup(stepsTaken int, eval bool) bool {
	return !eval && stepsTaken < a.learningStarts
}

// sample produces the action to execute in the environment and the
// action to store in the replay buffer for a single observation. The
// two are identical in this design but are returned separately.
func (a *actionSampler) sample(obs []float64,
	pol *policy.SquashedGaussianMLP, dec decoder.Decoder, stepsTaken int,
	eval bool) (execute, store []float64, err error) {
	totalDims := a.chunkLen * a.actionDims

	var raw []float64
	if a.warmup(stepsTaken, eval) {
		// Uniform random action in raw action-space bounds
		raw = make([]float64, totalDims)
		for i := range raw {
			low := a.actionSpec.LowerBound.AtVec(i % a.actionSpec.LowerBound.Len())
			high := a.actionSpec.UpperBound.AtVec(i % a.actionSpec.UpperBound.Len())
			raw[i] = low + a.uniform.Float64()*(high-low)
		}
	} else {
		var normalized []float64
		if eval {
			normalized, _, err = pol.MeanBatch(obs)
		} else {
			normalized, _, err = pol.SampleBatch(obs)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("sample: could not sample "+
				"policy: %v", err)
		}

		if !eval && a.noiseStd > 0 {
			for i := range normalized {
				normalized[i] += a.noiseStd * a.noise.Rand()
			}
			normalized = floatutils.ClipSlice(normalized, -1.0, 1.0)
		}

		raw = policy.UnscaleAction(normalized, a.actionSpec)
	}

	// The raw action is the noise vector the decoder maps to the
	// executable action
	noiseTensor := tensor.New(
		tensor.WithShape(1, a.chunkLen, a.actionDims),
		tensor.WithBacking(raw),
	)
	mode := decoder.Train
	if eval {
		mode = decoder.Inference
	}
	decoded, err := dec.Decode(obs, noiseTensor, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("sample: could not decode action: %v",
			err)
	}

	flat := decoded.Data().([]float64)
	execute = make([]float64, totalDims)
	copy(execute, flat)
	store = make([]float64, totalDims)
	copy(store, flat)

	return execute, store, nil
}

package noisesac

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/diffsteer/diffsteer/decoder"
	"github.com/diffsteer/diffsteer/environment/pointmass"
	"github.com/diffsteer/diffsteer/initwfn"
	"github.com/diffsteer/diffsteer/network"
	"github.com/diffsteer/diffsteer/solver"
	"github.com/diffsteer/diffsteer/spec"
)

// TestDistillationLossZeroForIdenticalZeroInit checks the distillation
// objective directly: when the noise critic and the critic evaluation
// copy hold identical all-zero weights and the decoder is the
// identity, every member predicts zero for every input, so the
// distillation loss is exactly zero.
func TestDistillationLossZeroForIdenticalZeroInit(t *testing.T) {
	config := testConfig(t, 2)
	zeroes, err := initwfn.NewZeroes()
	require.NoError(t, err)
	config.InitWFn = zeroes

	sol, err := solver.NewVanilla(1e-3, config.BatchSize, -1.0)
	require.NoError(t, err)

	features := 2 * 2 // point-mass positions and velocities
	distiller, err := newNoiseCriticDistiller(config, features, sol, 14)
	require.NoError(t, err)

	online, err := network.NewEnsemble(config.CriticMembers, features,
		2, config.BatchSize, config.CriticHiddenSizes, config.CriticBiases,
		config.CriticActivations, zeroes.InitWFn(), "critic")
	require.NoError(t, err)
	require.NoError(t, distiller.syncFrom(online))

	dec, err := decoder.NewIdentity(1, 2)
	require.NoError(t, err)

	bounds := mat.NewVecDense(2, []float64{1.0, 1.0})
	lower := mat.NewVecDense(2, []float64{-1.0, -1.0})
	actionSpec := spec.NewEnvironment(bounds, spec.Action, lower, bounds,
		spec.Continuous)

	obs := make([]float64, config.BatchSize*features)
	for i := range obs {
		obs[i] = float64(i%5) * 0.1
	}

	loss, err := distiller.step(obs, dec, actionSpec)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, loss, 1e-12)
}

// newTestAgent returns an agent on the point-mass environment with an
// identity decoder
func newTestAgent(t *testing.T, config Config) (*NoiseSAC,
	*pointmass.PointMass) {
	t.Helper()

	dims := config.ChunkLen * config.ActionDims
	env := pointmass.New(dims, 50, 14)
	dec, err := decoder.NewIdentity(config.ChunkLen, config.ActionDims)
	require.NoError(t, err)

	agent, err := New(env, dec, config, 14, zerolog.Nop())
	require.NoError(t, err)
	return agent, env
}

func TestNoiseSACTrainingSmoke(t *testing.T) {
	config := testConfig(t, 2)
	agent, env := newTestAgent(t, config)

	step := env.Reset()
	require.NoError(t, agent.ObserveFirst(step))

	for i := 0; i < config.BatchSize+config.LearningStarts; i++ {
		if step.Last() {
			agent.EndEpisode()
			step = env.Reset()
			require.NoError(t, agent.ObserveFirst(step))
		}

		action := agent.SelectAction(step)
		assert.Equal(t, 2, action.Len())

		next, _ := env.Step(action)
		require.NoError(t, agent.Observe(action, next))
		step = next
	}

	metrics, err := agent.Update(2)
	require.NoError(t, err)

	assert.Equal(t, 2, metrics.NUpdates)
	assert.Greater(t, metrics.EntCoef, 0.0)
	assert.False(t, math.IsNaN(metrics.CriticLoss))
	assert.False(t, math.IsNaN(metrics.ActorLoss))
	assert.False(t, math.IsNaN(metrics.NoiseCriticLoss))

	// A second call keeps accumulating the cumulative update count
	metrics, err = agent.Update(3)
	require.NoError(t, err)
	assert.Equal(t, 5, metrics.NUpdates)
}

func TestNoiseSACFixedEntCoefReportedExactly(t *testing.T) {
	config := testConfig(t, 2)
	config.EntCoef = "0.2"
	agent, env := newTestAgent(t, config)

	step := env.Reset()
	require.NoError(t, agent.ObserveFirst(step))
	for i := 0; i < config.BatchSize+config.LearningStarts; i++ {
		if step.Last() {
			agent.EndEpisode()
			step = env.Reset()
			require.NoError(t, agent.ObserveFirst(step))
		}
		action := agent.SelectAction(step)
		next, _ := env.Step(action)
		require.NoError(t, agent.Observe(action, next))
		step = next
	}

	for call := 0; call < 2; call++ {
		metrics, err := agent.Update(2)
		require.NoError(t, err)
		assert.Equal(t, 0.2, metrics.EntCoef)
		assert.False(t, metrics.EntCoefLearned)
		assert.Equal(t, 0.0, metrics.EntCoefLoss)
	}
}

func TestNoiseSACEvalDoesNotStore(t *testing.T) {
	config := testConfig(t, 2)
	agent, env := newTestAgent(t, config)

	agent.Eval()
	assert.True(t, agent.IsEval())

	step := env.Reset()
	require.NoError(t, agent.ObserveFirst(step))

	action := agent.SelectAction(step)
	next, _ := env.Step(action)
	require.NoError(t, agent.Observe(action, next))

	assert.Equal(t, 0, agent.TotalSteps())

	agent.Train()
	assert.False(t, agent.IsEval())
}

func TestNoiseSACPredictDiffused(t *testing.T) {
	config := testConfig(t, 2)
	agent, _ := newTestAgent(t, config)

	obs := []float64{0.1, -0.2, 0.0, 0.3}

	action, err := agent.PredictDiffused(obs, true)
	require.NoError(t, err)
	assert.Len(t, action, 2)

	// Deterministic prediction is repeatable
	again, err := agent.PredictDiffused(obs, true)
	require.NoError(t, err)
	assert.InDeltaSlice(t, action, again, 1e-12)

	// Tanh squashing keeps the noise in (-1, 1) and the identity
	// decoder returns it unchanged
	for _, a := range action {
		assert.Less(t, math.Abs(a), 1.0)
	}
}

func TestNoiseSACRejectsDecoderChunkMismatch(t *testing.T) {
	config := testConfig(t, 2)
	env := pointmass.New(2, 50, 14)

	dec, err := decoder.NewIdentity(2, 1)
	require.NoError(t, err)

	_, err = New(env, dec, config, 14, zerolog.Nop())
	assert.Error(t, err)
}

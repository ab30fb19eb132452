package noisesac

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffsteer/diffsteer/solver"
)

func TestFixedEntropyCoefficient(t *testing.T) {
	resolved := resolvedConfig{entCoefLearned: false, entCoefFixed: 0.2}

	// A fixed coefficient never creates an optimizer
	coef, err := newEntropyCoefficient(resolved, nil, 4)
	require.NoError(t, err)
	assert.Nil(t, coef.vm)
	assert.Nil(t, coef.solver)

	// The reported value stays exactly fixed across steps
	for i := 0; i < 3; i++ {
		value, loss, err := coef.step([]float64{-1.0, -2.0, 0.5, -0.5})
		require.NoError(t, err)
		assert.Equal(t, 0.2, value)
		assert.Equal(t, 0.0, loss)
	}
}

func TestLearnedEntropyCoefficientInit(t *testing.T) {
	resolved := resolvedConfig{
		entCoefLearned: true,
		entCoefInit:    0.5,
		targetEntropy:  -2.0,
	}
	sol, err := solver.NewVanilla(1e-3, 4, -1.0)
	require.NoError(t, err)

	coef, err := newEntropyCoefficient(resolved, sol, 4)
	require.NoError(t, err)

	// auto_0.5 initializes the log coefficient to log(0.5)
	logCoef := coef.logCoef.Value().Data().(float64)
	assert.InDelta(t, math.Log(0.5), logCoef, 1e-12)
	assert.InDelta(t, 0.5, coef.coef(), 1e-12)
}

func TestLearnedEntropyCoefficientStaysPositive(t *testing.T) {
	resolved := resolvedConfig{
		entCoefLearned: true,
		entCoefInit:    1.0,
		targetEntropy:  -2.0,
	}
	sol, err := solver.NewVanilla(0.1, 4, -1.0)
	require.NoError(t, err)

	coef, err := newEntropyCoefficient(resolved, sol, 4)
	require.NoError(t, err)

	logProbs := []float64{-4.0, -3.0, -5.0, -4.0}
	for i := 0; i < 20; i++ {
		value, _, err := coef.step(logProbs)
		require.NoError(t, err)
		assert.Greater(t, value, 0.0)
	}
	assert.Greater(t, coef.coef(), 0.0)
}

// TestLearnedEntropyCoefficientMovesInLossDirection checks that the
// coefficient shrinks when the policy is more stochastic than the
// target and grows when it is less stochastic
func TestLearnedEntropyCoefficientMovesInLossDirection(t *testing.T) {
	resolved := resolvedConfig{
		entCoefLearned: true,
		entCoefInit:    1.0,
		targetEntropy:  -2.0,
	}

	// Log-probabilities well below the target entropy: the entropy
	// bonus is too strong, so the coefficient should decrease
	sol, err := solver.NewVanilla(0.1, 4, -1.0)
	require.NoError(t, err)
	coef, err := newEntropyCoefficient(resolved, sol, 4)
	require.NoError(t, err)

	before := coef.coef()
	_, _, err = coef.step([]float64{-6.0, -6.0, -6.0, -6.0})
	require.NoError(t, err)
	assert.Less(t, coef.coef(), before)

	// Policy entropy below the target: the coefficient should
	// increase
	sol, err = solver.NewVanilla(0.1, 4, -1.0)
	require.NoError(t, err)
	coef, err = newEntropyCoefficient(resolved, sol, 4)
	require.NoError(t, err)

	before = coef.coef()
	_, _, err = coef.step([]float64{5.0, 5.0, 5.0, 5.0})
	require.NoError(t, err)
	assert.Greater(t, coef.coef(), before)
}

func TestEntropyCoefficientStepReturnsPreUpdateValue(t *testing.T) {
	resolved := resolvedConfig{
		entCoefLearned: true,
		entCoefInit:    0.5,
		targetEntropy:  -2.0,
	}
	sol, err := solver.NewVanilla(0.1, 4, -1.0)
	require.NoError(t, err)

	coef, err := newEntropyCoefficient(resolved, sol, 4)
	require.NoError(t, err)

	value, _, err := coef.step([]float64{-6.0, -6.0, -6.0, -6.0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, value, 1e-12)
}

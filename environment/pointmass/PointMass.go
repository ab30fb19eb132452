// Package pointmass implements a continuous point-mass reaching task.
// The agent applies a bounded force along each dimension to drive the
// mass to the origin. The task is deliberately small and dependency
// free so that it can exercise full training loops in tests and demos.
package pointmass

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/diffsteer/diffsteer/spec"
	ts "github.com/diffsteer/diffsteer/timestep"
)

const (
	// Physical constants of the point mass
	dt       float64 = 0.05
	maxSpeed float64 = 2.0

	// Bounds on the state and action spaces
	positionBound float64 = 2.0
	forceBound    float64 = 1.0
)

// PointMass implements an N-dimensional point-mass environment. The
// observation is the concatenation of position and velocity. Episodes
// end after a fixed step limit.
type PointMass struct {
	dims     int
	maxSteps int

	position []float64
	velocity []float64
	step     int

	rng *rand.Rand
}

// New returns a new PointMass environment with the argument number of
// action dimensions and episode step limit.
func New(dims, maxSteps int, seed uint64) *PointMass {
	return &PointMass{
		dims:     dims,
		maxSteps: maxSteps,
		position: make([]float64, dims),
		velocity: make([]float64, dims),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Reset resets the environment to a uniformly random starting position
// with zero velocity and returns the first timestep.
func (p *PointMass) Reset() ts.TimeStep {
	for i := 0; i < p.dims; i++ {
		p.position[i] = p.rng.Float64()*positionBound*2 - positionBound
		p.velocity[i] = 0.0
	}
	p.step = 0

	return ts.New(ts.First, 0, 1.0, p.observation(), 0)
}

// Step applies the argument force to the point mass and returns the
// next timestep and whether the episode has ended.
func (p *PointMass) Step(action mat.Vector) (ts.TimeStep, bool) {
	for i := 0; i < p.dims; i++ {
		force := math.Max(-forceBound, math.Min(forceBound, action.AtVec(i)))
		p.velocity[i] += force * dt
		p.velocity[i] = math.Max(-maxSpeed, math.Min(maxSpeed, p.velocity[i]))
		p.position[i] += p.velocity[i] * dt
		p.position[i] = math.Max(-positionBound,
			math.Min(positionBound, p.position[i]))
	}
	p.step++

	reward := 0.0
	for i := 0; i < p.dims; i++ {
		reward -= p.position[i]*p.position[i] +
			0.1*action.AtVec(i)*action.AtVec(i)
	}

	stepType := ts.Mid
	discount := 1.0
	done := p.step >= p.maxSteps
	if done {
		stepType = ts.Last
		discount = 0.0
	}

	return ts.New(stepType, reward, discount, p.observation(), p.step), done
}

// ObservationSpec returns the observation specification of the
// environment
func (p *PointMass) ObservationSpec() spec.Environment {
	shape := mat.NewVecDense(2*p.dims, nil)
	low := make([]float64, 2*p.dims)
	high := make([]float64, 2*p.dims)
	for i := 0; i < p.dims; i++ {
		low[i], high[i] = -positionBound, positionBound
		low[p.dims+i], high[p.dims+i] = -maxSpeed, maxSpeed
	}

	return spec.NewEnvironment(shape, spec.Observation,
		mat.NewVecDense(2*p.dims, low), mat.NewVecDense(2*p.dims, high),
		spec.Continuous)
}

// ActionSpec returns the action specification of the environment
func (p *PointMass) ActionSpec() spec.Environment {
	shape := mat.NewVecDense(p.dims, nil)
	low := make([]float64, p.dims)
	high := make([]float64, p.dims)
	for i := 0; i < p.dims; i++ {
		low[i], high[i] = -forceBound, forceBound
	}

	return spec.NewEnvironment(shape, spec.Action, mat.NewVecDense(p.dims, low),
		mat.NewVecDense(p.dims, high), spec.Continuous)
}

// observation constructs the current observation vector
func (p *PointMass) observation() mat.Vector {
	obs := make([]float64, 2*p.dims)
	copy(obs, p.position)
	copy(obs[p.dims:], p.velocity)
	return mat.NewVecDense(2*p.dims, obs)
}

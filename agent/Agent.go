// Package agent implements learning agents which interact with
// environments
package agent

import (
	"gonum.org/v1/gonum/mat"

	"github.com/diffsteer/diffsteer/timestep"
)

// Agent determines the implementation details of an agent or algorithm
//
// An Agent is composed of a Learner, which learns from environmental
// experience, and a Policy which chooses actions based on that
// experience.
type Agent interface {
	Learner
	Policy
}

// Learner updates a parameterized policy from stored environmental
// experience
type Learner interface {
	// Step performs a single update of the Learner if an update is
	// due at the current timestep
	Step() error

	// Observe records the latest transition in the environment
	Observe(action mat.Vector, nextStep timestep.TimeStep) error

	// ObserveFirst records the first timestep of an episode
	ObserveFirst(timestep.TimeStep) error

	// EndEpisode performs any end-of-episode bookkeeping
	EndEpisode()
}

// Policy chooses actions at each timestep
type Policy interface {
	// SelectAction returns the action to take at the argument timestep
	SelectAction(t timestep.TimeStep) *mat.VecDense

	// Eval sets the Policy to choose actions in an evaluation regime
	Eval()

	// Train sets the Policy to choose actions in a training regime
	Train()

	// IsEval returns whether the Policy is in its evaluation regime
	IsEval() bool
}

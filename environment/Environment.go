// Package environment outlines the interface that concrete environments
// must satisfy to be driven by an agent
package environment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/diffsteer/diffsteer/spec"
	"github.com/diffsteer/diffsteer/timestep"
)

// Starter implements a distribution of starting states and samples starting
// states for environments
type Starter interface {
	Start() mat.Vector
}

// Environment implements a simulated environment. The training engine
// treats environments as external collaborators: it only resets them,
// steps them, and reads their action/observation specifications.
type Environment interface {
	Reset() timestep.TimeStep
	Step(action mat.Vector) (timestep.TimeStep, bool)
	ObservationSpec() spec.Environment
	ActionSpec() spec.Environment
}

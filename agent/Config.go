package agent

import (
	"github.com/diffsteer/diffsteer/environment"
)

// Config represents a complete configuration of an Agent. Configs are
// immutable: once validated against an environment, the agent they
// create cannot have its hyperparameters changed.
type Config interface {
	// Validate returns an error describing why the Config cannot be
	// used with the argument environment, or nil if it can
	Validate(env environment.Environment) error
}

package policy

import (
	"github.com/diffsteer/diffsteer/spec"
)

// ScaleAction affinely maps actions from the bounds of the argument
// specification into [-1, 1]. The input may be a flat batch of
// actions: the bounds repeat per action.
func ScaleAction(actions []float64, s spec.Environment) []float64 {
	dims := s.LowerBound.Len()
	scaled := make([]float64, len(actions))
	for i := range actions {
		low := s.LowerBound.AtVec(i % dims)
		high := s.UpperBound.AtVec(i % dims)
		scaled[i] = 2.0*(actions[i]-low)/(high-low) - 1.0
	}
	return scaled
}

// UnscaleAction inverts ScaleAction, mapping actions from [-1, 1] back
// into the bounds of the argument specification.
func UnscaleAction(actions []float64, s spec.Environment) []float64 {
	dims := s.LowerBound.Len()
	unscaled := make([]float64, len(actions))
	for i := range actions {
		low := s.LowerBound.AtVec(i % dims)
		high := s.UpperBound.AtVec(i % dims)
		unscaled[i] = low + 0.5*(actions[i]+1.0)*(high-low)
	}
	return unscaled
}

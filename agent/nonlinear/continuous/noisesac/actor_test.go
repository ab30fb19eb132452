package noisesac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorUpdateIndicesEveryStep(t *testing.T) {
	indices := actorUpdateIndices(-1, 5)
	assert.Len(t, indices, 5)
	for i := 0; i < 5; i++ {
		assert.True(t, indices[i])
	}
}

func TestActorUpdateIndicesSubsampled(t *testing.T) {
	// 2 actor updates over 10 gradient steps: evenly spaced, ending at
	// the final step
	indices := actorUpdateIndices(2, 10)
	assert.Len(t, indices, 2)
	assert.True(t, indices[4])
	assert.True(t, indices[9])
}

func TestActorUpdateIndicesCountIsMinOfStepsAndUpdates(t *testing.T) {
	cases := []struct {
		actorSteps int
		gradSteps  int
	}{
		{1, 10}, {2, 10}, {3, 10}, {5, 10}, {10, 10}, {20, 10},
		{1, 1}, {4, 7},
	}
	for _, c := range cases {
		indices := actorUpdateIndices(c.actorSteps, c.gradSteps)

		want := c.actorSteps
		if c.gradSteps < want {
			want = c.gradSteps
		}
		assert.Len(t, indices, want, "K=%v G=%v", c.actorSteps, c.gradSteps)

		for i := range indices {
			assert.GreaterOrEqual(t, i, 0)
			assert.Less(t, i, c.gradSteps)
		}
	}
}

func TestActorUpdateIndicesAlwaysIncludesFinalStep(t *testing.T) {
	for _, k := range []int{1, 2, 3, 4} {
		indices := actorUpdateIndices(k, 12)
		assert.True(t, indices[11], "K=%v should update at the final step",
			k)
	}
}

func TestLinspaceInt(t *testing.T) {
	assert.Equal(t, []int{0, 4, 9}, linspaceInt(0, 9, 3))
	assert.Equal(t, []int{9}, linspaceInt(9, 9, 1))
	assert.Equal(t, []int{4, 9}, linspaceInt(4, 9, 2))
}

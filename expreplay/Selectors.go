package expreplay

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// SelectorType determines the method by which a Selector chooses
// indices from a replay buffer
type SelectorType string

// Available selector types
const (
	Fifo    SelectorType = "fifo"
	Uniform SelectorType = "uniform"
)

// Selector chooses which indices of a replay buffer to sample or
// remove
type Selector interface {
	choose(c orderedSampler) []int
	BatchSize() int

	// registerAsRemover tells the Selector that it is being used to
	// remove data from the buffer rather than sample it
	registerAsRemover()
}

// CreateSelector returns a new Selector of the given type
func CreateSelector(t SelectorType, batchSize int, seed int64) Selector {
	switch t {
	case Fifo:
		return NewFifoSelector(batchSize)
	default:
		return NewUniformSelector(batchSize, seed)
	}
}

// fifoSelector selects the oldest indices in the buffer, such that
// the buffer becomes a first-in-first-out queue
type fifoSelector struct {
	batchSize int
}

// NewFifoSelector returns a Selector that chooses the oldest samples
// in the replay buffer
func NewFifoSelector(batchSize int) Selector {
	return &fifoSelector{batchSize: batchSize}
}

func (f *fifoSelector) registerAsRemover() {}

// choose returns the indices of the oldest samples in the buffer
func (f *fifoSelector) choose(c orderedSampler) []int {
	return c.insertOrder(f.batchSize)
}

// BatchSize returns the number of samples chosen by the Selector
func (f *fifoSelector) BatchSize() int {
	return f.batchSize
}

// uniformSelector selects indices from the buffer uniformly at random
// with replacement
type uniformSelector struct {
	batchSize int
	rng       distuv.Uniform

	// Removers sample without replacement so that the same index is
	// never freed twice
	isRemover bool
}

// NewUniformSelector returns a Selector that chooses samples from the
// replay buffer uniformly at random
func NewUniformSelector(batchSize int, seed int64) Selector {
	source := rand.NewSource(uint64(seed))
	rng := distuv.Uniform{
		Min: 0.0,
		Max: 1.0,
		Src: source,
	}
	return &uniformSelector{batchSize: batchSize, rng: rng}
}

func (u *uniformSelector) registerAsRemover() {
	u.isRemover = true
}

// choose returns the indices to sample or remove
func (u *uniformSelector) choose(c orderedSampler) []int {
	selectFrom := c.sampleFrom()

	if u.isRemover {
		indices := make([]int, 0, u.batchSize)
		seen := make(map[int]struct{}, u.batchSize)
		for len(indices) < u.batchSize && len(indices) < len(selectFrom) {
			index := selectFrom[int(u.rng.Rand()*float64(len(selectFrom)))]
			if _, ok := seen[index]; ok {
				continue
			}
			seen[index] = struct{}{}
			indices = append(indices, index)
		}
		return indices
	}

	indices := make([]int, u.batchSize)
	for i := 0; i < u.batchSize; i++ {
		indices[i] = selectFrom[int(u.rng.Rand()*float64(len(selectFrom)))]
	}
	return indices
}

// BatchSize returns the number of samples chosen by the Selector
func (u *uniformSelector) BatchSize() int {
	return u.batchSize
}

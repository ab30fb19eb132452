// Package expreplay implements experience replay buffers of
// environmental transitions
package expreplay

import (
	"container/list"
	"errors"
	"fmt"

	"github.com/diffsteer/diffsteer/timestep"
)

// Buffer errors
var (
	errEmptyCache          = errors.New("cache is empty")
	errInsufficientSamples = errors.New("insufficient samples in cache")
)

// ExpReplayError describes an error that occurred during an operation
// on an experience replay buffer
type ExpReplayError struct {
	Op  string
	Err error
}

func (e *ExpReplayError) Error() string {
	return fmt.Sprintf("%v: %v", e.Op, e.Err)
}

// IsEmptyBuffer returns whether err was caused by sampling an empty
// buffer
func IsEmptyBuffer(err error) bool {
	var expErr *ExpReplayError
	if errors.As(err, &expErr) {
		return errors.Is(expErr.Err, errEmptyCache)
	}
	return false
}

// IsInsufficientSamples returns whether err was caused by sampling a
// buffer that does not yet hold its minimum capacity
func IsInsufficientSamples(err error) bool {
	var expErr *ExpReplayError
	if errors.As(err, &expErr) {
		return errors.Is(expErr.Err, errInsufficientSamples)
	}
	return false
}

// orderedSampler implements an experience replay buffer that can return
// its underlying indices to sample from and insertion order of these
// indices
type orderedSampler interface {
	ExperienceReplayer
	sampleFrom() []int

	// insertOrder returns the first n indices that were added to the
	// buffer
	insertOrder(n int) []int
}

// Config implements a specific configuration of an ExperienceReplayer
type Config struct {
	RemoveMethod      SelectorType
	SampleMethod      SelectorType
	RemoveSize        int
	SampleSize        int
	MaxReplayCapacity int
	MinReplayCapacity int
}

// Create creates and returns the ExperienceReplayer with the specified
// Config.
func (c Config) Create(featureSize, actionSize int,
	seed int64) (ExperienceReplayer, error) {
	remover := CreateSelector(c.RemoveMethod, c.RemoveSize, seed)
	sampler := CreateSelector(c.SampleMethod, c.SampleSize, seed)

	return New(remover, sampler, c.MinReplayCapacity, c.MaxReplayCapacity,
		featureSize, actionSize)
}

// ExperienceReplayer implements an experience replay buffer of
// (S, A, R, S', done) transitions. Sampling is read only: it never
// mutates or removes the stored transitions.
type ExperienceReplayer interface {
	// Add adds a transition to the buffer
	Add(t timestep.Transition) error

	// Sample samples a batch of experience from the buffer, returning
	// flat row-major batches of states, actions, rewards, next states,
	// and done indicators (0 or 1)
	Sample() ([]float64, []float64, []float64, []float64, []float64, error)

	// Capacity returns the current number of samples in the buffer
	Capacity() int

	// MaxCapacity returns the maximum allowable samples in the buffer
	MaxCapacity() int

	// MinCapacity returns the number of samples required to be in
	// the buffer before the buffer can be sampled
	MinCapacity() int

	// BatchSize returns the number of samples returned by Sample()
	BatchSize() int
}

// cache implements a concrete ExperienceReplayer
type cache struct {
	stateCache     []float64
	actionCache    []float64
	rewardCache    []float64
	nextStateCache []float64
	doneCache      []float64

	// The indices of the cache that are empty and have no data
	emptyIndices []int

	// The indices of the cache that have data
	inUseIndices []int

	// orderOfInsert outlines the chronological order of inserts. For
	// i > j, the data at index orderOfInsert[i] was inserted into the
	// buffer after the data at index orderOfInsert[j]
	orderOfInsert *list.List

	// Outlines how data is removed and sampled
	remover Selector
	sampler Selector

	minCapacity int
	maxCapacity int
	featureSize int
	actionSize  int
}

// New creates and returns a new ExperienceReplayer. The remover and
// sampler parameters are Selectors which determine how data is removed
// and sampled from the replay buffer. The featureSize and actionSize
// parameters define the size of the feature and action vectors.
func New(remover, sampler Selector, minCapacity, maxCapacity, featureSize,
	actionSize int) (ExperienceReplayer, error) {
	if minCapacity <= 0 {
		return &cache{}, fmt.Errorf("new: minCapacity must be > 0")
	}
	if maxCapacity < 1 {
		return &cache{}, fmt.Errorf("new: maxCapacity must be >= 1")
	}
	if maxCapacity < sampler.BatchSize() {
		return &cache{}, fmt.Errorf("new: cannot have batch size(%v) > max "+
			"buffer capacity (%v)", sampler.BatchSize(), maxCapacity)
	}

	stateCache := make([]float64, maxCapacity*featureSize)
	nextStateCache := make([]float64, maxCapacity*featureSize)
	actionCache := make([]float64, maxCapacity*actionSize)
	rewardCache := make([]float64, maxCapacity)
	doneCache := make([]float64, maxCapacity)

	orderOfInsert := list.New()

	remover.registerAsRemover()

	emptyIndices := make([]int, maxCapacity)
	inUseIndices := make([]int, 0, maxCapacity)
	for i := 0; i < maxCapacity; i++ {
		emptyIndices[i] = i
	}

	return &cache{
		stateCache:     stateCache,
		actionCache:    actionCache,
		rewardCache:    rewardCache,
		nextStateCache: nextStateCache,
		doneCache:      doneCache,

		emptyIndices:  emptyIndices,
		inUseIndices:  inUseIndices,
		orderOfInsert: orderOfInsert,

		remover: remover,
		sampler: sampler,

		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		featureSize: featureSize,
		actionSize:  actionSize,
	}, nil
}

// sampleFrom returns the indices to sample from
func (c *cache) sampleFrom() []int {
	return c.inUseIndices
}

// insertOrder returns a slice of at most n indices which describes
// the order that the first n data were inserted into the buffer.
// The length of the returned slice is the minimum between n and the
// number of elements currently in the buffer
func (c *cache) insertOrder(n int) []int {
	size := n
	if c.Capacity() < size {
		size = c.Capacity()
	}
	insertOrder := make([]int, size)
	element := c.orderOfInsert.Front()

	for i := 0; i < size; i++ {
		insertOrder[i] = element.Value.(int)
		element = element.Next()
		if element == nil {
			break
		}
	}
	return insertOrder
}

// BatchSize returns the number of samples sampled using Sample() -
// a.k.a the batch size
func (c *cache) BatchSize() int {
	return c.sampler.BatchSize()
}

// remove removes elements from the cache using indices sampled from the
// cache's remover
func (c *cache) remove() error {
	if c.Capacity() <= c.minCapacity {
		return fmt.Errorf("remove: cannot remove, cache at min capacity")
	}

	indices := c.remover.choose(c)
	removed := make(map[int]struct{}, len(indices))
	for _, index := range indices {
		for i := range c.inUseIndices {
			if c.inUseIndices[i] == index {
				c.inUseIndices[i] = c.inUseIndices[len(c.inUseIndices)-1]
				c.inUseIndices = c.inUseIndices[:len(c.inUseIndices)-1]
				break
			}
		}
		c.emptyIndices = append(c.emptyIndices, index)
		removed[index] = struct{}{}
	}

	// Drop the removed indices from the insertion order
	for element := c.orderOfInsert.Front(); element != nil; {
		next := element.Next()
		if _, ok := removed[element.Value.(int)]; ok {
			c.orderOfInsert.Remove(element)
		}
		element = next
	}

	return nil
}

// Sample samples and returns a batch of transitions from the replay
// buffer
func (c *cache) Sample() ([]float64, []float64, []float64, []float64,
	[]float64, error) {
	if c.Capacity() == 0 {
		err := &ExpReplayError{
			Op:  "sample",
			Err: errEmptyCache,
		}
		return nil, nil, nil, nil, nil, err
	}
	if c.Capacity() < c.MinCapacity() {
		err := &ExpReplayError{
			Op:  "sample",
			Err: errInsufficientSamples,
		}
		return nil, nil, nil, nil, nil, err
	}

	indices := c.sampler.choose(c)

	stateBatch := make([]float64, c.BatchSize()*c.featureSize)
	nextStateBatch := make([]float64, c.BatchSize()*c.featureSize)
	for i, index := range indices {
		batchStartInd := i * c.featureSize
		expStartInd := index * c.featureSize
		copy(stateBatch[batchStartInd:batchStartInd+c.featureSize],
			c.stateCache[expStartInd:expStartInd+c.featureSize],
		)
		copy(nextStateBatch[batchStartInd:batchStartInd+c.featureSize],
			c.nextStateCache[expStartInd:expStartInd+c.featureSize],
		)
	}

	actionBatch := make([]float64, c.BatchSize()*c.actionSize)
	for i, index := range indices {
		batchStartInd := i * c.actionSize
		expStartInd := index * c.actionSize
		copy(actionBatch[batchStartInd:batchStartInd+c.actionSize],
			c.actionCache[expStartInd:expStartInd+c.actionSize],
		)
	}

	rewardBatch := make([]float64, c.BatchSize())
	doneBatch := make([]float64, c.BatchSize())
	for i, index := range indices {
		rewardBatch[i] = c.rewardCache[index]
		doneBatch[i] = c.doneCache[index]
	}

	return stateBatch, actionBatch, rewardBatch, nextStateBatch, doneBatch, nil
}

// Capacity returns the current number of elements in the cache that
// are available for sampling
func (c *cache) Capacity() int {
	return len(c.inUseIndices)
}

// MaxCapacity returns the maximum number of elements that are allowed
// in the cache
func (c *cache) MaxCapacity() int {
	return c.maxCapacity
}

// MinCapacity returns the minimum number of elements required in the
// cache before sampling is allowed
func (c *cache) MinCapacity() int {
	return c.minCapacity
}

// Add adds a transition to the cache
func (c *cache) Add(t timestep.Transition) error {
	if t.State.Len() != c.featureSize || t.NextState.Len() != c.featureSize {
		return fmt.Errorf("add: invalid feature size \n\twant(%v)\n\thave(%v)",
			c.featureSize, t.State.Len())
	}
	if t.Action.Len() != c.actionSize {
		return fmt.Errorf("add: invalid action size \n\twant(%v)\n\thave(%v)",
			c.actionSize, t.Action.Len())
	}

	if c.Capacity() >= c.maxCapacity {
		err := c.remove()
		if err != nil {
			return fmt.Errorf("add: cannot add to buffer: %v", err)
		}
	}

	emptyIndicesLength := len(c.emptyIndices)
	index := c.emptyIndices[emptyIndicesLength-1]
	c.emptyIndices = c.emptyIndices[:emptyIndicesLength-1]
	c.orderOfInsert.PushBack(index)
	c.inUseIndices = append(c.inUseIndices, index)

	// Copy states
	stateInd := index * c.featureSize
	for i := 0; i < c.featureSize; i++ {
		c.stateCache[stateInd+i] = t.State.AtVec(i)
		c.nextStateCache[stateInd+i] = t.NextState.AtVec(i)
	}

	// Copy action
	actionInd := index * c.actionSize
	for i := 0; i < c.actionSize; i++ {
		c.actionCache[actionInd+i] = t.Action.AtVec(i)
	}

	// Copy reward and done indicator
	c.rewardCache[index] = t.Reward
	if t.Done {
		c.doneCache[index] = 1.0
	} else {
		c.doneCache[index] = 0.0
	}

	return nil
}

package core

import (
	"fmt"
	"sync"
)

// ModelLimiter is the generation budget of one turn. The supervisor and every
// worker it delegates to draw from the same budget, so concurrent delegations
// cannot multiply the number of model calls a turn makes.
type ModelLimiter struct {
	mu     sync.Mutex
	budget int
	used   int
}

// NewModelLimiter returns a limiter allowing budget calls; 0 means unbounded.
func NewModelLimiter(budget int) *ModelLimiter {
	return &ModelLimiter{budget: budget}
}

// Increment reserves one model call. Past the budget it returns an
// ErrGeneration, which fails the turn rather than the single delegation.
func (ml *ModelLimiter) Increment() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.used++
	if ml.budget > 0 && ml.used > ml.budget {
		return fmt.Errorf("%w: turn used its %d model calls", ErrGeneration, ml.budget)
	}
	return nil
}

// Count is the number of calls reserved so far, including a rejected one.
func (ml *ModelLimiter) Count() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.used
}

// Remaining is -1 for an unbounded turn.
func (ml *ModelLimiter) Remaining() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.budget == 0 {
		return -1
	}
	return ml.budget - ml.used
}

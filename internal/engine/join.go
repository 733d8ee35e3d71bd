package engine

import (
	"sync"

	"snapops/internal/automation"
	"snapops/internal/store"

	"github.com/google/uuid"
)

// ChildOutcome is one work item's contribution to the join barrier.
type ChildOutcome struct {
	AccountExecutionID uuid.UUID
	AccountID          uuid.UUID
	Status             store.ExecutionStatus
	Outcome            automation.Outcome
}

// Join is a fan-in barrier over a fixed number of work items. The callback
// runs exactly once, after every item has reported, with all collected
// outcomes. Done is safe to call from concurrent goroutines.
type Join struct {
	mu        sync.Mutex
	remaining int
	outcomes  []ChildOutcome

	once     sync.Once
	callback func([]ChildOutcome)
	fired    chan struct{}
}

// NewJoin builds a barrier for n items. With n == 0 the callback fires
// immediately with no outcomes.
func NewJoin(n int, callback func([]ChildOutcome)) *Join {
	j := &Join{
		remaining: n,
		outcomes:  make([]ChildOutcome, 0, n),
		callback:  callback,
		fired:     make(chan struct{}),
	}
	if n == 0 {
		j.fire(nil)
	}
	return j
}

// Done reports one item's outcome. The call that drains the count fires the
// callback on its own goroutine before returning.
func (j *Join) Done(outcome ChildOutcome) {
	j.mu.Lock()
	if j.remaining <= 0 {
		j.mu.Unlock()
		return
	}
	j.outcomes = append(j.outcomes, outcome)
	j.remaining--
	drained := j.remaining == 0
	collected := j.outcomes
	j.mu.Unlock()

	if drained {
		j.fire(collected)
	}
}

// Wait blocks until the callback has run.
func (j *Join) Wait() {
	<-j.fired
}

func (j *Join) fire(outcomes []ChildOutcome) {
	j.once.Do(func() {
		if j.callback != nil {
			j.callback(outcomes)
		}
		close(j.fired)
	})
}

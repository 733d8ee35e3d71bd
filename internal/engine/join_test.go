package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJoin_CallbackFiresOnceAfterAll(t *testing.T) {
	const n = 10

	var fired atomic.Int32
	var got []ChildOutcome
	j := NewJoin(n, func(outcomes []ChildOutcome) {
		fired.Add(1)
		got = outcomes
	})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.Done(ChildOutcome{AccountExecutionID: uuid.New()})
		}()
	}
	wg.Wait()
	j.Wait()

	if fired.Load() != 1 {
		t.Errorf("callback fired %d times, want 1", fired.Load())
	}
	if len(got) != n {
		t.Errorf("callback received %d outcomes, want %d", len(got), n)
	}
}

func TestJoin_ZeroItemsFiresImmediately(t *testing.T) {
	var fired atomic.Int32
	j := NewJoin(0, func(outcomes []ChildOutcome) {
		fired.Add(1)
		if len(outcomes) != 0 {
			t.Errorf("expected no outcomes, got %d", len(outcomes))
		}
	})

	j.Wait()
	if fired.Load() != 1 {
		t.Errorf("callback fired %d times, want 1", fired.Load())
	}
}

func TestJoin_ExtraDoneIgnored(t *testing.T) {
	var fired atomic.Int32
	j := NewJoin(1, func([]ChildOutcome) { fired.Add(1) })

	j.Done(ChildOutcome{})
	j.Done(ChildOutcome{})
	j.Wait()

	if fired.Load() != 1 {
		t.Errorf("callback fired %d times, want 1", fired.Load())
	}
}

func TestJoin_DoesNotFireEarly(t *testing.T) {
	j := NewJoin(2, func([]ChildOutcome) {})

	j.Done(ChildOutcome{})

	select {
	case <-time.After(20 * time.Millisecond):
	case <-joinFired(j):
		t.Fatal("barrier fired after 1 of 2 completions")
	}

	j.Done(ChildOutcome{})
	j.Wait()
}

func joinFired(j *Join) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		j.Wait()
		close(ch)
	}()
	return ch
}

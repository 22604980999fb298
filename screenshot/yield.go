package screenshot

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// ErrCancelled is returned by operations stopped through Cancel or a done
// context.
var ErrCancelled = errors.New("screenshot: cancelled")

// DefaultYieldBudget is the continuous work allowed between two yields.
const DefaultYieldBudget = 5 * time.Millisecond

// Yielder splits a long walk into chunks. Point is called before each unit
// of work; once the budget is spent it hands the processor back to the
// scheduler. It is also the cancellation checkpoint of the walk.
type Yielder struct {
	budget    time.Duration
	last      time.Time
	yields    int
	cancelled atomic.Bool
	now       func() time.Time
}

// NewYielder creates a Yielder. A non-positive budget uses DefaultYieldBudget.
func NewYielder(budget time.Duration) *Yielder {
	if budget <= 0 {
		budget = DefaultYieldBudget
	}
	return &Yielder{budget: budget, now: time.Now, last: time.Now()}
}

// Cancel makes every later Point fail. Safe from any goroutine.
func (y *Yielder) Cancel() { y.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (y *Yielder) Cancelled() bool { return y.cancelled.Load() }

// Yields returns how many times the walk gave up the processor.
func (y *Yielder) Yields() int { return y.yields }

// Point yields when the budget is exhausted and reports cancellation.
func (y *Yielder) Point(ctx context.Context) error {
	if err := y.check(ctx); err != nil {
		return err
	}
	if y.now().Sub(y.last) < y.budget {
		return nil
	}
	runtime.Gosched()
	y.yields++
	y.last = y.now()
	return y.check(ctx)
}

func (y *Yielder) check(ctx context.Context) error {
	if y.cancelled.Load() {
		return ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

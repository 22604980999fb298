package screenshot

import (
	"sync"
	"time"
)

// Step names reported in Timings.
const (
	StepClone     = "clone"
	StepImages    = "images"
	StepCloneAll  = "total_clone"
	StepCompose   = "compose"
	StepHighlight = "highlight"
	StepRasterize = "rasterize"
	StepEncode    = "encode"
	StepTotal     = "total"
)

// Timings are step durations of one screenshot, by step name.
type Timings map[string]time.Duration

// Milliseconds returns the timings as float milliseconds.
func (t Timings) Milliseconds() map[string]float64 {
	if len(t) == 0 {
		return nil
	}
	out := make(map[string]float64, len(t))
	for k, d := range t {
		out[k] = float64(d.Microseconds()) / 1000
	}
	return out
}

// timer measures named, possibly overlapping steps.
type timer struct {
	now func() time.Time

	mu      sync.Mutex
	started map[string]time.Time
	times   Timings
}

func newTimer() *timer {
	return &timer{now: time.Now, started: make(map[string]time.Time), times: make(Timings)}
}

func (t *timer) start(steps ...string) {
	now := t.now()
	t.mu.Lock()
	for _, s := range steps {
		t.started[s] = now
	}
	t.mu.Unlock()
}

// stop records the steps that were started; others are ignored.
func (t *timer) stop(steps ...string) {
	now := t.now()
	t.mu.Lock()
	for _, s := range steps {
		if at, ok := t.started[s]; ok {
			t.times[s] = now.Sub(at)
			delete(t.started, s)
		}
	}
	t.mu.Unlock()
}

// merge copies finished timings of o into t.
func (t *timer) merge(o Timings) {
	t.mu.Lock()
	for k, v := range o {
		t.times[k] = v
	}
	t.mu.Unlock()
}

func (t *timer) snapshot() Timings {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(Timings, len(t.times))
	for k, v := range t.times {
		out[k] = v
	}
	return out
}

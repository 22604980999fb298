package tracker

import "time"

// debounceConfig controls trigger coalescing.
type debounceConfig struct {
	// Window is the quiet time before a recompute. Default: 16ms.
	Window time.Duration
	// MaxBuffer forces a flush when this many triggers accumulate. Default: 64.
	MaxBuffer int
}

func (dc *debounceConfig) defaults() {
	if dc.Window <= 0 {
		dc.Window = 16 * time.Millisecond
	}
	if dc.MaxBuffer <= 0 {
		dc.MaxBuffer = 64
	}
}

// debouncer collects triggers and emits the set of distinct reasons when
// the window expires or the buffer fills. A redraw flushes at once.
type debouncer struct {
	cfg     debounceConfig
	pending []Trigger
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]Reason)
}

func newDebouncer(cfg debounceConfig, flushFn func([]Reason)) *debouncer {
	cfg.defaults()
	return &debouncer{
		cfg:     cfg,
		pending: make([]Trigger, 0, cfg.MaxBuffer),
		flushFn: flushFn,
	}
}

// add buffers t. Returns true if it caused an immediate flush.
func (d *debouncer) add(t Trigger) bool {
	d.pending = append(d.pending, t)

	if t.Reason == ReasonRedraw || len(d.pending) >= d.cfg.MaxBuffer {
		d.flush()
		return true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

func (d *debouncer) flush() {
	if len(d.pending) == 0 {
		return
	}
	reasons := distinctReasons(d.pending)
	d.pending = d.pending[:0]
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	d.flushFn(reasons)
}

// distinctReasons keeps the first occurrence of each reason, in order.
func distinctReasons(ts []Trigger) []Reason {
	seen := make(map[Reason]bool, len(ts))
	var out []Reason
	for _, t := range ts {
		if !seen[t.Reason] {
			seen[t.Reason] = true
			out = append(out, t.Reason)
		}
	}
	return out
}

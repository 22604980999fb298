// Package tracker keeps annotation pin positions current.
//
// Positions are recomputed on page scroll and resize, on a fast poll while
// the page is visible, on mutations of editors that scroll without emitting
// scroll events, on the redraw event and whenever the annotation set
// changes. Each recompute resolves every annotation concurrently; one
// failing annotation never holds up the rest. The whole result is applied
// as one Batch.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/location"
	"github.com/hazyhaar/pinpoint/resolver"
)

// Batch is one atomic update of every tracked annotation.
type Batch struct {
	Seq     uint64   `json:"seq"`
	Reasons []Reason `json:"reasons,omitempty"`
	// Positions holds the annotations that can be shown, keyed by id.
	Positions map[string]resolver.Position `json:"positions"`
	// Hidden lists annotations whose match is not accepted.
	Hidden []string `json:"hidden,omitempty"`
	// Failed maps annotation ids to the error that stopped their resolution.
	Failed map[string]string `json:"failed,omitempty"`
	At     time.Time         `json:"at"`
}

// Config for creating a Tracker.
type Config struct {
	Resolver *resolver.Resolver
	Document dom.Document
	Sink     Sink
	Sources  []Source
	// Strict disables stale element matches in the resolver.
	Strict bool
	// HideStale drops maybe-stale matches from the published positions.
	HideStale bool
	// PollInterval is the recompute period while visible. Default: 500ms.
	PollInterval time.Duration
	// DebounceWindow coalesces trigger bursts. Default: 16ms.
	DebounceWindow time.Duration
	Logger         *slog.Logger
}

type resolveFunc func(ctx context.Context, doc dom.Document, ann annotation.Annotation, strict bool) resolver.Position

// Tracker recomputes positions and publishes batches to its sink.
type Tracker struct {
	cfg      Config
	logger   *slog.Logger
	resolve  resolveFunc
	triggers chan Trigger
	seq      atomic.Uint64
	visible  atomic.Bool

	mu          sync.RWMutex
	annotations []annotation.Annotation
	current     Batch
}

// New creates a Tracker. Run must be called to start listening.
func New(cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Sink == nil {
		cfg.Sink = NewCallback(nil)
	}
	t := &Tracker{
		cfg:      cfg,
		logger:   cfg.Logger,
		triggers: make(chan Trigger, 256),
		current:  Batch{Positions: map[string]resolver.Position{}},
	}
	t.visible.Store(true)
	res := cfg.Resolver
	if res == nil {
		res = resolver.New(nil, cfg.Logger)
	}
	t.resolve = func(ctx context.Context, doc dom.Document, ann annotation.Annotation, strict bool) resolver.Position {
		return res.Resolve(ctx, doc, ann, &ann.CoordsRelativeToTarget, strict)
	}
	return t
}

// SetAnnotations replaces the tracked set and schedules a recompute.
func (t *Tracker) SetAnnotations(anns []annotation.Annotation) {
	cp := make([]annotation.Annotation, len(anns))
	copy(cp, anns)
	t.mu.Lock()
	t.annotations = cp
	t.mu.Unlock()
	t.Notify(Trigger{Reason: ReasonAnnotations})
}

// Annotations returns the tracked set.
func (t *Tracker) Annotations() []annotation.Annotation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]annotation.Annotation, len(t.annotations))
	copy(out, t.annotations)
	return out
}

// Redraw forces an immediate recompute, like the page's redraw event.
func (t *Tracker) Redraw() {
	t.Notify(Trigger{Reason: ReasonRedraw})
}

// Notify queues a trigger without blocking. When the queue is full the
// trigger is dropped; a recompute is already pending.
func (t *Tracker) Notify(tr Trigger) {
	if tr.At.IsZero() {
		tr.At = time.Now()
	}
	select {
	case t.triggers <- tr:
	default:
	}
}

// Positions returns the last applied batch.
func (t *Tracker) Positions() Batch {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Run installs the sources and processes triggers until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	for _, s := range t.cfg.Sources {
		if err := s.Start(ctx, t.triggers); err != nil {
			return fmt.Errorf("tracker: start source: %w", err)
		}
	}

	poll := time.NewTicker(t.cfg.PollInterval)
	defer poll.Stop()

	deb := newDebouncer(debounceConfig{Window: t.cfg.DebounceWindow}, func(reasons []Reason) {
		t.Recompute(ctx, reasons...)
	})

	t.Recompute(ctx, ReasonAnnotations)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case tr := <-t.triggers:
			if tr.Reason == ReasonVisibility {
				t.visible.Store(tr.Visible)
				if !tr.Visible {
					continue
				}
			}
			deb.add(tr)

		case <-deb.timerC():
			deb.flush()

		case <-poll.C:
			if t.visible.Load() {
				deb.add(Trigger{Reason: ReasonPoll, At: time.Now()})
			}
		}
	}
}

type outcome struct {
	pos resolver.Position
	err error
}

// Recompute resolves every tracked annotation concurrently, applies the
// result as the current batch and hands it to the sink when positions
// changed.
func (t *Tracker) Recompute(ctx context.Context, reasons ...Reason) Batch {
	anns := t.Annotations()
	results := make([]outcome, len(anns))

	var wg sync.WaitGroup
	for i, ann := range anns {
		wg.Add(1)
		go func(i int, ann annotation.Annotation) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					results[i] = outcome{err: fmt.Errorf("tracker: resolve %s: panic: %v", ann.ID, rec)}
				}
			}()
			results[i] = outcome{pos: t.resolve(ctx, t.cfg.Document, ann, t.cfg.Strict)}
		}(i, ann)
	}
	wg.Wait()

	accepted := location.Accepted(t.cfg.HideStale)
	batch := Batch{
		Reasons:   reasons,
		Positions: make(map[string]resolver.Position, len(anns)),
		At:        time.Now(),
	}
	for i, ann := range anns {
		r := results[i]
		if r.err != nil {
			if batch.Failed == nil {
				batch.Failed = map[string]string{}
			}
			batch.Failed[ann.ID] = r.err.Error()
			t.logger.Warn("tracker: annotation failed", "annotation", ann.ID, "error", r.err)
			continue
		}
		if !accepted[r.pos.Match] || !r.pos.Visible() {
			batch.Hidden = append(batch.Hidden, ann.ID)
			continue
		}
		batch.Positions[ann.ID] = r.pos
	}

	t.mu.Lock()
	changed := t.current.Seq == 0 || !sameBatch(t.current, batch)
	if changed {
		batch.Seq = t.seq.Add(1)
		t.current = batch
	} else {
		batch = t.current
	}
	t.mu.Unlock()

	if changed {
		if err := t.cfg.Sink.Send(ctx, batch); err != nil {
			t.logger.Warn("tracker: send batch failed", "seq", batch.Seq, "error", err)
		}
	}
	return batch
}

func sameBatch(a, b Batch) bool {
	if len(a.Positions) != len(b.Positions) || len(a.Failed) != len(b.Failed) || len(a.Hidden) != len(b.Hidden) {
		return false
	}
	for id, pa := range a.Positions {
		pb, ok := b.Positions[id]
		if !ok || !samePosition(pa, pb) {
			return false
		}
	}
	for id, ea := range a.Failed {
		if b.Failed[id] != ea {
			return false
		}
	}
	for i := range a.Hidden {
		if a.Hidden[i] != b.Hidden[i] {
			return false
		}
	}
	return true
}

func samePosition(a, b resolver.Position) bool {
	return a.Match == b.Match && a.ElementPath == b.ElementPath &&
		samePoint(a.Document, b.Document) && samePoint(a.Viewport, b.Viewport)
}

func samePoint(a, b *dom.Point) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/dom/htmldom"
	"github.com/hazyhaar/pinpoint/location"
	"github.com/hazyhaar/pinpoint/registry"
	"github.com/hazyhaar/pinpoint/resolver"
)

const page = `<html><body>
<div id="a" data-cord-annotation-location='{"k":"a"}'></div>
<div id="b" data-cord-annotation-location='{"k":"b"}'></div>
<div id="c" data-cord-annotation-location='{"k":"c"}'></div>
</body></html>`

func fixture(t *testing.T) (*htmldom.Document, *registry.Registry) {
	t.Helper()
	doc := htmldom.MustParse(page)
	doc.SetLayout(doc.ByID("a"), htmldom.Layout{Rect: dom.Rect{Left: 0, Top: 0, Width: 10, Height: 10}})
	doc.SetLayout(doc.ByID("b"), htmldom.Layout{Rect: dom.Rect{Left: 100, Top: 0, Width: 10, Height: 10}})
	doc.SetLayout(doc.ByID("c"), htmldom.Layout{Rect: dom.Rect{Left: 200, Top: 0, Width: 10, Height: 10}})
	return doc, registry.New(nil)
}

func ann(id string, loc location.Location) annotation.Annotation {
	return annotation.Annotation{ID: id, Location: loc, CoordsRelativeToTarget: annotation.Centre}
}

func TestRecompute_HandlerFailureIsolated(t *testing.T) {
	doc, reg := fixture(t)
	if err := reg.SetRenderHandler(location.Location{"k": "a"}, func(context.Context, annotation.Annotation, *annotation.Point) (*annotation.RenderPosition, error) {
		panic("broken host handler")
	}); err != nil {
		t.Fatal(err)
	}
	tr := New(Config{Resolver: resolver.New(reg, nil), Document: doc})
	tr.SetAnnotations([]annotation.Annotation{ann("A", location.Location{"k": "a"}), ann("B", location.Location{"k": "b"})})

	batch := tr.Recompute(context.Background(), ReasonRedraw)
	pb, ok := batch.Positions["B"]
	if !ok {
		t.Fatalf("B missing from batch: %+v", batch)
	}
	if pb.Document.X != 105 || pb.Document.Y != 5 {
		t.Errorf("B position: got %+v", *pb.Document)
	}
	// A's handler panicked; it falls through to its exact element.
	if pa, ok := batch.Positions["A"]; !ok || pa.Document.X != 5 {
		t.Errorf("A should fall through to its element, got %+v", batch.Positions["A"])
	}
}

func TestRecompute_PanicInResolutionIsolated(t *testing.T) {
	doc, reg := fixture(t)
	tr := New(Config{Resolver: resolver.New(reg, nil), Document: doc})
	real := tr.resolve
	tr.resolve = func(ctx context.Context, d dom.Document, a annotation.Annotation, strict bool) resolver.Position {
		if a.ID == "A" {
			panic("document went away")
		}
		return real(ctx, d, a, strict)
	}
	tr.SetAnnotations([]annotation.Annotation{ann("A", location.Location{"k": "a"}), ann("B", location.Location{"k": "b"})})

	batch := tr.Recompute(context.Background())
	if _, ok := batch.Positions["B"]; !ok {
		t.Fatal("B must still be resolved")
	}
	if batch.Failed["A"] == "" {
		t.Errorf("A should be recorded as failed: %+v", batch.Failed)
	}
}

func TestRecompute_HideStale(t *testing.T) {
	doc, reg := fixture(t)
	anns := []annotation.Annotation{
		ann("exact", location.Location{"k": "a"}),
		ann("stale", location.Location{"k": "b", "extra": 1}),
		ann("gone", location.Location{"k": "z"}),
	}

	loose := New(Config{Resolver: resolver.New(reg, nil), Document: doc})
	loose.SetAnnotations(anns)
	b := loose.Recompute(context.Background())
	if len(b.Positions) != 2 || b.Positions["stale"].Match != location.MatchMaybeStale {
		t.Errorf("loose: got %+v", b.Positions)
	}
	if len(b.Hidden) != 1 || b.Hidden[0] != "gone" {
		t.Errorf("loose hidden: got %v", b.Hidden)
	}

	strict := New(Config{Resolver: resolver.New(reg, nil), Document: doc, HideStale: true})
	strict.SetAnnotations(anns)
	b = strict.Recompute(context.Background())
	if len(b.Positions) != 1 {
		t.Errorf("hide stale: got %+v", b.Positions)
	}
	if _, ok := b.Positions["exact"]; !ok {
		t.Error("exact must stay visible")
	}
}

func TestRecompute_AtomicAndDeduplicated(t *testing.T) {
	doc, reg := fixture(t)
	var sent []Batch
	tr := New(Config{
		Resolver: resolver.New(reg, nil),
		Document: doc,
		Sink: NewCallback(func(_ context.Context, b Batch) error {
			sent = append(sent, b)
			return nil
		}),
	})
	tr.SetAnnotations([]annotation.Annotation{ann("A", location.Location{"k": "a"})})

	first := tr.Recompute(context.Background(), ReasonPoll)
	tr.Recompute(context.Background(), ReasonPoll)
	if len(sent) != 1 {
		t.Fatalf("unchanged positions should not be resent, got %d batches", len(sent))
	}

	doc.UpdateLayout(doc.ByID("a"), func(l *htmldom.Layout) { l.Rect.Top = 50 })
	second := tr.Recompute(context.Background(), ReasonScroll)
	if len(sent) != 2 || second.Seq <= first.Seq {
		t.Fatalf("moved element should publish a new batch: sent=%d seq=%d", len(sent), second.Seq)
	}
	if tr.Positions().Positions["A"].Document.Y != 55 {
		t.Errorf("current snapshot not updated: %+v", tr.Positions())
	}
}

func TestRun_RedrawAndSources(t *testing.T) {
	doc, reg := fixture(t)
	got := make(chan Batch, 16)
	var srcOut chan<- Trigger
	src := SourceFunc(func(_ context.Context, out chan<- Trigger) error {
		srcOut = out
		return nil
	})
	tr := New(Config{
		Resolver:     resolver.New(reg, nil),
		Document:     doc,
		Sources:      []Source{src},
		PollInterval: time.Hour,
		Sink: NewCallback(func(_ context.Context, b Batch) error {
			got <- b
			return nil
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	waitFor := func(pred func(Batch) bool) Batch {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case b := <-got:
				if pred(b) {
					return b
				}
			case <-deadline:
				t.Fatal("timed out waiting for batch")
			}
		}
	}

	waitFor(func(b Batch) bool { return b.Seq == 1 })

	tr.SetAnnotations([]annotation.Annotation{ann("A", location.Location{"k": "a"})})
	waitFor(func(b Batch) bool { _, ok := b.Positions["A"]; return ok })

	doc.UpdateLayout(doc.ByID("a"), func(l *htmldom.Layout) { l.Rect.Left = 300 })
	tr.Redraw()
	waitFor(func(b Batch) bool { return b.Positions["A"].Document != nil && b.Positions["A"].Document.X == 305 })

	doc.UpdateLayout(doc.ByID("a"), func(l *htmldom.Layout) { l.Rect.Left = 400 })
	srcOut <- Trigger{Reason: ReasonScroll}
	waitFor(func(b Batch) bool { return b.Positions["A"].Document != nil && b.Positions["A"].Document.X == 405 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run: got %v", err)
	}
}

func TestDebouncer(t *testing.T) {
	var flushed [][]Reason
	d := newDebouncer(debounceConfig{Window: time.Hour, MaxBuffer: 3}, func(r []Reason) {
		flushed = append(flushed, r)
	})

	d.add(Trigger{Reason: ReasonScroll})
	d.add(Trigger{Reason: ReasonScroll})
	if len(flushed) != 0 {
		t.Fatal("should wait for the window")
	}
	if d.timerC() == nil {
		t.Fatal("timer should be armed")
	}
	d.add(Trigger{Reason: ReasonResize})
	if len(flushed) != 1 || len(flushed[0]) != 2 {
		t.Fatalf("full buffer should flush distinct reasons, got %v", flushed)
	}

	d.add(Trigger{Reason: ReasonMutation})
	d.add(Trigger{Reason: ReasonRedraw})
	if len(flushed) != 2 || flushed[1][1] != ReasonRedraw {
		t.Fatalf("redraw should flush immediately, got %v", flushed)
	}
	if d.timerC() != nil {
		t.Error("timer should be cleared after flush")
	}
	d.flush()
	if len(flushed) != 2 {
		t.Error("empty flush must not emit")
	}
}

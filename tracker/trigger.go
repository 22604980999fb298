package tracker

import (
	"context"
	"time"
)

// Reason says why positions are being recomputed.
type Reason string

const (
	ReasonScroll      Reason = "scroll"
	ReasonResize      Reason = "resize"
	ReasonPoll        Reason = "poll"
	ReasonMutation    Reason = "mutation"
	ReasonRedraw      Reason = "redraw"
	ReasonVisibility  Reason = "visibility"
	ReasonAnnotations Reason = "annotations"
)

// Trigger is one invalidation signal.
type Trigger struct {
	Reason Reason
	// Visible is meaningful for ReasonVisibility only.
	Visible bool
	At      time.Time
}

// Source feeds triggers from a page (scroll/resize/visibility listeners,
// mutation observers, the redraw event). Start must return once the source
// is installed and keep sending until ctx is done.
type Source interface {
	Start(ctx context.Context, out chan<- Trigger) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, out chan<- Trigger) error

func (f SourceFunc) Start(ctx context.Context, out chan<- Trigger) error { return f(ctx, out) }

package resolver

import (
	"context"
	"fmt"

	"github.com/hazyhaar/pinpoint/annotation"
)

// renderOutcome is a handler call with failures made explicit: declined is
// set when the handler errored, panicked or returned an empty position.
type renderOutcome struct {
	pos      *annotation.RenderPosition
	declined bool
	err      error
}

func (o renderOutcome) answered() bool { return !o.declined }

// callRender invokes a host handler. A misbehaving handler must not break
// position computation for other annotations, so errors and panics are
// logged and turned into a decline.
func (r *Resolver) callRender(ctx context.Context, h annotation.RenderHandler, ann annotation.Annotation, coords *annotation.Point) (out renderOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = renderOutcome{declined: true, err: fmt.Errorf("resolver: render handler panic: %v", rec)}
			r.logger.Warn("resolver: render handler panicked", "annotation", ann.ID, "panic", rec)
		}
	}()

	pos, err := h(ctx, ann, coords)
	if err != nil {
		r.logger.Warn("resolver: render handler failed", "annotation", ann.ID, "error", err)
		return renderOutcome{declined: true, err: err}
	}
	if pos.Empty() {
		return renderOutcome{declined: true}
	}
	return renderOutcome{pos: pos}
}

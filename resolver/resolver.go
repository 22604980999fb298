// Package resolver decides where an annotation pin is drawn on the current
// document.
//
// Sources are tried in a fixed order and the first usable answer wins:
//
//  1. a render handler registered for exactly the annotation's location
//  2. a DOM element tagged with exactly that location
//  3. the most specific render handler matching a subset of the location
//  4. the most specific DOM element matching a subset (non-strict only)
//  5. nothing: the pin is hidden
//
// Handler answers are trusted as exact even when the handler was registered
// for a less specific location; the host registered it knowingly.
package resolver

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/finder"
	"github.com/hazyhaar/pinpoint/location"
	"github.com/hazyhaar/pinpoint/registry"
)

// center is used when no relative coordinates were recorded.
var center = annotation.Coordinates{X: annotation.Pct(50), Y: annotation.Pct(50)}

// RenderResult is the outcome of the priority policy before coordinates are
// made absolute. Coordinates are relative to Element when it is set.
type RenderResult struct {
	Match       location.Match
	Coordinates *annotation.Coordinates
	Element     dom.Element
}

// Position is a resolved pin position.
type Position struct {
	AnnotationID string         `json:"annotation_id"`
	Match        location.Match `json:"match"`
	// Document is the absolute position in document coordinates.
	Document *dom.Point `json:"document,omitempty"`
	// Viewport is Document minus the page scroll.
	Viewport    *dom.Point  `json:"viewport,omitempty"`
	Element     dom.Element `json:"-"`
	ElementPath string      `json:"element_path,omitempty"`
	ElementRect *dom.Rect   `json:"element_rect,omitempty"`
}

// Visible reports whether the pin can be drawn.
func (p Position) Visible() bool { return p.Match.Renderable() && p.Document != nil }

// Resolver combines the registry and the DOM finder.
type Resolver struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// New creates a Resolver over reg.
func New(reg *registry.Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{reg: reg, logger: logger}
}

// Resolve runs the priority policy for ann on doc and converts the result to
// absolute coordinates. coords is the position relative to the target box,
// nil for the box centre. With strict set, only exact answers are returned.
func (r *Resolver) Resolve(ctx context.Context, doc dom.Document, ann annotation.Annotation, coords *annotation.Point, strict bool) Position {
	res := r.FindRenderPosition(ctx, doc, ann, coords, strict)
	pos := Absolute(doc, res)
	pos.AnnotationID = ann.ID
	return pos
}

// GetAnnotationPosition resolves with stale matches allowed.
func (r *Resolver) GetAnnotationPosition(ctx context.Context, doc dom.Document, ann annotation.Annotation) Position {
	return r.Resolve(ctx, doc, ann, &ann.CoordsRelativeToTarget, false)
}

// GetAnnotationPositionStrict resolves exact matches only.
func (r *Resolver) GetAnnotationPositionStrict(ctx context.Context, doc dom.Document, ann annotation.Annotation) Position {
	return r.Resolve(ctx, doc, ann, &ann.CoordsRelativeToTarget, true)
}

// FindRenderPosition applies the priority policy.
func (r *Resolver) FindRenderPosition(ctx context.Context, doc dom.Document, ann annotation.Annotation, coords *annotation.Point, strict bool) RenderResult {
	var handlerMatch registry.RenderMatch
	if r.reg != nil {
		handlerMatch = r.reg.FindRender(ann.Location)
	}
	elementMatch := finder.FindElementMatchingLocation(doc, ann.Location)

	if handlerMatch.Handler != nil && handlerMatch.Exact {
		if out := r.callRender(ctx, handlerMatch.Handler, ann, coords); out.answered() {
			return RenderResult{Match: location.MatchExact, Coordinates: out.pos.Coordinates, Element: out.pos.Element}
		}
	}

	if elementMatch.Found() && elementMatch.Exact {
		c := center
		if coords != nil {
			rect := elementMatch.Element.Rect()
			c = annotation.Coordinates{
				X: annotation.Px(rect.Width * coords.X),
				Y: annotation.Px(rect.Height * coords.Y),
			}
		}
		return RenderResult{Match: location.MatchExact, Coordinates: &c, Element: elementMatch.Element}
	}

	if handlerMatch.Handler != nil {
		if out := r.callRender(ctx, handlerMatch.Handler, ann, coords); out.answered() {
			res := RenderResult{Match: location.MatchExact, Coordinates: out.pos.Coordinates, Element: out.pos.Element}
			if res.Element == nil && elementMatch.Found() {
				res.Element = elementMatch.Element
			}
			return res
		}
	}

	if !strict && elementMatch.Found() {
		return RenderResult{Match: location.MatchMaybeStale, Element: elementMatch.Element}
	}

	return RenderResult{Match: location.MatchNone}
}

package resolver

import (
	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/location"
)

// DocumentRect converts a viewport-relative rect to document coordinates.
func DocumentRect(doc dom.Document, r dom.Rect) dom.Rect {
	s := doc.Scroll()
	return r.Translate(s.X, s.Y)
}

// DocumentCoordinates resolves c against ref, a document-space box. Without
// a reference element the box is the viewport and the result is used as
// document coordinates directly.
func DocumentCoordinates(doc dom.Document, c annotation.Coordinates, ref *dom.Rect) dom.Point {
	if ref == nil {
		vp := doc.Viewport()
		return dom.Point{X: c.X.Resolve(vp.Width), Y: c.Y.Resolve(vp.Height)}
	}
	return dom.Point{
		X: ref.Left + c.X.Resolve(ref.Width),
		Y: ref.Top + c.Y.Resolve(ref.Height),
	}
}

// Absolute turns a RenderResult into document and viewport points. An element
// without coordinates is pinned at its centre. A removed element reads as a
// zero rect and yields a degenerate but valid position.
func Absolute(doc dom.Document, res RenderResult) Position {
	pos := Position{Match: res.Match, Element: res.Element}
	if res.Match == location.MatchNone {
		return pos
	}

	var ref *dom.Rect
	if res.Element != nil {
		r := DocumentRect(doc, res.Element.Rect())
		ref = &r
		pos.ElementRect = &r
		pos.ElementPath = res.Element.Path()
	}

	c := center
	if res.Coordinates != nil {
		c = *res.Coordinates
	} else if res.Element == nil {
		return pos
	}

	p := DocumentCoordinates(doc, c, ref)
	s := doc.Scroll()
	pos.Document = &p
	pos.Viewport = &dom.Point{X: p.X - s.X, Y: p.Y - s.Y}
	return pos
}

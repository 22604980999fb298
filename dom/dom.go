// Package dom defines the read-only view of a page that the matching and
// positioning engines need. Two implementations exist: htmldom (a parsed
// HTML tree with captured layout) and roddom (a live Chrome page over CDP).
//
// All geometry is in CSS pixels. Element rects are viewport-relative, like
// getBoundingClientRect; Scroll gives the page offset needed to turn them into
// document coordinates.
package dom

// Attribute names shared with the embedding page.
const (
	// LocationAttribute marks an element as an annotation target. Its value
	// is a JSON-serialized location.
	LocationAttribute = "data-cord-annotation-location"

	// ScreenshotTargetAttribute marks elements to screenshot instead of the
	// whole viewport.
	ScreenshotTargetAttribute = "data-cord-screenshot-target"

	// ScreenshotTempIDAttribute tags an original node and its clone so that a
	// finishing pass can find one from the other.
	ScreenshotTempIDAttribute = "data-cord-screenshot-temp-id"
)

// RedrawEventName is the custom event dispatched on document to force every
// position subscriber to recompute.
const RedrawEventName = "cord-redraw-annotations"

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is a bounding box. A removed element yields the zero Rect, which is
// treated as a normal (degenerate) position rather than an error.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.Left + r.Width }
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Contains reports whether p lies inside r (edges inclusive).
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Left && p.X <= r.Right() && p.Y >= r.Top && p.Y <= r.Bottom()
}

// Translate returns r moved by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	r.Left += dx
	r.Top += dy
	return r
}

// Element is a node of the current document.
type Element interface {
	TagName() string
	Attr(name string) (string, bool)
	// Rect is the viewport-relative bounding box at call time.
	Rect() Rect
	// Path is a stable structural address (XPath) inside its document.
	Path() string
}

// Document is the page being annotated. Implementations must answer every
// call from the document state at call time; callers never cache results
// across calls.
type Document interface {
	// QueryAttr returns, in document order, every element carrying the
	// attribute.
	QueryAttr(name string) []Element
	// Viewport is the visible area size.
	Viewport() Size
	// Scroll is the current page scroll offset.
	Scroll() Point
	// ElementFromPoint returns the topmost element at a viewport point, or
	// nil.
	ElementFromPoint(p Point) Element
	// ElementByPath resolves a Path previously returned by an Element, or nil.
	ElementByPath(path string) Element
}

// Closest walks el and its ancestors and returns the first one carrying attr.
// Only documents whose elements implement Parent can answer; others return
// el itself when it carries attr.
func Closest(el Element, attr string) Element {
	for el != nil {
		if _, ok := el.Attr(attr); ok {
			return el
		}
		p, ok := el.(interface{ ParentElement() Element })
		if !ok {
			return nil
		}
		el = p.ParentElement()
	}
	return nil
}

package dom

import "golang.org/x/net/html"

// NodeType distinguishes the node kinds a cloner can meet.
type NodeType int

const (
	TextNode NodeType = iota + 1
	ElementNode
	OtherNode
)

// Style is a computed-style snapshot: CSS property name → value.
type Style map[string]string

// Get returns the value of prop, or "" when unset.
func (s Style) Get(prop string) string {
	if s == nil {
		return ""
	}
	return s[prop]
}

// ScrollState describes an element's scroll box.
type ScrollState struct {
	ScrollLeft   float64 `json:"scroll_left"`
	ScrollTop    float64 `json:"scroll_top"`
	ScrollWidth  float64 `json:"scroll_width"`
	ScrollHeight float64 `json:"scroll_height"`
	ClientWidth  float64 `json:"client_width"`
	ClientHeight float64 `json:"client_height"`
}

// Scrolled reports whether the box is scrolled away from its origin.
func (s ScrollState) Scrolled() bool {
	return s.ScrollLeft != 0 || s.ScrollTop != 0
}

// Overflows reports whether the content is larger than the visible box.
func (s ScrollState) Overflows() bool {
	return s.ScrollHeight > s.ClientHeight || s.ScrollWidth > s.ClientWidth
}

// Frame is the content of an iframe as seen from its parent document.
type Frame struct {
	// SameOrigin frames expose their document; cross-origin ones only a src.
	SameOrigin bool
	Src        string
	// Root is the frame's <body> (nil for cross-origin frames).
	Root Node
	// Viewport is the frame's visible size.
	Viewport Size
}

// Node is the live-page view used by the screenshot cloner. Every method
// reads the original (attached) node; clones are produced separately.
type Node interface {
	NodeType() NodeType
	// TagName is lower-case for HTML and case-preserved for SVG.
	TagName() string
	// IsSVG reports whether the node lives in the SVG namespace.
	IsSVG() bool
	// Text returns the data of a text node.
	Text() string
	Attributes() []html.Attribute
	SetAttribute(key, val string)
	// ChildNodes returns the shadow root's children when the node hosts one,
	// its light children otherwise.
	ChildNodes() []Node
	ParentNode() Node
	// ComputedStyle may fail (detached node, exotic element); callers degrade
	// to a placeholder.
	ComputedStyle() (Style, error)
	BoundingRect() Rect
	ScrollState() ScrollState
	// CanvasDataURL is toDataURL() for <canvas>. A blank canvas yields
	// "data:,".
	CanvasDataURL() (string, error)
	// VideoFrameDataURL captures the current frame of a <video>.
	VideoFrameDataURL() (string, error)
	// Frame returns the iframe content for <iframe> nodes.
	Frame() (Frame, error)
}

// BlankCanvasDataURL is what browsers return from toDataURL on a canvas that
// cannot be exported or has zero size.
const BlankCanvasDataURL = "data:,"

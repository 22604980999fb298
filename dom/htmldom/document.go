// Package htmldom is a dom.Document built on golang.org/x/net/html with the
// layout a browser would have computed (rects, computed styles, scroll boxes,
// canvas and video pixels, iframe contents) attached to each element.
//
// Documents come from two places: roddom snapshots of a live page (see
// FromSnapshot) and hand-written fixtures in tests (Parse + SetLayout).
package htmldom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pinpoint/dom"
)

// NodeIDAttribute links elements of a snapshot's HTML to their captured
// layout. It is stripped when the document is built.
const NodeIDAttribute = "data-pinpoint-node"

// Layout is the browser-computed state of one element.
type Layout struct {
	Rect       dom.Rect        `json:"rect"`
	Style      dom.Style       `json:"style,omitempty"`
	StyleError string          `json:"style_error,omitempty"`
	Scroll     dom.ScrollState `json:"scroll"`
	Canvas     string          `json:"canvas,omitempty"`
	Video      string          `json:"video,omitempty"`
	VideoError string          `json:"video_error,omitempty"`
	Frame      *FrameSnapshot  `json:"frame,omitempty"`
}

// FrameSnapshot is the content of an iframe. Cross-origin frames carry no
// snapshot.
type FrameSnapshot struct {
	SameOrigin bool      `json:"same_origin"`
	Src        string    `json:"src,omitempty"`
	Snapshot   *Snapshot `json:"snapshot,omitempty"`
}

// Snapshot is the serialized form of a captured page.
type Snapshot struct {
	HTML     string            `json:"html"`
	Viewport dom.Size          `json:"viewport"`
	Scroll   dom.Point         `json:"scroll"`
	Nodes    map[string]Layout `json:"nodes"`
}

// Document is a parsed page plus layout. Safe for concurrent use: reads share
// a lock, layout and attribute updates take it exclusively.
type Document struct {
	mu       sync.RWMutex
	root     *html.Node
	layout   map[*html.Node]*Layout
	frames   map[*html.Node]*Document
	viewport dom.Size
	scroll   dom.Point
}

// Option configures a Document.
type Option func(*Document)

// WithViewport sets the visible area size.
func WithViewport(width, height float64) Option {
	return func(d *Document) { d.viewport = dom.Size{Width: width, Height: height} }
}

// WithScroll sets the page scroll offset.
func WithScroll(x, y float64) Option {
	return func(d *Document) { d.scroll = dom.Point{X: x, Y: y} }
}

// Parse reads an HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	d := &Document{
		root:     root,
		layout:   make(map[*html.Node]*Layout),
		frames:   make(map[*html.Node]*Document),
		viewport: dom.Size{Width: 1280, Height: 800},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// MustParse is Parse for fixtures; it panics on error.
func MustParse(src string, opts ...Option) *Document {
	d, err := Parse(strings.NewReader(src), opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// FromSnapshot builds a Document from a captured snapshot, recursively
// building same-origin iframe documents.
func FromSnapshot(s *Snapshot) (*Document, error) {
	if s == nil {
		return nil, fmt.Errorf("htmldom: nil snapshot")
	}
	d, err := Parse(strings.NewReader(s.HTML), WithViewport(s.Viewport.Width, s.Viewport.Height),
		WithScroll(s.Scroll.X, s.Scroll.Y))
	if err != nil {
		return nil, err
	}

	var linkErr error
	walkAll(d.root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		id, ok := attr(n, NodeIDAttribute)
		if !ok {
			return true
		}
		removeAttr(n, NodeIDAttribute)
		l, ok := s.Nodes[id]
		if !ok {
			return true
		}
		lc := l
		d.layout[n] = &lc
		if l.Frame != nil && l.Frame.SameOrigin && l.Frame.Snapshot != nil {
			fd, err := FromSnapshot(l.Frame.Snapshot)
			if err != nil {
				linkErr = fmt.Errorf("htmldom: frame %s: %w", l.Frame.Src, err)
				return false
			}
			d.frames[n] = fd
		}
		return true
	})
	if linkErr != nil {
		return nil, linkErr
	}
	return d, nil
}

// Root returns the <html> element.
func (d *Document) Root() *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return d.wrap(c)
		}
	}
	return nil
}

// Body returns the <body> element.
func (d *Document) Body() *Node {
	return d.QuerySelector("body")
}

// ByID returns the element with the given id attribute, or nil.
func (d *Document) ByID(id string) *Node {
	return d.QuerySelector("#" + id)
}

// SetLayout attaches browser-computed state to an element.
func (d *Document) SetLayout(n *Node, l Layout) {
	if n == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	lc := l
	d.layout[n.n] = &lc
}

// UpdateLayout mutates the layout of n in place.
func (d *Document) UpdateLayout(n *Node, fn func(*Layout)) {
	if n == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.layout[n.n]
	if !ok {
		l = &Layout{}
		d.layout[n.n] = l
	}
	fn(l)
}

// SetFrame attaches a same-origin document to an <iframe> element.
func (d *Document) SetFrame(n *Node, frame *Document) {
	if n == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames[n.n] = frame
	l, ok := d.layout[n.n]
	if !ok {
		l = &Layout{}
		d.layout[n.n] = l
	}
	src, _ := attr(n.n, "src")
	l.Frame = &FrameSnapshot{SameOrigin: frame != nil, Src: src}
}

// SetScroll moves the page scroll offset.
func (d *Document) SetScroll(x, y float64) {
	d.mu.Lock()
	d.scroll = dom.Point{X: x, Y: y}
	d.mu.Unlock()
}

// SetViewport changes the visible area size.
func (d *Document) SetViewport(width, height float64) {
	d.mu.Lock()
	d.viewport = dom.Size{Width: width, Height: height}
	d.mu.Unlock()
}

// Viewport implements dom.Document.
func (d *Document) Viewport() dom.Size {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.viewport
}

// Scroll implements dom.Document.
func (d *Document) Scroll() dom.Point {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scroll
}

// QueryAttr implements dom.Document. Shadow-root content is included, iframe
// content is not.
func (d *Document) QueryAttr(name string) []dom.Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []dom.Element
	walkAll(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if _, ok := attr(n, name); ok {
				out = append(out, d.wrap(n))
			}
		}
		return true
	})
	return out
}

// ElementFromPoint implements dom.Document: the last element in document
// order whose rect contains p and which is displayed.
func (d *Document) ElementFromPoint(p dom.Point) dom.Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var hit *html.Node
	walkAll(d.root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		l := d.layout[n]
		if l == nil {
			return true
		}
		if l.Style.Get("display") == "none" {
			return false
		}
		if l.Rect.Width <= 0 || l.Rect.Height <= 0 {
			return true
		}
		if l.Rect.Contains(p) {
			hit = n
		}
		return true
	})
	if hit == nil {
		return nil
	}
	return d.wrap(hit)
}

// ElementByPath implements dom.Document.
func (d *Document) ElementByPath(path string) dom.Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := resolvePath(d.root, path)
	if n == nil {
		return nil
	}
	return d.wrap(n)
}

// QuerySelectorAll returns elements matching a simple selector list.
func (d *Document) QuerySelectorAll(sel string) []*Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	matches := querySelectorAll(d.root, sel)
	out := make([]*Node, len(matches))
	for i, n := range matches {
		out[i] = d.wrap(n)
	}
	return out
}

// QuerySelector returns the first match of sel, or nil.
func (d *Document) QuerySelector(sel string) *Node {
	all := d.QuerySelectorAll(sel)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// Render serializes the document (layout is not included).
func (d *Document) Render(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return html.Render(w, d.root)
}

func (d *Document) wrap(n *html.Node) *Node {
	return &Node{doc: d, n: n}
}

// walkAll visits n and its descendants depth-first, in document order.
// Returning false from fn skips the node's subtree.
func walkAll(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkAll(c, fn)
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

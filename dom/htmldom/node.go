package htmldom

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pinpoint/dom"
)

// Node wraps an *html.Node of a Document. It implements dom.Element and
// dom.Node.
type Node struct {
	doc *Document
	n   *html.Node
}

var (
	_ dom.Element = (*Node)(nil)
	_ dom.Node    = (*Node)(nil)
)

// HTML returns the underlying parse-tree node.
func (e *Node) HTML() *html.Node { return e.n }

// Document returns the owning document.
func (e *Node) Document() *Document { return e.doc }

// Layout returns a copy of the captured layout and whether one exists.
func (e *Node) Layout() (Layout, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	l, ok := e.doc.layout[e.n]
	if !ok {
		return Layout{}, false
	}
	return *l, true
}

func (e *Node) NodeType() dom.NodeType {
	switch e.n.Type {
	case html.TextNode:
		return dom.TextNode
	case html.ElementNode:
		return dom.ElementNode
	default:
		return dom.OtherNode
	}
}

func (e *Node) TagName() string {
	if e.n.Type != html.ElementNode {
		return ""
	}
	if e.IsSVG() {
		return e.n.Data
	}
	return strings.ToLower(e.n.Data)
}

func (e *Node) IsSVG() bool { return e.n.Namespace == "svg" }

func (e *Node) Text() string {
	if e.n.Type != html.TextNode {
		return ""
	}
	return e.n.Data
}

func (e *Node) Attr(name string) (string, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return attr(e.n, name)
}

func (e *Node) Attributes() []html.Attribute {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	out := make([]html.Attribute, len(e.n.Attr))
	copy(out, e.n.Attr)
	return out
}

func (e *Node) SetAttribute(key, val string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setAttr(e.n, key, val)
}

// RemoveAttribute deletes key from the element.
func (e *Node) RemoveAttribute(key string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	removeAttr(e.n, key)
}

func (e *Node) Rect() dom.Rect { return e.BoundingRect() }

func (e *Node) BoundingRect() dom.Rect {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	if l, ok := e.doc.layout[e.n]; ok {
		return l.Rect
	}
	return dom.Rect{}
}

func (e *Node) Path() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return computePath(e.n)
}

// ChildNodes returns the shadow root content when the element hosts one.
// Inert <template> content is not exposed.
func (e *Node) ChildNodes() []dom.Node {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	parent := e.n
	if sr := shadowRoot(e.n); sr != nil {
		parent = sr
	} else if e.n.Type == html.ElementNode && e.n.Data == "template" {
		return nil
	}
	var out []dom.Node
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if isShadowTemplate(c) {
			continue
		}
		out = append(out, e.doc.wrap(c))
	}
	return out
}

// ParentNode crosses shadow boundaries: children of a shadow root report the
// host as their parent.
func (e *Node) ParentNode() dom.Node {
	p := e.parent()
	if p == nil {
		return nil
	}
	return p
}

// ParentElement is ParentNode restricted to elements, for dom.Closest.
func (e *Node) ParentElement() dom.Element {
	p := e.parent()
	if p == nil || p.n.Type != html.ElementNode {
		return nil
	}
	return p
}

func (e *Node) parent() *Node {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	p := e.n.Parent
	if p != nil && isShadowTemplate(p) {
		p = p.Parent
	}
	if p == nil {
		return nil
	}
	return e.doc.wrap(p)
}

func (e *Node) ComputedStyle() (dom.Style, error) {
	if e.n.Type != html.ElementNode {
		return nil, fmt.Errorf("htmldom: computed style of non-element %q", e.n.Data)
	}
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	l, ok := e.doc.layout[e.n]
	if !ok {
		return dom.Style{}, nil
	}
	if l.StyleError != "" {
		return nil, errors.New(l.StyleError)
	}
	return maps.Clone(l.Style), nil
}

func (e *Node) ScrollState() dom.ScrollState {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	if l, ok := e.doc.layout[e.n]; ok {
		return l.Scroll
	}
	return dom.ScrollState{}
}

func (e *Node) CanvasDataURL() (string, error) {
	if e.TagName() != "canvas" {
		return "", fmt.Errorf("htmldom: %s is not a canvas", e.TagName())
	}
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	l, ok := e.doc.layout[e.n]
	if !ok || l.Canvas == "" {
		return dom.BlankCanvasDataURL, nil
	}
	return l.Canvas, nil
}

func (e *Node) VideoFrameDataURL() (string, error) {
	if e.TagName() != "video" {
		return "", fmt.Errorf("htmldom: %s is not a video", e.TagName())
	}
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	l, ok := e.doc.layout[e.n]
	if !ok || (l.Video == "" && l.VideoError == "") {
		return "", errors.New("htmldom: no video frame captured")
	}
	if l.VideoError != "" {
		return "", errors.New(l.VideoError)
	}
	return l.Video, nil
}

func (e *Node) Frame() (dom.Frame, error) {
	if e.TagName() != "iframe" {
		return dom.Frame{}, fmt.Errorf("htmldom: %s is not an iframe", e.TagName())
	}
	e.doc.mu.RLock()
	src, _ := attr(e.n, "src")
	l := e.doc.layout[e.n]
	fd := e.doc.frames[e.n]
	e.doc.mu.RUnlock()

	if l != nil && l.Frame != nil && l.Frame.Src != "" {
		src = l.Frame.Src
	}
	if fd == nil {
		return dom.Frame{SameOrigin: false, Src: src}, nil
	}
	body := fd.Body()
	if body == nil {
		return dom.Frame{}, fmt.Errorf("htmldom: frame %s has no body", src)
	}
	return dom.Frame{SameOrigin: true, Src: src, Root: body, Viewport: fd.Viewport()}, nil
}

func (e *Node) String() string {
	if e.n.Type == html.TextNode {
		return fmt.Sprintf("#text(%q)", e.n.Data)
	}
	return e.Path()
}

func isShadowTemplate(n *html.Node) bool {
	if n.Type != html.ElementNode || n.Data != "template" {
		return false
	}
	_, ok := attr(n, "shadowrootmode")
	return ok
}

func shadowRoot(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isShadowTemplate(c) {
			return c
		}
	}
	return nil
}

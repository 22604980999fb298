package screenshot

import (
	"golang.org/x/net/html"

	"github.com/hazyhaar/pinpoint/dom"
)

type adjustKind int

const (
	adjustNone adjustKind = iota
	// adjustPosition rewrites top/left of an element positioned against the
	// document.
	adjustPosition
	// adjustMargin shifts the first visible child of a scrolled container.
	adjustMargin
)

// adjustment moves a clone to where its original was seen.
type adjustment struct {
	kind      adjustKind
	top, left float64
}

func (a adjustment) apply(n *html.Node) {
	switch a.kind {
	case adjustPosition:
		setStyleProp(n, "top", px(a.top), false)
		setStyleProp(n, "left", px(a.left), false)
	case adjustMargin:
		setStyleProp(n, "margin-top", px(a.top), false)
		setStyleProp(n, "margin-left", px(a.left), false)
	}
}

// positionedAgainstDocument reports whether n is laid out relative to the
// document rather than to an ancestor: fixed, or absolute with no
// positioned ancestor below <body>.
func positionedAgainstDocument(n dom.Node, sc *styleCapture) bool {
	switch sc.style.Get("position") {
	case "fixed":
		return true
	case "absolute":
	default:
		return false
	}
	for p := n.ParentNode(); p != nil; p = p.ParentNode() {
		if p.NodeType() != dom.ElementNode {
			continue
		}
		tag := p.TagName()
		if tag == "body" || tag == "html" {
			return true
		}
		st, err := p.ComputedStyle()
		if err != nil {
			continue
		}
		if pos := st.Get("position"); pos != "" && pos != "static" {
			return false
		}
	}
	return true
}

// scrollContainer rewrites the children of an element whose content is
// scrolled. The clone is rendered unscrolled, so children scrolled out of
// view are dropped and the first visible one is shifted up by a margin.
type scrollContainer struct {
	content  dom.Rect
	anchored bool
}

func scrollContainerFor(n dom.Node, sc *styleCapture) *scrollContainer {
	if !n.ScrollState().Scrolled() || !clipsOverflow(sc.style) {
		return nil
	}
	r := sc.rect
	top := parsePx(sc.style.Get("border-top-width")) + parsePx(sc.style.Get("padding-top"))
	left := parsePx(sc.style.Get("border-left-width")) + parsePx(sc.style.Get("padding-left"))
	bottom := parsePx(sc.style.Get("border-bottom-width")) + parsePx(sc.style.Get("padding-bottom"))
	right := parsePx(sc.style.Get("border-right-width")) + parsePx(sc.style.Get("padding-right"))
	return &scrollContainer{content: dom.Rect{
		Left:   r.Left + left,
		Top:    r.Top + top,
		Width:  max(r.Width-left-right, 0),
		Height: max(r.Height-top-bottom, 0),
	}}
}

func clipsOverflow(st dom.Style) bool {
	for _, p := range []string{"overflow", "overflow-x", "overflow-y"} {
		switch st.Get(p) {
		case "auto", "scroll", "hidden", "clip", "overlay":
			return true
		}
	}
	return false
}

// shouldClone drops children lying entirely past the visible box, and
// children entirely before it unless their own content spills into view.
func (s *scrollContainer) shouldClone(child dom.Node, sc *styleCapture) bool {
	r := sc.rect
	if r.Top >= s.content.Bottom() || r.Left >= s.content.Right() {
		return false
	}
	before := r.Bottom() <= s.content.Top || r.Right() <= s.content.Left
	if before && !child.ScrollState().Overflows() {
		return false
	}
	return true
}

// childAdjustment returns the margin shift for the first visible in-flow
// child and nothing for the others.
func (s *scrollContainer) childAdjustment(sc *styleCapture) adjustment {
	if s.anchored {
		return adjustment{}
	}
	switch sc.style.Get("position") {
	case "absolute", "fixed":
		return adjustment{}
	}
	s.anchored = true
	return adjustment{
		kind: adjustMargin,
		top:  sc.rect.Top - s.content.Top,
		left: sc.rect.Left - s.content.Left,
	}
}

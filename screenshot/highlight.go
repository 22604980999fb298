package screenshot

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pinpoint/annotation"
)

// DefaultHighlightColor paints highlighted text on screenshots.
const DefaultHighlightColor = "rgba(123, 97, 255, 0.35)"

// HighlightAttribute marks the spans wrapping highlighted text in a clone.
const HighlightAttribute = "data-cord-screenshot-highlight"

var errHighlightRange = errors.New("screenshot: highlight: range not in clone")

// cloneOf returns the clone of the original element at path, or nil when
// it was not cloned. Originals that cannot report a path never match.
func (c *ElementCloner) cloneOf(path string) *html.Node {
	if path == "" {
		return nil
	}
	tag := path[strings.LastIndexByte(path, '/')+1:]
	if i := strings.IndexByte(tag, '['); i >= 0 {
		tag = tag[:i]
	}
	for _, e := range c.elements {
		if !strings.EqualFold(e.original.TagName(), tag) {
			continue
		}
		p, ok := e.original.(interface{ Path() string })
		if ok && p.Path() == path {
			return e.clone
		}
	}
	return nil
}

// textChild returns the cloned text node that was child number idx of the
// original element.
func (c *ElementCloner) textChild(el *html.Node, idx int) *html.Node {
	for k := el.FirstChild; k != nil; k = k.NextSibling {
		if i, ok := c.texts[k]; ok && i == idx {
			return k
		}
	}
	return nil
}

// highlight wraps the selected range of cfg in coloured spans. Offsets are
// UTF-16 code units, as the page reported them.
func (c *ElementCloner) highlight(cfg *annotation.HighlightedTextConfig, color string) error {
	startEl, endEl := c.cloneOf(cfg.StartElementXPath), c.cloneOf(cfg.EndElementXPath)
	if startEl == nil || endEl == nil {
		return fmt.Errorf("%w: %s .. %s", errHighlightRange, cfg.StartElementXPath, cfg.EndElementXPath)
	}
	start, end := c.textChild(startEl, cfg.StartNodeIndex), c.textChild(endEl, cfg.EndNodeIndex)
	if start == nil || end == nil {
		return fmt.Errorf("%w: text node %d or %d missing", errHighlightRange, cfg.StartNodeIndex, cfg.EndNodeIndex)
	}

	root := start
	for root.Parent != nil {
		root = root.Parent
	}
	var nodes []*html.Node
	inRange, done := false, false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for k := n.FirstChild; k != nil && !done; k = k.NextSibling {
			if k.Type == html.TextNode {
				if k == start {
					inRange = true
				}
				if inRange && k.Parent.Namespace == "" {
					nodes = append(nodes, k)
				}
				if k == end {
					done = true
				}
				continue
			}
			walk(k)
		}
	}
	walk(root)
	if !inRange || !done {
		return fmt.Errorf("%w: end precedes start", errHighlightRange)
	}

	for _, n := range nodes {
		from, to := 0, len(n.Data)
		if n == start {
			from = utf16Offset(n.Data, cfg.StartNodeOffset)
		}
		if n == end {
			to = utf16Offset(n.Data, cfg.EndNodeOffset)
		}
		if from < to {
			wrapText(n, from, to, color)
		}
	}
	return nil
}

// wrapText splits n so that n.Data[from:to] sits in a highlight span.
func wrapText(n *html.Node, from, to int, color string) {
	text := n.Data
	span := newElement("span")
	setAttr(span, HighlightAttribute, "")
	setStyleProp(span, "background-color", color, false)
	span.AppendChild(&html.Node{Type: html.TextNode, Data: text[from:to]})

	parent, next := n.Parent, n.NextSibling
	if from > 0 {
		n.Data = text[:from]
		parent.InsertBefore(span, next)
	} else {
		parent.InsertBefore(span, n)
		parent.RemoveChild(n)
	}
	if to < len(text) {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text[to:]}, next)
	}
}

// utf16Offset converts an offset in UTF-16 code units into a byte offset
// of s, clamped to its bounds.
func utf16Offset(s string, units int) int {
	if units <= 0 {
		return 0
	}
	n := 0
	for i, r := range s {
		if n >= units {
			return i
		}
		n += utf16.RuneLen(r)
	}
	return len(s)
}

// highlight applies cfg to the roots of cl. A nil cfg is a no-op.
func (cl *Clone) highlight(cfg *annotation.HighlightedTextConfig, color string) error {
	if cfg == nil {
		return nil
	}
	return cl.cloner.highlight(cfg, color)
}

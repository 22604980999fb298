package screenshot

import "github.com/hazyhaar/pinpoint/dom"

// Kind is the clone strategy selected for a node.
type Kind int

const (
	KindSkip Kind = iota
	KindText
	KindElement
	KindIframe
	KindPicture
	KindVideo
	KindCanvas
	KindSvg
)

var kindNames = [...]string{"skip", "text", "element", "iframe", "picture", "video", "canvas", "svg"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Filter reports whether a node should be cloned. Rejected nodes are
// dropped with their subtree.
type Filter func(dom.Node) bool

// Classify selects the strategy for n. Comments, doctypes, scripts and
// filtered nodes are skipped.
func Classify(n dom.Node, keep Filter) Kind {
	switch n.NodeType() {
	case dom.TextNode:
		return KindText
	case dom.ElementNode:
	default:
		return KindSkip
	}

	tag := n.TagName()
	if tag == "script" || tag == "noscript" || (keep != nil && !keep(n)) {
		return KindSkip
	}
	if n.IsSVG() {
		if tag == "svg" {
			return KindSvg
		}
		return KindElement
	}
	switch tag {
	case "iframe":
		return KindIframe
	case "picture":
		return KindPicture
	case "video":
		return KindVideo
	case "canvas":
		return KindCanvas
	}
	return KindElement
}

package htmldom

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// computePath returns an XPath-like address for an element:
// /html/body/div[2]/shadow-root/span. The [n] index is only emitted when the
// parent has more than one child with the same tag.
func computePath(n *html.Node) string {
	if n == nil || n.Type == html.DocumentNode {
		return ""
	}
	if n.Type != html.ElementNode {
		p := computePath(n.Parent)
		if n.Type == html.TextNode {
			return p + "/text()"
		}
		return p
	}

	parent := n.Parent
	var parentPath string
	switch {
	case parent == nil:
	case isShadowTemplate(parent):
		parentPath = computePath(parent.Parent) + "/shadow-root"
	default:
		parentPath = computePath(parent)
	}

	name := strings.ToLower(n.Data)
	if parent == nil {
		return parentPath + "/" + name
	}

	idx, total := 0, 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || isShadowTemplate(c) || strings.ToLower(c.Data) != name {
			continue
		}
		total++
		if c == n {
			idx = total
		}
	}
	if total > 1 {
		return fmt.Sprintf("%s/%s[%d]", parentPath, name, idx)
	}
	return parentPath + "/" + name
}

// resolvePath is the inverse of computePath. It returns nil when any step
// does not exist in the current tree.
func resolvePath(root *html.Node, path string) *html.Node {
	if !strings.HasPrefix(path, "/") {
		return nil
	}
	cur := root
	for _, seg := range strings.Split(path[1:], "/") {
		if seg == "" {
			return nil
		}
		if seg == "shadow-root" {
			cur = shadowRoot(cur)
			if cur == nil {
				return nil
			}
			continue
		}
		name, idx, ok := parseStep(seg)
		if !ok {
			return nil
		}
		var next *html.Node
		seen := 0
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || isShadowTemplate(c) || strings.ToLower(c.Data) != name {
				continue
			}
			seen++
			if seen == idx {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	if cur == root {
		return nil
	}
	return cur
}

func parseStep(seg string) (name string, idx int, ok bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, 1, true
	}
	if !strings.HasSuffix(seg, "]") {
		return "", 0, false
	}
	n, err := strconv.Atoi(seg[open+1 : len(seg)-1])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return seg[:open], n, true
}

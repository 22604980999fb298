package htmldom

import (
	"strings"

	"golang.org/x/net/html"
)

// querySelectorAll supports a small CSS subset, enough for host-configured
// selectors like ".monaco-editor .view-lines" or "div[data-cord-screenshot-target]":
//   - tag, .class, #id, tag.class, tag#id
//   - [attr] and [attr=val]
//   - descendant combinator (space)
//   - selector lists separated by commas
//
// Results are in document order without duplicates.
func querySelectorAll(root *html.Node, selector string) []*html.Node {
	var out []*html.Node
	seen := make(map[*html.Node]bool)
	for _, sel := range strings.Split(selector, ",") {
		for _, n := range queryDescendants(root, strings.Fields(sel)) {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	if len(out) < 2 || !strings.Contains(selector, ",") {
		return out
	}
	// Restore document order across the list.
	order := make(map[*html.Node]int, len(out))
	i := 0
	walkAll(root, func(n *html.Node) bool {
		if seen[n] {
			order[n] = i
			i++
		}
		return true
	})
	sorted := make([]*html.Node, len(out))
	for _, n := range out {
		sorted[order[n]] = n
	}
	return sorted
}

func queryDescendants(root *html.Node, parts []string) []*html.Node {
	if len(parts) == 0 {
		return nil
	}
	matches := matchSimple(root, parseSimpleSelector(parts[0]), true)
	for _, part := range parts[1:] {
		sel := parseSimpleSelector(part)
		seen := make(map[*html.Node]bool)
		var next []*html.Node
		for _, ancestor := range matches {
			for _, n := range matchSimple(ancestor, sel, false) {
				if !seen[n] {
					seen[n] = true
					next = append(next, n)
				}
			}
		}
		matches = next
	}
	return matches
}

// matchSimple returns the descendants of root matching sel, root included
// when self is set.
func matchSimple(root *html.Node, sel simpleSelector, self bool) []*html.Node {
	var results []*html.Node
	walkAll(root, func(n *html.Node) bool {
		if (self || n != root) && sel.matches(n) {
			results = append(results, n)
		}
		return true
	})
	return results
}

type simpleSelector struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
	hasVal  bool
}

func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector

	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimSuffix(sel[idx+1:], "]")
		sel = sel[:idx]
		if eq := strings.IndexByte(attrPart, '='); eq >= 0 {
			s.attrKey = attrPart[:eq]
			s.attrVal = strings.Trim(attrPart[eq+1:], `"'`)
			s.hasVal = true
		} else {
			s.attrKey = attrPart
		}
	}

	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		rest := sel[idx+1:]
		sel = sel[:idx]
		if dot := strings.IndexByte(rest, '.'); dot >= 0 {
			sel += rest[dot:]
			rest = rest[:dot]
		}
		s.id = rest
	}

	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		s.classes = strings.Split(sel[idx+1:], ".")
		sel = sel[:idx]
	}

	if sel != "*" {
		s.tag = strings.ToLower(sel)
	}
	return s
}

func (s simpleSelector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && strings.ToLower(n.Data) != s.tag {
		return false
	}
	if s.id != "" {
		if v, _ := attr(n, "id"); v != s.id {
			return false
		}
	}
	if len(s.classes) > 0 {
		v, _ := attr(n, "class")
		have := strings.Fields(v)
		for _, want := range s.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	if s.attrKey != "" {
		v, ok := attr(n, s.attrKey)
		if !ok || (s.hasVal && v != s.attrVal) {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

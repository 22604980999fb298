package screenshot

import (
	"slices"
	"strconv"
	"strings"

	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"

	"github.com/hazyhaar/pinpoint/dom"
)

// styleCapture is what the cloner reads from an original element before
// creating its clone.
type styleCapture struct {
	style        dom.Style
	rect         dom.Rect
	offScreen    bool
	takesNoSpace bool
}

func captureStyle(n dom.Node, viewport dom.Size) (*styleCapture, error) {
	st, err := n.ComputedStyle()
	if err != nil {
		return nil, err
	}
	r := n.BoundingRect()
	return &styleCapture{
		style:        st,
		rect:         r,
		takesNoSpace: r.Width == 0 && r.Height == 0,
		offScreen: r.Bottom() < 0 || r.Right() < 0 ||
			r.Top > viewport.Height || r.Left > viewport.Width,
	}, nil
}

func (sc *styleCapture) hidden() bool {
	return sc.style.Get("display") == "none"
}

// decorate freezes the captured computed style onto the clone as its inline
// style, replacing whatever the original carried.
func (sc *styleCapture) decorate(clone *html.Node) {
	props := make([]string, 0, len(sc.style))
	for p, v := range sc.style {
		if v != "" {
			props = append(props, p)
		}
	}
	slices.Sort(props)
	decls := make([]declaration, len(props))
	for i, p := range props {
		v, imp := splitImportant(sc.style[p])
		decls[i] = declaration{prop: p, value: v, important: imp}
	}
	setAttr(clone, "style", formatDeclarations(decls))
}

type declaration struct {
	prop      string
	value     string
	important bool
}

// parseDeclarations reads an inline style attribute. Semicolons inside
// strings and url(...) tokens stay part of their value.
func parseDeclarations(s string) []declaration {
	s = strings.TrimRight(strings.TrimSpace(s), "; ")
	if s == "" {
		return nil
	}
	// The parser only closes a declaration on ';' or '}'.
	decls, err := parser.ParseDeclarations(s + ";")
	if err != nil && len(decls) == 0 {
		return nil
	}
	out := make([]declaration, 0, len(decls))
	for _, d := range decls {
		prop := strings.ToLower(strings.TrimSpace(d.Property))
		if prop == "" {
			continue
		}
		out = append(out, declaration{prop: prop, value: d.Value, important: d.Important})
	}
	return out
}

func splitImportant(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if before, ok := strings.CutSuffix(v, "!important"); ok {
		return strings.TrimSpace(before), true
	}
	return v, false
}

func formatDeclarations(decls []declaration) string {
	var b strings.Builder
	for i, d := range decls {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(d.prop)
		b.WriteString(": ")
		b.WriteString(d.value)
		if d.important {
			b.WriteString(" !important")
		}
		b.WriteByte(';')
	}
	return b.String()
}

// styleProp reads one inline style property of a clone.
func styleProp(n *html.Node, prop string) string {
	s, _ := getAttr(n, "style")
	for _, d := range parseDeclarations(s) {
		if d.prop == prop {
			return d.value
		}
	}
	return ""
}

// setStyleProp sets or replaces one inline style property of a clone.
func setStyleProp(n *html.Node, prop, value string, important bool) {
	s, _ := getAttr(n, "style")
	decls := parseDeclarations(s)
	d := declaration{prop: prop, value: value, important: important}
	if i := slices.IndexFunc(decls, func(x declaration) bool { return x.prop == prop }); i >= 0 {
		decls[i] = d
	} else {
		decls = append(decls, d)
	}
	setAttr(n, "style", formatDeclarations(decls))
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

// parsePx reads a CSS pixel length; anything else is 0.
func parsePx(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "px"), 64)
	if err != nil {
		return 0
	}
	return f
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	n.Attr = slices.DeleteFunc(n.Attr, func(a html.Attribute) bool {
		return a.Namespace == "" && a.Key == key
	})
}

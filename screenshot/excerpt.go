package screenshot

import (
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
)

// ExcerptLimit bounds the text excerpt attached to a screenshot.
const ExcerptLimit = 500

var excerptConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// Excerpt renders the visible text of a clone tree as Markdown, cut at
// ExcerptLimit runes. It serves as alt text for the screenshot.
func Excerpt(root *html.Node) (string, error) {
	var b strings.Builder
	if err := html.Render(&b, stripForExcerpt(root)); err != nil {
		return "", err
	}
	md, err := excerptConverter.ConvertString(b.String())
	if err != nil {
		return "", err
	}
	return truncateRunes(strings.TrimSpace(md), ExcerptLimit), nil
}

// stripForExcerpt copies the tree without data-URL images; their payload
// would drown the text.
func stripForExcerpt(n *html.Node) *html.Node {
	cp := &html.Node{Type: n.Type, Data: n.Data, DataAtom: n.DataAtom, Namespace: n.Namespace}
	for _, a := range n.Attr {
		if a.Key == "style" || strings.HasPrefix(a.Val, "data:") {
			continue
		}
		cp.Attr = append(cp.Attr, a)
	}
	if n.Type == html.ElementNode && n.Data == "img" {
		if _, ok := getAttr(cp, "src"); !ok {
			return &html.Node{Type: html.TextNode}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		cp.AppendChild(stripForExcerpt(c))
	}
	return cp
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "…"
}

package screenshot

import (
	"context"
	"encoding/xml"
	"io"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/dom/htmldom"
)

func TestElementsToSVG_Viewport(t *testing.T) {
	doc := htmldom.MustParse(`<html><body><p>hello</p></body></html>`, htmldom.WithViewport(400, 300), htmldom.WithScroll(0, 300))
	src := SourceFromDocument(doc)
	src.BackgroundColor = "rgb(1, 2, 3)"

	dc, err := NewDocumentCloner(DocumentClonerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	svgs, err := dc.ElementsToSVG(context.Background(), src, []dom.Node{src.Body}, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(svgs) != 1 {
		t.Fatalf("svgs: %d", len(svgs))
	}
	s := svgs[0]
	if s.Width != 400 || s.Height != 300 {
		t.Errorf("size: %vx%v", s.Width, s.Height)
	}
	for _, want := range []string{
		`<svg xmlns="http://www.w3.org/2000/svg" width="400" height="300">`,
		`<foreignObject width="400" height="300" x="0" y="0" externalResourcesRequired="true">`,
		`xmlns="http://www.w3.org/1999/xhtml"`,
		`background-color: rgb(1, 2, 3);`,
		`margin-top: -300px;`,
		`hello`,
	} {
		if !strings.Contains(s.Markup, want) {
			t.Errorf("markup lacks %q:\n%s", want, s.Markup)
		}
	}
}

func TestElementsToSVG_DefaultBackground(t *testing.T) {
	doc := htmldom.MustParse(`<html><body></body></html>`)
	dc, err := NewDocumentCloner(DocumentClonerConfig{Options: Options{BackgroundColor: "#123456"}})
	if err != nil {
		t.Fatal(err)
	}
	src := SourceFromDocument(doc)
	svgs, err := dc.ElementsToSVG(context.Background(), src, []dom.Node{src.Body}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(svgs[0].Markup, "background-color: #123456;") {
		t.Errorf("fallback background missing:\n%s", svgs[0].Markup)
	}
}

func TestElementsToSVG_Crop(t *testing.T) {
	doc := htmldom.MustParse(`<html><body><p>x</p></body></html>`)
	crop := dom.Rect{Left: 10, Top: 20, Width: 100, Height: 50}
	dc, err := NewDocumentCloner(DocumentClonerConfig{Options: Options{CropRectangle: &crop}})
	if err != nil {
		t.Fatal(err)
	}
	src := SourceFromDocument(doc)
	svgs, err := dc.ElementsToSVG(context.Background(), src, []dom.Node{src.Body}, true)
	if err != nil {
		t.Fatal(err)
	}
	want := `<svg xmlns="http://www.w3.org/2000/svg" width="100" height="50"><foreignObject width="110" height="70" x="-10" y="-20"`
	if !strings.HasPrefix(svgs[0].Markup, want) {
		t.Errorf("crop:\n%s", svgs[0].Markup)
	}
}

func TestElementsToSVG_Targets(t *testing.T) {
	doc := htmldom.MustParse(`<html><body><div id="a" data-cord-screenshot-target>one</div><div id="b" data-cord-screenshot-target>two</div></body></html>`)
	set(doc, "a", dom.Rect{Left: 5, Top: 5, Width: 200, Height: 100}, dom.Style{})
	set(doc, "b", dom.Rect{Top: 120, Width: 50, Height: 40}, dom.Style{})

	src := SourceFromDocument(doc)
	if len(src.Targets) != 2 {
		t.Fatalf("targets: %d", len(src.Targets))
	}
	dc, err := NewDocumentCloner(DocumentClonerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	svgs, err := dc.ElementsToSVG(context.Background(), src, src.Targets, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(svgs) != 2 {
		t.Fatalf("svgs: %d", len(svgs))
	}
	if svgs[0].Width != 200 || svgs[0].Height != 100 || svgs[1].Width != 50 || svgs[1].Height != 40 {
		t.Errorf("sizes: %+v %+v", svgs[0].Width, svgs[1].Width)
	}
	if strings.Contains(svgs[0].Markup, "margin-top") {
		t.Error("element screenshots are not shifted by the page scroll")
	}
}

func TestElementsToSVG_NoTargets(t *testing.T) {
	dc, err := NewDocumentCloner(DocumentClonerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dc.ElementsToSVG(context.Background(), Source{}, nil, true); err == nil {
		t.Error("expected an error without targets")
	}
}

func TestRemoveInvalidSVGs(t *testing.T) {
	root := newElement("div")
	good := &html.Node{Type: html.ElementNode, Data: "svg", Namespace: "svg"}
	good.AppendChild(&html.Node{Type: html.ElementNode, Data: "circle", Namespace: "svg"})
	bad := &html.Node{Type: html.ElementNode, Data: "svg", Namespace: "svg"}
	bad.AppendChild(&html.Node{Type: html.TextNode, Data: "\x01"})
	root.AppendChild(good)
	root.AppendChild(bad)

	removeInvalidSVGs(root)

	if root.FirstChild != good || good.NextSibling != nil {
		t.Fatal("only the malformed svg should be removed")
	}
	if v, _ := getAttr(good, "xmlns"); v != svgNS {
		t.Errorf("xmlns: %q", v)
	}
	if v, _ := getAttr(good, "xmlns:xlink"); v != xlinkNS {
		t.Errorf("xmlns:xlink: %q", v)
	}
}

func TestStyleDeclarations(t *testing.T) {
	n := newElement("div")
	setAttr(n, "style", `background-image: url("data:image/png;base64,AAAA"); color: red !important;`)

	if got := styleProp(n, "background-image"); got != `url("data:image/png;base64,AAAA")` {
		t.Errorf("background-image: %q", got)
	}
	setStyleProp(n, "margin-top", "-4px", false)
	setStyleProp(n, "color", "blue", false)

	want := `background-image: url("data:image/png;base64,AAAA"); color: blue; margin-top: -4px;`
	if got, _ := getAttr(n, "style"); got != want {
		t.Errorf("style:\n got %q\nwant %q", got, want)
	}
}

func TestComposeSVG_StyleText(t *testing.T) {
	root := newElement("div")
	st := newElement("style")
	st.AppendChild(textNode(`a::after { content: "&<" } b::before { content: "]]>" }`))
	root.AppendChild(st)
	p := newElement("p")
	p.AppendChild(textNode("a < b & c"))
	root.AppendChild(p)

	out, err := composeSVG(root, dom.Rect{Width: 10, Height: 10})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "<![CDATA[") {
		t.Errorf("style text not wrapped:\n%s", out)
	}
	dec := xml.NewDecoder(strings.NewReader(out))
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("svg is not well-formed: %v\n%s", err, out)
		}
		if cd, ok := tok.(xml.CharData); ok {
			text.Write(cd)
		}
	}
	if !strings.Contains(text.String(), `content: "&<"`) || !strings.Contains(text.String(), `content: "]]>"`) {
		t.Errorf("style text altered: %q", text.String())
	}
}

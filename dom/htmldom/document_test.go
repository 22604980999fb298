package htmldom

import (
	"testing"

	"github.com/hazyhaar/pinpoint/dom"
)

const fixture = `<!DOCTYPE html><html><head><title>t</title></head><body>
<div id="a" class="card wide"><span>one</span><span id="two">two</span></div>
<div id="b" data-cord-annotation-location='{"page":"x"}'>
  <p id="inner">hello</p>
</div>
<section id="host"><template shadowrootmode="open"><em id="shadowed">s</em></template><i>light</i></section>
<script>var x = 1;</script>
</body></html>`

func TestPath_RoundTrip(t *testing.T) {
	doc := MustParse(fixture)
	for _, id := range []string{"a", "two", "inner", "b", "shadowed"} {
		n := doc.ByID(id)
		if n == nil {
			t.Fatalf("ByID(%q) = nil", id)
		}
		p := n.Path()
		got := doc.ElementByPath(p)
		if got == nil {
			t.Fatalf("ElementByPath(%q) = nil", p)
		}
		if got.(*Node).HTML() != n.HTML() {
			t.Errorf("ElementByPath(%q) resolved to another element", p)
		}
	}
}

func TestPath_Format(t *testing.T) {
	doc := MustParse(fixture)
	tests := []struct {
		id   string
		want string
	}{
		{"a", "/html/body/div[1]"},
		{"two", "/html/body/div[1]/span[2]"},
		{"inner", "/html/body/div[2]/p"},
		{"shadowed", "/html/body/section/shadow-root/em"},
	}
	for _, tt := range tests {
		if got := doc.ByID(tt.id).Path(); got != tt.want {
			t.Errorf("Path(#%s): got %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestElementByPath_Missing(t *testing.T) {
	doc := MustParse(fixture)
	for _, p := range []string{"", "html", "/html/body/div[9]", "/html/body/table", "/html/body/div[x]", "/html/body/div[1]/shadow-root"} {
		if el := doc.ElementByPath(p); el != nil {
			t.Errorf("ElementByPath(%q): expected nil, got %v", p, el)
		}
	}
}

func TestQuerySelectorAll(t *testing.T) {
	doc := MustParse(fixture)
	tests := []struct {
		sel  string
		want int
	}{
		{"div", 2},
		{"div.card", 1},
		{".card.wide", 1},
		{"#two", 1},
		{"div span", 2},
		{"div#a span#two", 1},
		{"[data-cord-annotation-location]", 1},
		{"div[id=b] p", 1},
		{"span, p", 3},
		{"body div", 2},
		{"table", 0},
	}
	for _, tt := range tests {
		if got := len(doc.QuerySelectorAll(tt.sel)); got != tt.want {
			t.Errorf("QuerySelectorAll(%q): got %d, want %d", tt.sel, got, tt.want)
		}
	}

	list := doc.QuerySelectorAll("p, span")
	if len(list) != 3 || list[2].Path() != "/html/body/div[2]/p" {
		t.Errorf("selector list should be in document order, got %v", list)
	}
}

func TestQueryAttr(t *testing.T) {
	doc := MustParse(fixture)
	els := doc.QueryAttr(dom.LocationAttribute)
	if len(els) != 1 {
		t.Fatalf("QueryAttr: got %d elements, want 1", len(els))
	}
	v, _ := els[0].Attr(dom.LocationAttribute)
	if v != `{"page":"x"}` {
		t.Errorf("attribute value: got %q", v)
	}
}

func TestElementFromPoint(t *testing.T) {
	doc := MustParse(fixture)
	doc.SetLayout(doc.Body(), Layout{Rect: dom.Rect{Width: 1000, Height: 1000}})
	doc.SetLayout(doc.ByID("b"), Layout{Rect: dom.Rect{Left: 0, Top: 100, Width: 500, Height: 200}})
	doc.SetLayout(doc.ByID("inner"), Layout{Rect: dom.Rect{Left: 10, Top: 110, Width: 100, Height: 20}})
	doc.SetLayout(doc.ByID("a"), Layout{
		Rect:  dom.Rect{Left: 0, Top: 0, Width: 500, Height: 50},
		Style: dom.Style{"display": "none"},
	})

	if el := doc.ElementFromPoint(dom.Point{X: 20, Y: 115}); el == nil || el.Path() != "/html/body/div[2]/p" {
		t.Errorf("deepest element expected, got %v", el)
	}
	if el := doc.ElementFromPoint(dom.Point{X: 400, Y: 250}); el == nil || el.Path() != "/html/body/div[2]" {
		t.Errorf("container expected, got %v", el)
	}
	if el := doc.ElementFromPoint(dom.Point{X: 20, Y: 20}); el == nil || el.Path() != "/html/body" {
		t.Errorf("display:none must be skipped, got %v", el)
	}
	if el := doc.ElementFromPoint(dom.Point{X: 5000, Y: 5000}); el != nil {
		t.Errorf("outside everything: got %v", el)
	}
}

func TestClosest(t *testing.T) {
	doc := MustParse(fixture)
	got := dom.Closest(doc.ByID("inner"), dom.LocationAttribute)
	if got == nil || got.Path() != "/html/body/div[2]" {
		t.Errorf("Closest: got %v", got)
	}
	if dom.Closest(doc.ByID("two"), dom.LocationAttribute) != nil {
		t.Error("Closest: expected nil outside any target")
	}
}

func TestChildNodes_ShadowAndTemplate(t *testing.T) {
	doc := MustParse(fixture)
	host := doc.ByID("host")
	kids := host.ChildNodes()
	if len(kids) != 1 || kids[0].TagName() != "em" {
		t.Fatalf("shadow host should expose its shadow children, got %d", len(kids))
	}
	if p := kids[0].ParentNode(); p == nil || p.TagName() != "section" {
		t.Errorf("shadow child parent should be the host, got %v", p)
	}
}

func TestComputedStyle(t *testing.T) {
	doc := MustParse(fixture)
	a := doc.ByID("a")
	doc.SetLayout(a, Layout{Style: dom.Style{"color": "red"}})
	s, err := a.ComputedStyle()
	if err != nil {
		t.Fatal(err)
	}
	s["color"] = "blue"
	again, _ := a.ComputedStyle()
	if again.Get("color") != "red" {
		t.Error("ComputedStyle must return a copy")
	}

	doc.UpdateLayout(a, func(l *Layout) { l.StyleError = "detached" })
	if _, err := a.ComputedStyle(); err == nil {
		t.Error("expected style error")
	}
}

func TestFromSnapshot(t *testing.T) {
	snap := &Snapshot{
		HTML:     `<html><body data-pinpoint-node="1"><iframe data-pinpoint-node="2" src="/frame"></iframe><canvas data-pinpoint-node="3"></canvas></body></html>`,
		Viewport: dom.Size{Width: 800, Height: 600},
		Scroll:   dom.Point{X: 0, Y: 40},
		Nodes: map[string]Layout{
			"1": {Rect: dom.Rect{Width: 800, Height: 2000}},
			"2": {
				Rect: dom.Rect{Left: 10, Top: 10, Width: 300, Height: 200},
				Frame: &FrameSnapshot{SameOrigin: true, Src: "/frame", Snapshot: &Snapshot{
					HTML:     `<html><body data-pinpoint-node="1"><b>inside</b></body></html>`,
					Viewport: dom.Size{Width: 300, Height: 200},
					Nodes:    map[string]Layout{"1": {Rect: dom.Rect{Width: 300, Height: 200}}},
				}},
			},
			"3": {Canvas: "data:image/png;base64,AAAA"},
		},
	}
	doc, err := FromSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Scroll().Y != 40 || doc.Viewport().Width != 800 {
		t.Errorf("viewport/scroll not carried: %v %v", doc.Viewport(), doc.Scroll())
	}
	body := doc.Body()
	if _, ok := body.Attr(NodeIDAttribute); ok {
		t.Error("node id attribute should be stripped")
	}
	if body.Rect().Height != 2000 {
		t.Errorf("body rect: got %v", body.Rect())
	}

	frame, err := doc.QuerySelector("iframe").Frame()
	if err != nil {
		t.Fatal(err)
	}
	if !frame.SameOrigin || frame.Root == nil || frame.Viewport.Width != 300 {
		t.Fatalf("frame: %+v", frame)
	}
	if kids := frame.Root.ChildNodes(); len(kids) != 1 || kids[0].TagName() != "b" {
		t.Errorf("frame body children: %v", kids)
	}

	url, err := doc.QuerySelector("canvas").CanvasDataURL()
	if err != nil || url != "data:image/png;base64,AAAA" {
		t.Errorf("canvas: got %q, %v", url, err)
	}
}

func TestFrame_CrossOrigin(t *testing.T) {
	doc := MustParse(`<html><body><iframe src="https://other.example/x"></iframe></body></html>`)
	f, err := doc.QuerySelector("iframe").Frame()
	if err != nil {
		t.Fatal(err)
	}
	if f.SameOrigin || f.Src != "https://other.example/x" || f.Root != nil {
		t.Errorf("cross-origin frame: %+v", f)
	}
}

package finder

import (
	"testing"

	"github.com/hazyhaar/pinpoint/dom/htmldom"
	"github.com/hazyhaar/pinpoint/location"
)

const page = `<html><body>
<div id="page" data-cord-annotation-location='{"page":"/dashboard/2"}'>
  <div id="graph" data-cord-annotation-location='{"page":"/dashboard/2","graph":"Revenue"}'>
    <span id="bar">bar</span>
  </div>
  <div id="graph2" data-cord-annotation-location='{"graph":"Revenue","page":"/dashboard/2"}'></div>
  <div id="broken" data-cord-annotation-location='{"page":'></div>
  <div id="nested" data-cord-annotation-location='{"page":{"x":1}}'><i id="deep">x</i></div>
</div>
</body></html>`

func TestFindElementMatchingLocation(t *testing.T) {
	doc := htmldom.MustParse(page)
	tests := []struct {
		name   string
		target location.Location
		wantID string
		exact  bool
	}{
		{"most specific subset", location.Location{"page": "/dashboard/2", "graph": "Revenue", "x": 379, "y": 231}, "graph", false},
		{"exact", location.Location{"page": "/dashboard/2", "graph": "Revenue"}, "graph", true},
		{"page only", location.Location{"page": "/dashboard/2", "graph": "Cost"}, "page", false},
		{"no match", location.Location{"page": "/other"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := FindElementMatchingLocation(doc, tt.target)
			if tt.wantID == "" {
				if res.Found() {
					t.Fatalf("expected no match, got %v", res.Element.Path())
				}
				return
			}
			if !res.Found() {
				t.Fatal("expected a match")
			}
			id, _ := res.Element.Attr("id")
			if id != tt.wantID {
				t.Errorf("element: got %q, want %q", id, tt.wantID)
			}
			if res.Exact != tt.exact {
				t.Errorf("exact: got %v, want %v", res.Exact, tt.exact)
			}
		})
	}
}

func TestFindElement_RescansEveryCall(t *testing.T) {
	doc := htmldom.MustParse(page)
	target := location.Location{"page": "/dashboard/2", "graph": "Revenue"}
	if id, _ := FindElementMatchingLocation(doc, target).Element.Attr("id"); id != "graph" {
		t.Fatalf("first scan: got %q", id)
	}
	doc.ByID("graph").RemoveAttribute("data-cord-annotation-location")
	if id, _ := FindElementMatchingLocation(doc, target).Element.Attr("id"); id != "graph2" {
		t.Errorf("second scan should see the change, got %q", id)
	}
}

func TestClosestTarget(t *testing.T) {
	doc := htmldom.MustParse(page)
	el, loc := ClosestTarget(doc.ByID("bar"))
	if el == nil {
		t.Fatal("expected a target")
	}
	if id, _ := el.Attr("id"); id != "graph" || loc["graph"] != "Revenue" {
		t.Errorf("got %q %v", id, loc)
	}

	// Invalid attribute values are skipped on the way up.
	el, _ = ClosestTarget(doc.ByID("deep"))
	if id, _ := el.Attr("id"); id != "page" {
		t.Errorf("invalid nested target should be skipped, got %q", id)
	}
}

func TestFindElement_EmptyLocationIsCatchAll(t *testing.T) {
	doc := htmldom.MustParse(`<html><body>
<div id="root" data-cord-annotation-location='{}'>
  <div id="page" data-cord-annotation-location='{"page":"/d"}'></div>
</div>
</body></html>`)
	res := FindElementMatchingLocation(doc, location.Location{"page": "/other"})
	if id, _ := res.Element.Attr("id"); id != "root" || res.Exact {
		t.Errorf("catch-all: got %q exact=%v", id, res.Exact)
	}
	res = FindElementMatchingLocation(doc, location.Location{"page": "/d"})
	if id, _ := res.Element.Attr("id"); id != "page" {
		t.Errorf("keyed element must win over the catch-all, got %q", id)
	}
}

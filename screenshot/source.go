package screenshot

import (
	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/dom/htmldom"
)

// SourceFromDocument describes a captured document: its body, the
// elements marked as screenshot targets, the viewport and scroll, and the
// background of <html>.
func SourceFromDocument(doc *htmldom.Document) Source {
	src := Source{Viewport: doc.Viewport(), Scroll: doc.Scroll()}
	if body := doc.Body(); body != nil {
		src.Body = body
	}
	for _, n := range doc.QuerySelectorAll("[" + dom.ScreenshotTargetAttribute + "]") {
		src.Targets = append(src.Targets, n)
	}
	if root := doc.Root(); root != nil {
		if st, err := root.ComputedStyle(); err == nil {
			src.BackgroundColor = st.Get("background-color")
		}
	}
	return src
}

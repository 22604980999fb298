// Package finder locates the DOM element whose annotation-location attribute
// best matches a target location.
package finder

import (
	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/location"
)

// Result is the element found, nil when nothing matched.
type Result struct {
	Element  dom.Element
	Location location.Location
	Exact    bool
}

// Found reports whether an element matched.
func (r Result) Found() bool { return r.Element != nil }

// FindElementMatchingLocation scans doc once for every element carrying the
// location attribute and returns the most specific one whose location is a
// subset of target. Invalid attribute values are ignored. Ties go to the
// first element in document order. Nothing is cached between calls.
func FindElementMatchingLocation(doc dom.Document, target location.Location) Result {
	var best Result
	bestKeys := -1
	for _, el := range doc.QueryAttr(dom.LocationAttribute) {
		raw, ok := el.Attr(dom.LocationAttribute)
		if !ok {
			continue
		}
		loc, err := location.Parse([]byte(raw))
		if err != nil {
			continue
		}
		n := location.Specificity(loc)
		if n <= bestKeys || !location.Matches(target, loc) {
			continue
		}
		bestKeys = n
		best = Result{Element: el, Location: loc, Exact: location.Equal(target, loc)}
	}
	return best
}

// ElementLocation parses the location attribute of el. ok is false when el
// carries no valid location.
func ElementLocation(el dom.Element) (loc location.Location, ok bool) {
	if el == nil {
		return nil, false
	}
	raw, has := el.Attr(dom.LocationAttribute)
	if !has {
		return nil, false
	}
	loc, err := location.Parse([]byte(raw))
	if err != nil {
		return nil, false
	}
	return loc, true
}

// ClosestTarget returns the nearest ancestor-or-self of el carrying a valid
// location, the element a new pin placed on el would attach to.
func ClosestTarget(el dom.Element) (dom.Element, location.Location) {
	for cur := el; cur != nil; {
		target := dom.Closest(cur, dom.LocationAttribute)
		if target == nil {
			return nil, nil
		}
		if loc, ok := ElementLocation(target); ok {
			return target, loc
		}
		p, ok := target.(interface{ ParentElement() dom.Element })
		if !ok {
			return nil, nil
		}
		cur = p.ParentElement()
	}
	return nil, nil
}

// ClosestScreenshotTarget returns the nearest ancestor-or-self of el marked
// as a screenshot target, or nil.
func ClosestScreenshotTarget(el dom.Element) dom.Element {
	return dom.Closest(el, dom.ScreenshotTargetAttribute)
}

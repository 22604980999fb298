package resolver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/pinpoint/dom"
)

// ErrBadCoordinates is returned when an encoded coordinate string cannot be
// decoded or no longer resolves.
var ErrBadCoordinates = errors.New("resolver: bad coordinate string")

const codecVersion = 1

// documentLocation is the payload behind the opaque coordinate strings. The
// element path and fractional offset let the point follow its element when
// the layout shifts; the document point is the fallback.
type documentLocation struct {
	Version int     `json:"v"`
	XPath   string  `json:"xpath,omitempty"`
	XRel    float64 `json:"xr,omitempty"`
	YRel    float64 `json:"yr,omitempty"`
	DocX    float64 `json:"dx"`
	DocY    float64 `json:"dy"`
}

// ViewportCoordinatesToString encodes a viewport point as an opaque string
// that StringToViewportCoordinates turns back into a viewport point, even
// after scrolling. Callers must not depend on the format.
func ViewportCoordinatesToString(doc dom.Document, p dom.Point) (string, error) {
	vp := doc.Viewport()
	if p.X < 0 || p.Y < 0 || p.X > vp.Width || p.Y > vp.Height {
		return "", fmt.Errorf("resolver: point %v outside viewport %v", p, vp)
	}
	s := doc.Scroll()
	loc := documentLocation{Version: codecVersion, DocX: p.X + s.X, DocY: p.Y + s.Y}
	if el := doc.ElementFromPoint(p); el != nil {
		r := el.Rect()
		if r.Width > 0 && r.Height > 0 {
			loc.XPath = el.Path()
			loc.XRel = (p.X - r.Left) / r.Width
			loc.YRel = (p.Y - r.Top) / r.Height
		}
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return "", fmt.Errorf("resolver: encode coordinates: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StringToViewportCoordinates decodes a string produced by
// ViewportCoordinatesToString against the current document state.
func StringToViewportCoordinates(doc dom.Document, str string) (dom.Point, error) {
	raw, err := base64.RawURLEncoding.DecodeString(str)
	if err != nil {
		return dom.Point{}, fmt.Errorf("%w: %v", ErrBadCoordinates, err)
	}
	var loc documentLocation
	if err := json.Unmarshal(raw, &loc); err != nil {
		return dom.Point{}, fmt.Errorf("%w: %v", ErrBadCoordinates, err)
	}
	if loc.Version != codecVersion {
		return dom.Point{}, fmt.Errorf("%w: unsupported version %d", ErrBadCoordinates, loc.Version)
	}
	if loc.XPath != "" {
		if el := doc.ElementByPath(loc.XPath); el != nil {
			r := el.Rect()
			if r.Width > 0 && r.Height > 0 {
				return dom.Point{X: r.Left + loc.XRel*r.Width, Y: r.Top + loc.YRel*r.Height}, nil
			}
		}
	}
	s := doc.Scroll()
	return dom.Point{X: loc.DocX - s.X, Y: loc.DocY - s.Y}, nil
}

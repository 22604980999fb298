// Package roddom implements dom.Document over a live Chrome page driven by
// go-rod. Every call evaluates against the page as it is now; elements are
// addressed by path and re-resolved on each access.
//
// Snapshot freezes the page into an htmldom.Document with the layout the
// browser computed, which is what the screenshot cloner works from.
package roddom

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/dom/htmldom"
)

//go:embed pinpoint.js
var pinpointJS string

const callJS = `(m, ...args) => window.__pinpoint ? { v: window.__pinpoint[m](...args) } : { missing: true }`

// Document is a live page.
type Document struct {
	page   *rod.Page
	ctx    context.Context
	logger *slog.Logger
}

var _ dom.Document = (*Document)(nil)

// New wraps page. ctx bounds every later evaluation. The helper script is
// installed now and on every future navigation.
func New(ctx context.Context, page *rod.Page, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Document{page: page, ctx: ctx, logger: logger}
	if _, err := page.EvalOnNewDocument("(" + pinpointJS + ")()"); err != nil {
		return nil, fmt.Errorf("roddom: install on navigation: %w", err)
	}
	if err := d.install(); err != nil {
		return nil, err
	}
	return d, nil
}

// Page returns the underlying page.
func (d *Document) Page() *rod.Page { return d.page }

func (d *Document) install() error {
	if _, err := d.page.Context(d.ctx).Eval(pinpointJS); err != nil {
		return fmt.Errorf("roddom: install helpers: %w", err)
	}
	return nil
}

// call runs a helper method and decodes its result into out. A page that
// navigated since the last call gets the helpers reinstalled once.
func (d *Document) call(out any, method string, args ...any) error {
	params := append([]any{method}, args...)
	for attempt := 0; attempt < 2; attempt++ {
		res, err := d.page.Context(d.ctx).Eval(callJS, params...)
		if err != nil {
			return fmt.Errorf("roddom: %s: %w", method, err)
		}
		var env struct {
			V       json.RawMessage `json:"v"`
			Missing bool            `json:"missing"`
		}
		if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &env); err != nil {
			return fmt.Errorf("roddom: %s: decode: %w", method, err)
		}
		if env.Missing {
			if err := d.install(); err != nil {
				return err
			}
			continue
		}
		if out == nil || len(env.V) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.V, out); err != nil {
			return fmt.Errorf("roddom: %s: decode: %w", method, err)
		}
		return nil
	}
	return errors.New("roddom: helpers not available")
}

type elementRef struct {
	Path string `json:"path"`
	Tag  string `json:"tag"`
}

func (d *Document) wrap(r *elementRef) dom.Element {
	if r == nil || r.Path == "" {
		return nil
	}
	return &Element{doc: d, path: r.Path, tag: r.Tag}
}

// QueryAttr implements dom.Document. Open shadow roots are searched.
func (d *Document) QueryAttr(name string) []dom.Element {
	var refs []elementRef
	if err := d.call(&refs, "queryAttr", name); err != nil {
		d.logger.Debug("roddom: query failed", "attr", name, "error", err)
		return nil
	}
	out := make([]dom.Element, 0, len(refs))
	for i := range refs {
		out = append(out, d.wrap(&refs[i]))
	}
	return out
}

func (d *Document) Viewport() dom.Size {
	var s dom.Size
	if err := d.call(&s, "viewport"); err != nil {
		d.logger.Debug("roddom: viewport failed", "error", err)
	}
	return s
}

func (d *Document) Scroll() dom.Point {
	var p dom.Point
	if err := d.call(&p, "scroll"); err != nil {
		d.logger.Debug("roddom: scroll failed", "error", err)
	}
	return p
}

func (d *Document) ElementFromPoint(p dom.Point) dom.Element {
	var path string
	if err := d.call(&path, "fromPoint", p.X, p.Y); err != nil {
		d.logger.Debug("roddom: element from point failed", "error", err)
		return nil
	}
	return d.ElementByPath(path)
}

func (d *Document) ElementByPath(path string) dom.Element {
	if path == "" {
		return nil
	}
	var ref *elementRef
	if err := d.call(&ref, "element", path); err != nil {
		d.logger.Debug("roddom: element by path failed", "path", path, "error", err)
		return nil
	}
	return d.wrap(ref)
}

// Redraw dispatches the redraw event on the page's document.
func (d *Document) Redraw() error {
	return d.call(nil, "redraw", dom.RedrawEventName)
}

// Snapshot captures the page, its layout and same-origin iframes.
func (d *Document) Snapshot() (*htmldom.Document, error) {
	var s htmldom.Snapshot
	if err := d.call(&s, "snapshot"); err != nil {
		return nil, err
	}
	doc, err := htmldom.FromSnapshot(&s)
	if err != nil {
		return nil, fmt.Errorf("roddom: snapshot: %w", err)
	}
	return doc, nil
}

// Element is a live element addressed by path.
type Element struct {
	doc  *Document
	path string
	tag  string
}

var _ dom.Element = (*Element)(nil)

func (e *Element) TagName() string { return e.tag }

func (e *Element) Path() string { return e.path }

func (e *Element) Attr(name string) (string, bool) {
	var res struct {
		OK    bool   `json:"ok"`
		Value string `json:"value"`
	}
	if err := e.doc.call(&res, "attr", e.path, name); err != nil {
		e.doc.logger.Debug("roddom: attr failed", "path", e.path, "attr", name, "error", err)
		return "", false
	}
	return res.Value, res.OK
}

// Rect is the zero Rect once the element has left the page.
func (e *Element) Rect() dom.Rect {
	var r dom.Rect
	if err := e.doc.call(&r, "rect", e.path); err != nil {
		e.doc.logger.Debug("roddom: rect failed", "path", e.path, "error", err)
	}
	return r
}

// ParentElement crosses shadow boundaries, for dom.Closest.
func (e *Element) ParentElement() dom.Element {
	var ref *elementRef
	if err := e.doc.call(&ref, "parent", e.path); err != nil {
		return nil
	}
	return e.doc.wrap(ref)
}

func (e *Element) String() string { return e.path }

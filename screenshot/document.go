package screenshot

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/idgen"
)

const (
	xhtmlNS = "http://www.w3.org/1999/xhtml"
	svgNS   = "http://www.w3.org/2000/svg"
	xlinkNS = "http://www.w3.org/1999/xlink"
)

// Source is the page a screenshot is taken of.
type Source struct {
	Body dom.Node
	// Targets are the elements marked for screenshots. Empty means the
	// visible viewport of Body is captured.
	Targets  []dom.Node
	Viewport dom.Size
	Scroll   dom.Point
	// BackgroundColor is the computed background of the root element.
	BackgroundColor string
}

// Clone is a finished set of clone trees, ready to be composed.
type Clone struct {
	Roots []*html.Node
	// Rects are the viewport rects of the originals, one per root.
	Rects          []dom.Rect
	ClipToViewport bool
	Viewport       dom.Size
	// Timings of the clone steps.
	Timings Timings

	cloner *ElementCloner
}

// SVG is one composed screenshot document.
type SVG struct {
	Markup string
	Width  float64
	Height float64
}

// DocumentClonerConfig configures a DocumentCloner.
type DocumentClonerConfig struct {
	Options Options
	Images  *ImageLoader
	Frames  FrameCapturer
	IDs     idgen.Generator
	Logger  *slog.Logger
}

// DocumentCloner clones screenshot roots and composes them into SVG
// documents wrapping the clone in a foreignObject.
type DocumentCloner struct {
	opts   Options
	images *ImageLoader
	frames FrameCapturer
	ids    idgen.Generator
	logger *slog.Logger

	mu    sync.Mutex
	yield *Yielder
}

// NewDocumentCloner creates a DocumentCloner.
func NewDocumentCloner(cfg DocumentClonerConfig) (*DocumentCloner, error) {
	cfg.Options.defaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Images == nil {
		l, err := NewImageLoader(ImageLoaderConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		cfg.Images = l
	}
	return &DocumentCloner{
		opts:   cfg.Options,
		images: cfg.Images,
		frames: cfg.Frames,
		ids:    cfg.IDs,
		logger: cfg.Logger,
	}, nil
}

// Cancel stops the clone in progress. Its result is discarded.
func (d *DocumentCloner) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.yield != nil {
		d.yield.Cancel()
	}
}

// Clone copies targets with their styles frozen and their images embedded.
// With clipToViewport the single root is sized to the viewport and
// shifted by the page scroll.
func (d *DocumentCloner) Clone(ctx context.Context, src Source, targets []dom.Node, clipToViewport bool) (*Clone, error) {
	y := NewYielder(d.opts.YieldBudget)
	d.mu.Lock()
	d.yield = y
	d.mu.Unlock()
	return d.cloneWith(ctx, y, src, targets, clipToViewport)
}

// cloneWith runs Clone under y. A y cancelled before the call stops the
// walk at its first checkpoint.
func (d *DocumentCloner) cloneWith(ctx context.Context, y *Yielder, src Source, targets []dom.Node, clipToViewport bool) (*Clone, error) {
	if len(targets) == 0 {
		return nil, errors.New("screenshot: no targets")
	}
	if y.Cancelled() {
		return nil, ErrCancelled
	}
	t := newTimer()
	t.start(StepCloneAll, StepClone)

	cloner := NewElementCloner(ClonerConfig{
		Viewport: src.Viewport,
		Filter:   d.opts.Filter,
		Yielder:  y,
		Images:   d.images,
		Frames:   d.frames,
		IDs:      d.ids,
		Logger:   d.logger,
	})

	out := &Clone{ClipToViewport: clipToViewport, Viewport: src.Viewport, cloner: cloner}
	for _, tg := range targets {
		root, err := cloner.CloneTarget(ctx, tg)
		if err != nil {
			return nil, err
		}
		out.Roots = append(out.Roots, root)
		out.Rects = append(out.Rects, tg.BoundingRect())
	}
	t.stop(StepClone)
	t.start(StepImages)
	if err := cloner.settle(ctx); err != nil {
		return nil, err
	}
	t.stop(StepImages)
	if y.Cancelled() {
		return nil, ErrCancelled
	}

	if clipToViewport {
		d.applyCustomStyles(out.Roots[0], src)
	}
	for _, r := range out.Roots {
		removeInvalidSVGs(r)
	}
	t.stop(StepCloneAll)
	out.Timings = t.snapshot()
	return out, nil
}

// Compose wraps every root into its own SVG document.
func (d *DocumentCloner) Compose(cl *Clone) ([]SVG, error) {
	svgs := make([]SVG, 0, len(cl.Roots))
	for i, root := range cl.Roots {
		rect := d.cloneRect(cl, i)
		markup, err := composeSVG(root, rect)
		if err != nil {
			return nil, err
		}
		svgs = append(svgs, SVG{Markup: markup, Width: rect.Width, Height: rect.Height})
	}
	return svgs, nil
}

// ElementsToSVG clones and composes in one step.
func (d *DocumentCloner) ElementsToSVG(ctx context.Context, src Source, targets []dom.Node, clipToViewport bool) ([]SVG, error) {
	cl, err := d.Clone(ctx, src, targets, clipToViewport)
	if err != nil {
		return nil, err
	}
	return d.Compose(cl)
}

// cloneRect is the part of root i that ends up in the image. A crop
// rectangle overrides the defaults.
func (d *DocumentCloner) cloneRect(cl *Clone, i int) dom.Rect {
	var r dom.Rect
	if cl.ClipToViewport {
		r = dom.Rect{Width: d.outputWidth(cl.Viewport), Height: d.outputHeight(cl.Viewport)}
	} else {
		r = dom.Rect{Width: cl.Rects[i].Width, Height: cl.Rects[i].Height}
	}
	if c := d.opts.CropRectangle; c != nil {
		r = *c
	}
	return r
}

func (d *DocumentCloner) outputWidth(vp dom.Size) float64 {
	if d.opts.Width > 0 {
		return d.opts.Width
	}
	return vp.Width
}

func (d *DocumentCloner) outputHeight(vp dom.Size) float64 {
	if d.opts.Height > 0 {
		return d.opts.Height
	}
	return vp.Height
}

// applyCustomStyles prepares a viewport clone: opaque background, explicit
// size, page scroll, then the caller's extra style.
func (d *DocumentCloner) applyCustomStyles(root *html.Node, src Source) {
	bg := styleProp(root, "background-color")
	if transparent(bg) {
		bg = src.BackgroundColor
		if transparent(bg) {
			bg = d.opts.BackgroundColor
		}
		setStyleProp(root, "background-color", bg, false)
	}
	if d.opts.Width > 0 {
		setStyleProp(root, "width", px(d.opts.Width), false)
	}
	if d.opts.Height > 0 {
		setStyleProp(root, "height", px(d.opts.Height), false)
	}
	if src.Scroll.Y != 0 {
		setStyleProp(root, "margin-top", px(parsePx(styleProp(root, "margin-top"))-src.Scroll.Y), false)
	}
	if src.Scroll.X != 0 {
		setStyleProp(root, "margin-left", px(parsePx(styleProp(root, "margin-left"))-src.Scroll.X), false)
	}
	for p, v := range d.opts.Style {
		val, imp := splitImportant(v)
		setStyleProp(root, p, val, imp)
	}
}

func transparent(c string) bool {
	switch strings.ReplaceAll(strings.TrimSpace(c), " ", "") {
	case "", "transparent", "rgba(0,0,0,0)":
		return true
	}
	return false
}

// composeSVG wraps root in an svg/foreignObject pair showing rect.
func composeSVG(root *html.Node, rect dom.Rect) (string, error) {
	if root.Parent != nil {
		root.Parent.RemoveChild(root)
	}
	setAttr(root, "xmlns", xhtmlNS)
	wrapRawText(root)

	svg := &html.Node{Type: html.ElementNode, Data: "svg", Namespace: "svg"}
	setAttr(svg, "xmlns", svgNS)
	setAttr(svg, "width", num(rect.Width))
	setAttr(svg, "height", num(rect.Height))

	fo := &html.Node{Type: html.ElementNode, Data: "foreignObject", Namespace: "svg"}
	setAttr(fo, "width", num(rect.Width+rect.Left))
	setAttr(fo, "height", num(rect.Height+rect.Top))
	setAttr(fo, "x", num(-rect.Left))
	setAttr(fo, "y", num(-rect.Top))
	setAttr(fo, "externalResourcesRequired", "true")

	fo.AppendChild(root)
	svg.AppendChild(fo)

	var b strings.Builder
	if err := html.Render(&b, svg); err != nil {
		return "", fmt.Errorf("screenshot: render svg: %w", err)
	}
	return b.String(), nil
}

// rawTextElements are rendered by html.Render without escaping.
var rawTextElements = map[string]bool{
	"style": true, "script": true, "xmp": true, "iframe": true,
	"noembed": true, "noframes": true, "noscript": true, "plaintext": true,
}

// wrapRawText puts the text of raw-text elements in CDATA sections so that
// CSS containing & or < stays well-formed inside the foreignObject.
func wrapRawText(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if c.Namespace == "" && rawTextElements[c.Data] {
			for t := c.FirstChild; t != nil; t = t.NextSibling {
				if t.Type == html.TextNode && !strings.HasPrefix(t.Data, "<![CDATA[") {
					t.Data = "<![CDATA[" + strings.ReplaceAll(t.Data, "]]>", "]]]]><![CDATA[>") + "]]>"
				}
			}
			continue
		}
		wrapRawText(c)
	}
}

// removeInvalidSVGs drops nested <svg> clones that do not serialise to a
// well-formed document; one would make the whole image fail to load.
func removeInvalidSVGs(root *html.Node) {
	var bad []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Namespace == "svg" && c.Data == "svg" {
				setAttr(c, "xmlns", svgNS)
				setAttr(c, "xmlns:xlink", xlinkNS)
				if !wellFormed(c) {
					bad = append(bad, c)
				}
				continue
			}
			walk(c)
		}
	}
	walk(root)
	for _, n := range bad {
		n.Parent.RemoveChild(n)
	}
}

func wellFormed(n *html.Node) bool {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return false
	}
	dec := xml.NewDecoder(strings.NewReader(b.String()))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return true
		}
		if err != nil {
			return false
		}
	}
}

func num(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

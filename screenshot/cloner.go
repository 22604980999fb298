package screenshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/idgen"
)

// cloneFunc is the strategy for one Kind. It receives the style captured
// from the original and returns the clone, nil to drop the node, or an
// error that turns the node into a placeholder.
type cloneFunc func(ctx context.Context, n dom.Node, sc *styleCapture) (*html.Node, error)

// videoClone links a <video> to the frame image that replaced it.
type videoClone struct {
	id       string
	original dom.Node
	clone    *html.Node
}

// imageRef is a clone attribute or background waiting for a data URL.
type imageRef struct {
	node       *html.Node
	background bool
	ref        string
}

// ElementCloner walks live nodes depth-first and builds detached copies
// with their computed style frozen inline.
type ElementCloner struct {
	viewport dom.Size
	keep     Filter
	yield    *Yielder
	images   *ImageLoader
	frames   FrameCapturer
	ids      idgen.Generator
	logger   *slog.Logger

	strategies map[Kind]cloneFunc

	refs         []imageRef
	videos       []videoClone
	remoteFrames []*remoteFrame
	placeholders int

	// elements and texts map clones back to the originals for highlighting.
	elements []clonedElement
	texts    map[*html.Node]int
}

// clonedElement pairs an original element with its clone.
type clonedElement struct {
	original dom.Node
	clone    *html.Node
}

// DefaultTempIDs generates the temp ids shared by an original node and its
// clone. They live for one screenshot only.
func DefaultTempIDs() idgen.Generator {
	return idgen.Prefixed("pp-", idgen.NanoID(10))
}

// ClonerConfig configures an ElementCloner.
type ClonerConfig struct {
	// Viewport decides which elements are off screen.
	Viewport dom.Size
	Filter   Filter
	Yielder  *Yielder
	Images   *ImageLoader
	// Frames fills cross-origin iframes out of band. Optional.
	Frames FrameCapturer
	IDs    idgen.Generator
	Logger *slog.Logger
}

// NewElementCloner creates a cloner for one screenshot.
func NewElementCloner(cfg ClonerConfig) *ElementCloner {
	if cfg.Yielder == nil {
		cfg.Yielder = NewYielder(0)
	}
	if cfg.IDs == nil {
		cfg.IDs = DefaultTempIDs()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Images == nil {
		cfg.Images, _ = NewImageLoader(ImageLoaderConfig{Logger: cfg.Logger})
	}
	c := &ElementCloner{
		viewport: cfg.Viewport,
		keep:     cfg.Filter,
		yield:    cfg.Yielder,
		images:   cfg.Images,
		frames:   cfg.Frames,
		ids:      cfg.IDs,
		logger:   cfg.Logger,
		texts:    make(map[*html.Node]int),
	}
	c.strategies = map[Kind]cloneFunc{
		KindElement: c.cloneGeneric,
		KindSvg:     c.cloneGeneric,
		KindCanvas:  c.cloneGeneric,
		KindIframe:  c.cloneIframe,
		KindPicture: c.clonePicture,
		KindVideo:   c.cloneVideo,
	}
	return c
}

// Placeholders returns how many nodes were replaced by a placeholder.
func (c *ElementCloner) Placeholders() int { return c.placeholders }

// CloneTarget clones a screenshot root. Roots are always cloned as plain
// elements: no display or scroll-container filtering applies to them.
func (c *ElementCloner) CloneTarget(ctx context.Context, n dom.Node) (*html.Node, error) {
	if err := c.yield.Point(ctx); err != nil {
		return nil, err
	}
	sc, err := captureStyle(n, c.viewport)
	if err != nil {
		return nil, fmt.Errorf("screenshot: capture root style: %w", err)
	}
	clone, err := c.cloneSingle(n)
	if err != nil {
		return nil, fmt.Errorf("screenshot: clone root: %w", err)
	}
	c.elements = append(c.elements, clonedElement{original: n, clone: clone})
	if err := c.cloneChildren(ctx, n, clone, sc, false); err != nil {
		return nil, err
	}
	sc.decorate(clone)
	c.queueBackground(ctx, clone, sc)
	return clone, nil
}

// cloneNode clones n and its subtree. Only cancellation is returned as an
// error; any other failure becomes a placeholder.
func (c *ElementCloner) cloneNode(ctx context.Context, n dom.Node, container *scrollContainer) (*html.Node, error) {
	kind := Classify(n, c.keep)
	switch kind {
	case KindSkip:
		return nil, nil
	case KindText:
		return &html.Node{Type: html.TextNode, Data: n.Text()}, nil
	}

	if err := c.yield.Point(ctx); err != nil {
		return nil, err
	}

	sc, err := captureStyle(n, c.viewport)
	if err != nil {
		c.logger.Debug("screenshot: style capture failed", "tag", n.TagName(), "error", err)
		return c.placeholder(n.BoundingRect()), nil
	}
	if sc.hidden() {
		return nil, nil
	}

	var adj adjustment
	if positionedAgainstDocument(n, sc) {
		adj = adjustment{kind: adjustPosition, top: sc.rect.Top, left: sc.rect.Left}
	} else if container != nil {
		if !container.shouldClone(n, sc) {
			return cloneWithDisplayNone(n), nil
		}
		adj = container.childAdjustment(sc)
	}

	clone, err := c.runStrategy(ctx, kind, n, sc)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return nil, err
		}
		c.logger.Debug("screenshot: clone failed", "kind", kind, "tag", n.TagName(), "error", err)
		return c.placeholder(sc.rect), nil
	}
	if clone != nil {
		adj.apply(clone)
	}
	return clone, nil
}

func (c *ElementCloner) runStrategy(ctx context.Context, kind Kind, n dom.Node, sc *styleCapture) (clone *html.Node, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			clone, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()
	return c.strategies[kind](ctx, n, sc)
}

func (c *ElementCloner) cloneChildren(ctx context.Context, n dom.Node, clone *html.Node, sc *styleCapture, reverse bool) error {
	kids := n.ChildNodes()
	if reverse {
		kids = slices.Clone(kids)
		slices.Reverse(kids)
	}
	container := scrollContainerFor(n, sc)
	for i, k := range kids {
		cc, err := c.cloneNode(ctx, k, container)
		if err != nil {
			return err
		}
		if cc == nil {
			continue
		}
		if cc.Type == html.TextNode {
			idx := i
			if reverse {
				idx = len(kids) - 1 - i
			}
			c.texts[cc] = idx
		}
		clone.AppendChild(cc)
	}
	return nil
}

// cloneGeneric handles plain elements, svg roots and canvases.
func (c *ElementCloner) cloneGeneric(ctx context.Context, n dom.Node, sc *styleCapture) (*html.Node, error) {
	clone, err := c.cloneSingle(n)
	if err != nil {
		return nil, err
	}
	c.elements = append(c.elements, clonedElement{original: n, clone: clone})
	hidden := sc.offScreen || sc.takesNoSpace
	if clone.Data == "img" && hidden {
		setAttr(clone, "src", "")
		removeAttr(clone, "srcset")
	}
	sc.decorate(clone)
	c.queueBackground(ctx, clone, sc)
	if clone.Data == "img" && !hidden {
		c.queueSrc(ctx, clone)
	}
	if n.IsSVG() && n.TagName() == "svg" && hidden {
		return clone, nil
	}
	reverse := normaliseFlexDirection(clone)
	if err := c.cloneChildren(ctx, n, clone, sc, reverse); err != nil {
		return nil, err
	}
	return clone, nil
}

// clonePicture replaces a <picture> by its first <img>, styled like the
// picture.
func (c *ElementCloner) clonePicture(ctx context.Context, n dom.Node, sc *styleCapture) (*html.Node, error) {
	for _, k := range n.ChildNodes() {
		if k.NodeType() != dom.ElementNode || k.TagName() != "img" {
			continue
		}
		clone, err := c.cloneSingle(k)
		if err != nil {
			return nil, err
		}
		sc.decorate(clone)
		c.queueSrc(ctx, clone)
		return clone, nil
	}
	return nil, nil
}

// cloneVideo replaces a <video> by an image of its current frame. Original
// and clone share a temp id so the frame can be refreshed later.
func (c *ElementCloner) cloneVideo(_ context.Context, n dom.Node, sc *styleCapture) (*html.Node, error) {
	frame, err := n.VideoFrameDataURL()
	if err != nil {
		return nil, fmt.Errorf("video frame: %w", err)
	}
	img := newElement("img")
	setAttr(img, "src", frame)
	id := c.ids()
	setAttr(img, dom.ScreenshotTempIDAttribute, id)
	n.SetAttribute(dom.ScreenshotTempIDAttribute, id)
	sc.decorate(img)
	c.videos = append(c.videos, videoClone{id: id, original: n, clone: img})
	return img, nil
}

// cloneSingle makes a shallow copy. A canvas becomes an image of its
// pixels, or an empty canvas when it cannot be exported.
func (c *ElementCloner) cloneSingle(n dom.Node) (*html.Node, error) {
	if !n.IsSVG() && n.TagName() == "canvas" {
		data, err := n.CanvasDataURL()
		if err != nil {
			return nil, fmt.Errorf("canvas: %w", err)
		}
		if data == dom.BlankCanvasDataURL {
			return shallowClone(n), nil
		}
		img := newElement("img")
		setAttr(img, "src", data)
		return img, nil
	}
	return shallowClone(n), nil
}

func (c *ElementCloner) queueSrc(ctx context.Context, clone *html.Node) {
	src, _ := getAttr(clone, "src")
	if src == "" || strings.HasPrefix(src, "data:") {
		return
	}
	removeAttr(clone, "srcset")
	c.images.Prefetch(ctx, src)
	c.refs = append(c.refs, imageRef{node: clone, ref: src})
}

func (c *ElementCloner) queueBackground(ctx context.Context, clone *html.Node, sc *styleCapture) {
	bg := sc.style.Get("background-image")
	if bg == "" || bg == "none" {
		return
	}
	urls := cssURLs(bg)
	for _, u := range urls {
		if !strings.HasPrefix(u, "data:") {
			c.images.Prefetch(ctx, u)
		}
	}
	if len(urls) > 0 {
		c.refs = append(c.refs, imageRef{node: clone, background: true, ref: bg})
	}
}

// embedImages waits for every queued reference and writes the data URLs
// into the clones. References that fail to load are left as they were.
func (c *ElementCloner) embedImages(ctx context.Context) error {
	for _, r := range c.refs {
		if err := c.yield.check(ctx); err != nil {
			return err
		}
		if !r.background {
			data, err := c.images.DataURL(ctx, r.ref)
			if err != nil {
				continue
			}
			setAttr(r.node, "src", data)
			continue
		}
		val := replaceCSSURLs(r.ref, func(u string) string {
			data, err := c.images.DataURL(ctx, u)
			if err != nil {
				return u
			}
			return data
		})
		setStyleProp(r.node, "background-image", val, false)
	}
	c.refs = nil
	return nil
}

// refreshVideos re-reads the current frame of every cloned video.
func (c *ElementCloner) refreshVideos() {
	for _, v := range c.videos {
		frame, err := v.original.VideoFrameDataURL()
		if err != nil {
			c.logger.Debug("screenshot: video refresh failed", "id", v.id, "error", err)
			continue
		}
		setAttr(v.clone, "src", frame)
	}
}

func (c *ElementCloner) placeholder(rect dom.Rect) *html.Node {
	c.placeholders++
	return newPlaceholder(rect)
}

// cloneWithDisplayNone keeps a scrolled-away child as a zero-size node so
// that sibling selectors and counters still see it. SVG children are
// dropped.
func cloneWithDisplayNone(n dom.Node) *html.Node {
	if n.IsSVG() {
		return nil
	}
	clone := shallowClone(n)
	setStyleProp(clone, "display", "none", true)
	return clone
}

// normaliseFlexDirection rewrites a reversed flex direction on the clone
// and reports whether children must be appended in reverse.
func normaliseFlexDirection(clone *html.Node) bool {
	switch styleProp(clone, "flex-direction") {
	case "row-reverse":
		setStyleProp(clone, "flex-direction", "row", false)
		return true
	case "column-reverse":
		setStyleProp(clone, "flex-direction", "column", false)
		return true
	}
	return false
}

func shallowClone(n dom.Node) *html.Node {
	tag := n.TagName()
	clone := &html.Node{Type: html.ElementNode, Data: tag}
	if n.IsSVG() {
		clone.Namespace = "svg"
	} else {
		clone.DataAtom = atom.Lookup([]byte(tag))
	}
	clone.Attr = slices.DeleteFunc(slices.Clone(n.Attributes()), func(a html.Attribute) bool {
		return !xmlName(a.Key)
	})
	switch tag {
	case "video", "audio":
		removeAttr(clone, "autoplay")
	}
	return clone
}

func newElement(tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

// xmlName reports whether an attribute name survives XML serialisation.
// Framework attributes such as "@click" do not.
func xmlName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == ':' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r)):
		default:
			return false
		}
	}
	return true
}

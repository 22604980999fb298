package screenshot

import (
	"context"
	"encoding/base64"
	"fmt"

	"golang.org/x/net/html"

	"github.com/hazyhaar/pinpoint/dom"
)

// FrameCapturer produces an image of a cross-origin iframe, whose document
// cannot be read from the embedding page. rect is viewport-relative.
type FrameCapturer interface {
	CaptureFrame(ctx context.Context, src string, rect dom.Rect) (dataURL string, err error)
}

// remoteFrame is a cross-origin placeholder being filled in the background.
type remoteFrame struct {
	clone *html.Node
	src   string
	done  chan struct{}
	data  string
	err   error
}

// cloneIframe renders a same-origin frame into an SVG image through a
// nested cloner. Cross-origin frames get a placeholder that a
// FrameCapturer may replace before composition.
func (c *ElementCloner) cloneIframe(ctx context.Context, n dom.Node, sc *styleCapture) (*html.Node, error) {
	fr, err := n.Frame()
	if err != nil {
		return nil, fmt.Errorf("iframe: %w", err)
	}
	img := newElement("img")
	sc.decorate(img)
	if sc.offScreen || sc.takesNoSpace {
		return img, nil
	}

	if !fr.SameOrigin || fr.Root == nil {
		src, err := placeholderDataURL(int(sc.rect.Width), int(sc.rect.Height))
		if err != nil {
			return nil, err
		}
		setAttr(img, "src", src)
		setAttr(img, "data-pinpoint-frame-src", fr.Src)
		if c.frames != nil {
			c.captureRemote(ctx, img, fr.Src, sc.rect)
		}
		return img, nil
	}

	svg, err := c.cloneFrameDocument(ctx, fr)
	if err != nil {
		return nil, err
	}
	setAttr(img, "src", "data:image/svg+xml;base64,"+base64.StdEncoding.EncodeToString([]byte(svg)))
	return img, nil
}

func (c *ElementCloner) cloneFrameDocument(ctx context.Context, fr dom.Frame) (string, error) {
	sub := NewElementCloner(ClonerConfig{
		Viewport: fr.Viewport,
		Filter:   c.keep,
		Yielder:  c.yield,
		Images:   c.images,
		Frames:   c.frames,
		IDs:      c.ids,
		Logger:   c.logger,
	})
	root, err := sub.CloneTarget(ctx, fr.Root)
	if err != nil {
		return "", err
	}
	if err := sub.settle(ctx); err != nil {
		return "", err
	}
	c.videos = append(c.videos, sub.videos...)
	c.placeholders += sub.placeholders
	setStyleProp(root, "width", px(fr.Viewport.Width), false)
	setStyleProp(root, "height", px(fr.Viewport.Height), false)
	return composeSVG(root, dom.Rect{Width: fr.Viewport.Width, Height: fr.Viewport.Height})
}

func (c *ElementCloner) captureRemote(ctx context.Context, img *html.Node, src string, rect dom.Rect) {
	rf := &remoteFrame{clone: img, src: src, done: make(chan struct{})}
	c.remoteFrames = append(c.remoteFrames, rf)
	go func() {
		defer close(rf.done)
		rf.data, rf.err = c.frames.CaptureFrame(ctx, src, rect)
	}()
}

// fillRemoteFrames waits for background frame captures and swaps them in.
// Failed captures keep their placeholder.
func (c *ElementCloner) fillRemoteFrames(ctx context.Context) error {
	for _, rf := range c.remoteFrames {
		select {
		case <-rf.done:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		if rf.err != nil || rf.data == "" {
			c.logger.Debug("screenshot: cross-origin frame kept as placeholder", "src", rf.src, "error", rf.err)
			continue
		}
		setAttr(rf.clone, "src", rf.data)
	}
	c.remoteFrames = nil
	return nil
}

// settle completes the out-of-band work queued during the walk.
func (c *ElementCloner) settle(ctx context.Context) error {
	if err := c.fillRemoteFrames(ctx); err != nil {
		return err
	}
	return c.embedImages(ctx)
}

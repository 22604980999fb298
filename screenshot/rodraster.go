package screenshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/internal/browser"
)

// RodRasterizer draws composed SVGs in a blank Chrome page and captures it.
type RodRasterizer struct {
	Browser *browser.Manager
}

const rasterPage = `<!doctype html><html><head><style>html,body{margin:0;padding:0;background:transparent;overflow:hidden}img{display:block}</style></head><body></body></html>`

func (r RodRasterizer) Rasterize(ctx context.Context, svg string, width, height, scale float64) (image.Image, error) {
	p, err := r.Browser.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	w, h := int(math.Ceil(width)), int(math.Ceil(height))
	if err := p.SetViewportSize(browser.Viewport{Width: w, Height: h, Scale: scale}); err != nil {
		return nil, err
	}
	if err := p.SetDocumentContent(rasterPage); err != nil {
		return nil, fmt.Errorf("screenshot: raster page: %w", err)
	}

	src := "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
	_, err = p.Eval(`(src, w, h) => new Promise((resolve, reject) => {
		const img = new Image(w, h);
		img.onload = () => resolve(true);
		img.onerror = () => reject(new Error("svg failed to load"));
		img.src = src;
		document.body.appendChild(img);
	})`, src, w, h)
	if err != nil {
		return nil, fmt.Errorf("screenshot: load svg: %w", err)
	}

	buf, err := p.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X: 0, Y: 0, Width: float64(w), Height: float64(h), Scale: 1,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: capture: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("screenshot: decode capture: %w", err)
	}
	return img, nil
}

// RodFrameCapturer captures cross-origin iframes from the live page they
// are displayed in.
type RodFrameCapturer struct {
	Page *browser.Page
}

func (c RodFrameCapturer) CaptureFrame(ctx context.Context, _ string, rect dom.Rect) (string, error) {
	if rect.Width <= 0 || rect.Height <= 0 {
		return "", fmt.Errorf("screenshot: empty frame rect")
	}
	buf, err := c.Page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X: rect.Left, Y: rect.Top, Width: rect.Width, Height: rect.Height, Scale: 1,
		},
	})
	if err != nil {
		return "", fmt.Errorf("screenshot: capture frame: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf), nil
}

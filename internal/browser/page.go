package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Viewport is the emulated window of a page.
type Viewport struct {
	Width  int
	Height int
	// Scale is the device pixel ratio. Default: 1.
	Scale float64
}

// Page is a Rod page opened by a Manager.
type Page struct {
	*rod.Page
	URL string
}

// NewPage opens an empty page with the manager's mode and resource
// blocking applied.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: not started")
	}

	var (
		p   *rod.Page
		err error
	)
	if m.cfg.Mode == ModePlain {
		p, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		p, err = stealth.Page(b)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: new page: %w", err)
	}
	if len(m.cfg.Block) > 0 {
		blockResources(p, m.cfg.Block)
	}
	return &Page{Page: p.Context(ctx)}, nil
}

// Open opens a page and navigates to url, waiting for the load event
// within the navigation timeout.
func (m *Manager) Open(ctx context.Context, url string, vp Viewport) (*Page, error) {
	p, err := m.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	if vp.Width > 0 && vp.Height > 0 {
		if err := p.SetViewportSize(vp); err != nil {
			p.Close()
			return nil, err
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancel()
	if err := p.Context(navCtx).Navigate(url); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: load not reached", "url", url, "error", err)
	}
	p.URL = url
	return p, nil
}

// SetViewportSize emulates the window size and pixel ratio.
func (p *Page) SetViewportSize(vp Viewport) error {
	scale := vp.Scale
	if scale <= 0 {
		scale = 1
	}
	err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: scale,
	})
	if err != nil {
		return fmt.Errorf("browser: set viewport: %w", err)
	}
	return nil
}

// Close closes the page.
func (p *Page) Close() error {
	if p.Page == nil {
		return nil
	}
	return p.Page.Close()
}

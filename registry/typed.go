package registry

import (
	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/location"
)

// RenderMatch is FindBestMatch for render-position handlers.
type RenderMatch struct {
	Handler annotation.RenderHandler
	Exact   bool
}

func (r *Registry) SetRenderHandler(loc location.Location, h annotation.RenderHandler) error {
	return r.Register(CapRenderPosition, loc, h)
}

func (r *Registry) ClearRenderHandler(loc location.Location) error {
	return r.Unregister(CapRenderPosition, loc)
}

// FindRender returns the best render handler for target; Handler is nil when
// none matches.
func (r *Registry) FindRender(target location.Location) RenderMatch {
	m := r.FindBestMatch(CapRenderPosition, target)
	if !m.Found {
		return RenderMatch{}
	}
	return RenderMatch{Handler: m.Handler.(annotation.RenderHandler), Exact: m.Exact}
}

func (r *Registry) SetCaptureHandler(loc location.Location, h annotation.CaptureHandler) error {
	return r.Register(CapCapture, loc, h)
}

func (r *Registry) ClearCaptureHandler(loc location.Location) error {
	return r.Unregister(CapCapture, loc)
}

// FindCapture returns the best capture handler for target, or nil.
func (r *Registry) FindCapture(target location.Location) annotation.CaptureHandler {
	m := r.FindBestMatch(CapCapture, target)
	if !m.Found {
		return nil
	}
	return m.Handler.(annotation.CaptureHandler)
}

func (r *Registry) SetClickHandler(loc location.Location, h annotation.ClickHandler) error {
	return r.Register(CapClick, loc, h)
}

func (r *Registry) ClearClickHandler(loc location.Location) error {
	return r.Unregister(CapClick, loc)
}

// FindClick returns the best click handler for target, or nil.
func (r *Registry) FindClick(target location.Location) annotation.ClickHandler {
	m := r.FindBestMatch(CapClick, target)
	if !m.Found {
		return nil
	}
	return m.Handler.(annotation.ClickHandler)
}

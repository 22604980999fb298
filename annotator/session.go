// Package annotator is the SDK session: it owns one page's handler
// registry, position resolver, tracker and screenshotter, persists
// annotations through the record store, and exposes all of it over HTTP and
// MCP.
package annotator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/dom/htmldom"
	"github.com/hazyhaar/pinpoint/finder"
	"github.com/hazyhaar/pinpoint/idgen"
	"github.com/hazyhaar/pinpoint/kit"
	"github.com/hazyhaar/pinpoint/location"
	"github.com/hazyhaar/pinpoint/observability"
	"github.com/hazyhaar/pinpoint/registry"
	"github.com/hazyhaar/pinpoint/resolver"
	"github.com/hazyhaar/pinpoint/screenshot"
	"github.com/hazyhaar/pinpoint/store"
	"github.com/hazyhaar/pinpoint/tracker"
	"github.com/hazyhaar/pinpoint/upload"
)

// ErrNoScreenshotter is returned by Screenshot when the session was
// created without a rasterizer.
var ErrNoScreenshotter = errors.New("annotator: screenshots are not configured")

// Snapshotter is implemented by live documents that can be captured into a
// static document for cloning.
type Snapshotter interface {
	Snapshot() (*htmldom.Document, error)
}

// Redrawer is implemented by live documents that can dispatch the redraw
// event on the page.
type Redrawer interface {
	Redraw() error
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Document is the page being annotated.
	Document dom.Document
	// Store persists annotations. Nil keeps them in the tracker only.
	Store *store.Store
	// Uploader stores screenshots. Nil returns them as data URLs.
	Uploader upload.Uploader
	// Screenshotter takes capture-time screenshots. Nil disables them.
	Screenshotter *screenshot.Screenshotter
	// IncludeBlurred also produces a blurred screenshot.
	IncludeBlurred bool
	// Metrics receives screenshot step timings. Nil drops them.
	Metrics *observability.MetricsManager
	// Audit records annotation creates, commits and deletes. Nil disables
	// the trail.
	Audit *observability.AuditLogger

	SourceID  string
	Strict    bool
	HideStale bool
	// Sources and Sinks are added to the tracker; the websocket stream is
	// always attached.
	Sources        []tracker.Source
	Sinks          []tracker.Sink
	PollInterval   time.Duration
	DebounceWindow time.Duration
	IDs            idgen.Generator
	Logger         *slog.Logger
}

// Session is one annotated page.
type Session struct {
	id       string
	doc      dom.Document
	reg      *registry.Registry
	res      *resolver.Resolver
	tracker  *tracker.Tracker
	stream   *Stream
	store    *store.Store
	uploader upload.Uploader
	shots    *screenshot.Screenshotter
	metrics  *observability.MetricsManager
	audit    *observability.AuditLogger
	blurred  bool
	sourceID string
	strict   bool
	ids      idgen.Generator
	logger   *slog.Logger

	// shotMu serialises screenshots: a Screenshotter runs one at a time.
	shotMu sync.Mutex

	mu      sync.Mutex
	drafts  map[string]annotation.Annotation
	visible location.Location
}

// NewSession wires a session over cfg.Document.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Document == nil {
		return nil, errors.New("annotator: document is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.UUIDv7()
	}
	s := &Session{
		id:       idgen.New(),
		doc:      cfg.Document,
		reg:      registry.New(cfg.Logger),
		stream:   NewStream(cfg.Logger),
		store:    cfg.Store,
		uploader: cfg.Uploader,
		shots:    cfg.Screenshotter,
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
		blurred:  cfg.IncludeBlurred,
		sourceID: cfg.SourceID,
		strict:   cfg.Strict,
		ids:      cfg.IDs,
		drafts:   make(map[string]annotation.Annotation),
	}
	s.logger = cfg.Logger.With("session", s.id)
	s.res = resolver.New(s.reg, s.logger)

	s.tracker = tracker.New(tracker.Config{
		Resolver:       s.res,
		Document:       cfg.Document,
		Sink:           tracker.NewRouter(s.logger, append([]tracker.Sink{s.stream}, cfg.Sinks...)...),
		Sources:        cfg.Sources,
		Strict:         cfg.Strict,
		HideStale:      cfg.HideStale,
		PollInterval:   cfg.PollInterval,
		DebounceWindow: cfg.DebounceWindow,
		Logger:         s.logger,
	})
	return s, nil
}

// ID identifies the session in logs and kit contexts.
func (s *Session) ID() string { return s.id }

// Registry is where the host registers its handlers.
func (s *Session) Registry() *registry.Registry { return s.reg }

// Resolver returns the session's position resolver.
func (s *Session) Resolver() *resolver.Resolver { return s.res }

// Tracker returns the session's recompute loop.
func (s *Session) Tracker() *tracker.Tracker { return s.tracker }

// Stream returns the websocket broadcaster of position batches.
func (s *Session) Stream() *Stream { return s.stream }

// Document returns the annotated page.
func (s *Session) Document() dom.Document { return s.doc }

// Run loads the stored annotations and runs the tracker until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	err := s.tracker.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the stream connections.
func (s *Session) Close() error { return s.stream.Close() }

// Show restricts the tracked annotations to those whose location contains
// loc; nil shows every annotation of this source.
func (s *Session) Show(ctx context.Context, loc location.Location) error {
	s.mu.Lock()
	s.visible = loc
	s.mu.Unlock()
	return s.Reload(ctx)
}

// Reload refreshes the tracked set from the store and pending drafts.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	filter := store.Filter{Location: s.visible, SourceID: s.sourceID}
	anns := make([]annotation.Annotation, 0, len(s.drafts))
	for _, a := range s.drafts {
		if filter.Location == nil || location.Matches(a.Location, filter.Location) {
			anns = append(anns, a)
		}
	}
	s.mu.Unlock()

	if s.store != nil {
		stored, err := s.store.Annotations(ctx, filter)
		if err != nil {
			return err
		}
		anns = append(stored, anns...)
	}
	s.tracker.SetAnnotations(anns)
	return nil
}

// Resolve positions one annotation now, outside the tracker.
func (s *Session) Resolve(ctx context.Context, ann annotation.Annotation, strict bool) resolver.Position {
	return s.res.Resolve(ctx, s.doc, ann, &ann.CoordsRelativeToTarget, strict || s.strict)
}

// Positions returns the tracker's current batch.
func (s *Session) Positions() tracker.Batch { return s.tracker.Positions() }

// Redraw asks every pin to recompute, and fires the redraw event on live
// pages so that page scripts see it too.
func (s *Session) Redraw() {
	if r, ok := s.doc.(Redrawer); ok {
		if err := r.Redraw(); err != nil {
			s.logger.Warn("annotator: page redraw failed", "error", err)
		}
	}
	s.tracker.Redraw()
}

// EncodeCoordinates serialises a viewport point for storage.
func (s *Session) EncodeCoordinates(p dom.Point) (string, error) {
	return resolver.ViewportCoordinatesToString(s.doc, p)
}

// DecodeCoordinates is the inverse of EncodeCoordinates on the current
// document.
func (s *Session) DecodeCoordinates(v string) (dom.Point, error) {
	return resolver.StringToViewportCoordinates(s.doc, v)
}

// CaptureRequest places a new pin.
type CaptureRequest struct {
	// Point is where the pin was dropped, in viewport coordinates.
	Point dom.Point `json:"point"`
	// Location is used when no annotation target encloses the point.
	Location  location.Location `json:"location,omitempty"`
	Label     string            `json:"label,omitempty"`
	ThreadID  string            `json:"thread_id,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	// Highlight is the text selected when the pin was dropped.
	Highlight *annotation.HighlightedTextConfig `json:"highlighted_text_config,omitempty"`
	// Screenshot takes a capture-time screenshot with the pin drawn.
	Screenshot bool `json:"screenshot,omitempty"`
}

// Capture is the outcome of CreateAnnotation.
type Capture struct {
	Record store.Record `json:"annotation"`
	// ScreenshotError explains a missing screenshot; the annotation is
	// created regardless.
	ScreenshotError string `json:"screenshot_error,omitempty"`
}

// CreateAnnotation builds a draft for a pin dropped at req.Point: it finds
// the annotation target under the point, runs the capture handler of its
// location, takes the screenshot and saves the draft.
func (s *Session) CreateAnnotation(ctx context.Context, req CaptureRequest) (*Capture, error) {
	start := time.Now()
	ann := annotation.Annotation{
		ID:                     s.ids(),
		Location:               req.Location,
		CustomLabel:            req.Label,
		SourceID:               s.sourceID,
		Draft:                  true,
		ThreadID:               req.ThreadID,
		MessageID:              req.MessageID,
		HighlightedTextConfig:  req.Highlight,
		CoordsRelativeToTarget: annotation.Centre,
	}

	el := s.doc.ElementFromPoint(req.Point)
	target, loc := finder.ClosestTarget(el)
	if target != nil {
		ann.Location = loc
	} else {
		target = el
	}
	if ann.Location == nil {
		ann.Location = location.Location{}
	}

	var capPos annotation.CapturePosition
	if target != nil {
		r := target.Rect()
		capPos = annotation.CapturePosition{X: req.Point.X - r.Left, Y: req.Point.Y - r.Top}
		ann.CoordsRelativeToTarget = annotation.Point{
			X: fraction(capPos.X, r.Width),
			Y: fraction(capPos.Y, r.Height),
		}
	}

	if h := s.reg.FindCapture(ann.Location); h != nil {
		res, err := callCapture(ctx, h, capPos, target)
		switch {
		case err != nil:
			s.logger.Warn("annotator: capture handler failed", "annotation", ann.ID, "error", err)
		case res != nil:
			if res.Location != nil {
				ann.CustomLocation = res.Location
			}
			if res.Label != "" && ann.CustomLabel == "" {
				ann.CustomLabel = res.Label
			}
		}
	}

	out := &Capture{}
	if req.Screenshot {
		shot, err := s.Screenshot(ctx, ScreenshotRequest{
			AnnotationID: ann.ID,
			Point:        &req.Point,
			Location:     ann.Location,
			Highlight:    req.Highlight,
			Blurred:      s.blurred,
		})
		if err != nil {
			// The annotation goes on without an image.
			s.logger.Warn("annotator: screenshot failed", "annotation", ann.ID, "error", err)
			out.ScreenshotError = err.Error()
		} else {
			ann.ScreenshotURL = shot.URL
			ann.BlurredScreenshotURL = shot.BlurredURL
			ann.Excerpt = shot.Excerpt
		}
	}

	rec, err := s.save(ctx, ann)
	s.auditOp(ctx, observability.OpAnnotationCreate, ann.ID, req, auditResult(rec, err), err, start)
	if err != nil {
		return nil, err
	}
	out.Record = rec
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("annotator: reload failed", "error", err)
	}
	return out, nil
}

func (s *Session) save(ctx context.Context, ann annotation.Annotation) (store.Record, error) {
	if s.store != nil {
		return s.store.Save(ctx, ann)
	}
	if err := ann.Validate(); err != nil {
		return store.Record{}, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	s.mu.Lock()
	s.drafts[ann.ID] = ann
	s.mu.Unlock()
	return store.Record{Annotation: ann}, nil
}

// Commit freezes a draft.
func (s *Session) Commit(ctx context.Context, id string) (store.Record, error) {
	start := time.Now()
	if s.store == nil {
		err := fmt.Errorf("annotator: commit %s: no store configured", id)
		s.auditOp(ctx, observability.OpAnnotationCommit, id, nil, nil, err, start)
		return store.Record{}, err
	}
	rec, err := s.store.Commit(ctx, id)
	s.auditOp(ctx, observability.OpAnnotationCommit, id, nil, auditResult(rec, err), err, start)
	if err != nil {
		return store.Record{}, err
	}
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("annotator: reload failed", "error", err)
	}
	return rec, nil
}

// Delete removes an annotation.
func (s *Session) Delete(ctx context.Context, id string) error {
	start := time.Now()
	if err := s.delete(ctx, id); err != nil {
		s.auditOp(ctx, observability.OpAnnotationDelete, id, nil, nil, err, start)
		return err
	}
	s.auditOp(ctx, observability.OpAnnotationDelete, id, nil, nil, nil, start)
	return s.Reload(ctx)
}

func (s *Session) delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, draft := s.drafts[id]
	delete(s.drafts, id)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Delete(ctx, id); err != nil && !(draft && errors.Is(err, store.ErrNotFound)) {
			return err
		}
	} else if !draft {
		return fmt.Errorf("annotator: %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// auditOp records op on annotation id when an audit trail is configured.
func (s *Session) auditOp(ctx context.Context, op, id string, params, result any, err error, start time.Time) {
	if s.audit == nil {
		return
	}
	e := s.audit.NewAuditEntry("annotator", op, params, result, err, time.Since(start))
	e.SessionID = s.id
	e.RequestID = kit.GetRequestID(ctx)
	e.AnnotationID = id
	s.audit.LogAsync(e)
}

// auditResult is the part of a saved record worth keeping in the trail.
func auditResult(rec store.Record, err error) any {
	if err != nil {
		return nil
	}
	return map[string]any{
		"location": rec.Location,
		"draft":    rec.Draft,
		"label":    rec.CustomLabel,
	}
}

// AuditTrail returns the audit entries matching f, or nil without an
// audit trail.
func (s *Session) AuditTrail(ctx context.Context, f observability.AuditFilter) ([]*observability.AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.Query(ctx, f)
}

// List returns the stored annotations matching f.
func (s *Session) List(ctx context.Context, f store.Filter) ([]store.Record, error) {
	if s.store == nil {
		var out []store.Record
		for _, a := range s.tracker.Annotations() {
			if f.Location != nil && !location.Matches(a.Location, f.Location) {
				continue
			}
			out = append(out, store.Record{Annotation: a})
		}
		return out, nil
	}
	return s.store.List(ctx, f)
}

// Click runs the click handler of an annotation's location.
func (s *Session) Click(ctx context.Context, id string) error {
	ann, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	h := s.reg.FindClick(ann.Location)
	if h == nil {
		return nil
	}
	if err := callClick(ctx, h, ann); err != nil {
		s.logger.Warn("annotator: click handler failed", "annotation", id, "error", err)
	}
	return nil
}

func (s *Session) lookup(ctx context.Context, id string) (annotation.Annotation, error) {
	s.mu.Lock()
	a, ok := s.drafts[id]
	s.mu.Unlock()
	if ok {
		return a, nil
	}
	if s.store != nil {
		rec, err := s.store.Get(ctx, id)
		if err != nil {
			return annotation.Annotation{}, err
		}
		return rec.Annotation, nil
	}
	return annotation.Annotation{}, fmt.Errorf("annotator: %s: %w", id, store.ErrNotFound)
}

// ScreenshotRequest asks for a screenshot of the current page.
type ScreenshotRequest struct {
	// AnnotationID names the uploaded objects. Empty generates one.
	AnnotationID string `json:"annotation_id,omitempty"`
	// Point draws the pin there, in viewport coordinates.
	Point    *dom.Point        `json:"point,omitempty"`
	Location location.Location `json:"location,omitempty"`
	// Highlight paints a text selection on the screenshot.
	Highlight *annotation.HighlightedTextConfig `json:"highlighted_text_config,omitempty"`
	Blurred   bool                              `json:"blurred,omitempty"`
}

// ScreenshotResult is where the images went.
type ScreenshotResult struct {
	URL          string `json:"url"`
	BlurredURL   string `json:"blurred_url,omitempty"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Excerpt      string `json:"excerpt,omitempty"`
	Placeholders int    `json:"placeholders,omitempty"`
	Highlighted  bool   `json:"highlighted,omitempty"`
	// TimingsMS are the step durations of the capture, in milliseconds.
	TimingsMS map[string]float64 `json:"timings_ms,omitempty"`
}

// Screenshot captures the page and uploads the images.
func (s *Session) Screenshot(ctx context.Context, req ScreenshotRequest) (*ScreenshotResult, error) {
	if s.shots == nil {
		return nil, ErrNoScreenshotter
	}
	src, err := s.screenshotSource()
	if err != nil {
		return nil, err
	}

	var info *screenshot.AnnotationInfo
	if req.Point != nil {
		src.Targets = s.targetsUnder(*req.Point, src.Targets)
		info = &screenshot.AnnotationInfo{Location: req.Location, Position: *req.Point, Highlight: req.Highlight}
	} else if req.Highlight != nil {
		info = &screenshot.AnnotationInfo{Location: req.Location, Highlight: req.Highlight}
	}

	s.shotMu.Lock()
	defer s.shotMu.Unlock()
	if err := s.shots.Start(ctx, src); err != nil {
		return nil, err
	}
	res, err := s.shots.Finish(ctx, info, req.Blurred)
	if err != nil {
		return nil, err
	}

	id := req.AnnotationID
	if id == "" {
		id = s.ids()
	}
	if s.metrics != nil {
		s.metrics.RecordDurations(observability.MetricScreenshotStep, res.Timings, map[string]string{
			"session":    s.id,
			"annotation": id,
		})
	}
	out := &ScreenshotResult{
		Width:        res.Width,
		Height:       res.Height,
		Excerpt:      res.Excerpt,
		Placeholders: res.Placeholders,
		Highlighted:  res.Highlighted,
		TimingsMS:    res.Timings.Milliseconds(),
	}
	if out.URL, err = s.publish(ctx, id, "regular", res.Regular); err != nil {
		return nil, err
	}
	if len(res.Blurred) > 0 {
		if out.BlurredURL, err = s.publish(ctx, id, "blurred", res.Blurred); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// targetsUnder narrows targets to the marked screenshot target enclosing p.
// Targets come from a snapshot of the page, so they are matched by path.
// Without an enclosing target all of them are kept.
func (s *Session) targetsUnder(p dom.Point, targets []dom.Node) []dom.Node {
	if len(targets) < 2 {
		return targets
	}
	el := finder.ClosestScreenshotTarget(s.doc.ElementFromPoint(p))
	if el == nil {
		return targets
	}
	path := el.Path()
	for _, t := range targets {
		if tp, ok := t.(interface{ Path() string }); ok && tp.Path() == path {
			return []dom.Node{t}
		}
	}
	return targets
}

func (s *Session) publish(ctx context.Context, id, variant string, png []byte) (string, error) {
	if s.uploader == nil {
		return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
	}
	url, err := s.uploader.Upload(ctx, upload.ScreenshotKey(id, variant), png, upload.ContentTypePNG)
	if err != nil {
		return "", fmt.Errorf("annotator: upload %s: %w", variant, err)
	}
	return url, nil
}

func (s *Session) screenshotSource() (screenshot.Source, error) {
	switch d := s.doc.(type) {
	case *htmldom.Document:
		return screenshot.SourceFromDocument(d), nil
	case Snapshotter:
		snap, err := d.Snapshot()
		if err != nil {
			return screenshot.Source{}, fmt.Errorf("annotator: snapshot: %w", err)
		}
		return screenshot.SourceFromDocument(snap), nil
	default:
		return screenshot.Source{}, fmt.Errorf("annotator: %T cannot be captured", s.doc)
	}
}

// fraction is v/total clamped to [0,1]; a zero-size box yields its centre.
func fraction(v, total float64) float64 {
	if total <= 0 {
		return 0.5
	}
	return math.Min(1, math.Max(0, v/total))
}

func callCapture(ctx context.Context, h annotation.CaptureHandler, pos annotation.CapturePosition, el dom.Element) (res *annotation.CaptureResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capture handler panic: %v", r)
		}
	}()
	return h(ctx, pos, el)
}

func callClick(ctx context.Context, h annotation.ClickHandler, ann annotation.Annotation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("click handler panic: %v", r)
		}
	}()
	return h(ctx, ann)
}

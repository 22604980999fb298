// Package screenshot captures what the user sees when placing an
// annotation. The page is cloned node by node with computed styles frozen
// inline, composed into an SVG foreignObject, rasterized, and the pin drawn
// on top.
//
// A Screenshotter runs one operation at a time:
//
//	Idle → Cloning → Decorated → Composed → Done
//
// with Failed and Cancelled as terminal alternatives. Start begins cloning
// in the background so that the visible state is frozen at the moment the
// user starts placing an annotation; Finish composes and rasterizes once
// the pin position is known.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/idgen"
	"github.com/hazyhaar/pinpoint/location"
)

// State of the current screenshot operation.
type State int

const (
	StateIdle State = iota
	StateCloning
	StateDecorated
	StateComposed
	StateDone
	StateFailed
	StateCancelled
)

var stateNames = [...]string{"idle", "cloning", "decorated", "composed", "done", "failed", "cancelled"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// ErrInProgress is returned by Start while another screenshot runs.
var ErrInProgress = errors.New("screenshot: already in progress")

// ErrNotStarted is returned by Finish without a matching Start.
var ErrNotStarted = errors.New("screenshot: not started")

// AnnotationInfo places the pin on a finished screenshot.
type AnnotationInfo struct {
	Location location.Location
	// Position is the viewport-relative point the annotation was placed at.
	Position dom.Point
	// Highlight is the text selection to paint, if any.
	Highlight *annotation.HighlightedTextConfig
}

// Result is a finished screenshot.
type Result struct {
	Regular []byte `json:"-"`
	Blurred []byte `json:"-"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	// Excerpt is the captured text, for alt text and search.
	Excerpt      string `json:"excerpt,omitempty"`
	Placeholders int    `json:"placeholders,omitempty"`
	// Highlighted reports that the requested text selection was painted.
	Highlighted bool    `json:"highlighted,omitempty"`
	Timings     Timings `json:"-"`
}

// Config for creating a Screenshotter.
type Config struct {
	Options    Options
	Rasterizer Rasterizer
	Images     *ImageLoader
	Frames     FrameCapturer
	IDs        idgen.Generator
	Logger     *slog.Logger
}

type job struct {
	done    chan struct{}
	clone   *Clone
	err     error
	src     Source
	targets []dom.Node
	clip    bool
	yield   *Yielder
	timer   *timer

	cancelled atomic.Bool
}

func (j *job) cancel() {
	j.cancelled.Store(true)
	j.yield.Cancel()
}

// Screenshotter takes screenshots of one page.
type Screenshotter struct {
	opts   Options
	raster Rasterizer
	cloner *DocumentCloner
	logger *slog.Logger

	mu    sync.Mutex
	state State
	job   *job
}

// New creates a Screenshotter.
func New(cfg Config) (*Screenshotter, error) {
	if cfg.Rasterizer == nil {
		return nil, errors.New("screenshot: rasterizer required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Options.defaults()
	dc, err := NewDocumentCloner(DocumentClonerConfig{
		Options: cfg.Options,
		Images:  cfg.Images,
		Frames:  cfg.Frames,
		IDs:     cfg.IDs,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Screenshotter{
		opts:   cfg.Options,
		raster: cfg.Rasterizer,
		cloner: dc,
		logger: cfg.Logger,
	}, nil
}

// State returns the state of the current or last operation.
func (s *Screenshotter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState records st for j unless a newer operation replaced it.
func (s *Screenshotter) setState(j *job, st State) {
	s.mu.Lock()
	if s.job == j {
		s.state = st
	}
	s.mu.Unlock()
}

// Start begins cloning src in the background. Targets are, in order: the
// Target option, the marked elements of src, or the whole body clipped to
// the viewport.
func (s *Screenshotter) Start(ctx context.Context, src Source) error {
	s.mu.Lock()
	if s.job != nil {
		s.mu.Unlock()
		s.logger.Warn("screenshot: already in progress")
		return ErrInProgress
	}
	j := &job{done: make(chan struct{}), src: src, yield: NewYielder(s.opts.YieldBudget), timer: newTimer()}
	j.timer.start(StepTotal)
	switch {
	case s.opts.Target != nil:
		j.targets = []dom.Node{s.opts.Target}
	case len(src.Targets) > 0:
		j.targets = src.Targets
	default:
		j.targets = []dom.Node{src.Body}
		j.clip = true
	}
	s.job = j
	s.state = StateCloning
	s.mu.Unlock()

	go func() {
		defer close(j.done)
		j.clone, j.err = s.cloner.cloneWith(ctx, j.yield, src, j.targets, j.clip)
		switch {
		case j.cancelled.Load() || errors.Is(j.err, ErrCancelled):
			s.setState(j, StateCancelled)
		case j.err != nil:
			s.setState(j, StateFailed)
		default:
			s.setState(j, StateDecorated)
		}
	}()
	return nil
}

// Finish waits for the clone, composes it and produces the PNG. The pin is
// drawn when info is non-nil. On failure the operation is cancelled and
// the error returned; the caller decides whether to go on without an
// image. Finish after Cancel returns ErrCancelled.
func (s *Screenshotter) Finish(ctx context.Context, info *AnnotationInfo, includeBlurred bool) (*Result, error) {
	s.mu.Lock()
	j := s.job
	if j == nil {
		cancelled := s.state == StateCancelled
		s.mu.Unlock()
		if cancelled {
			return nil, ErrCancelled
		}
		return nil, ErrNotStarted
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.job == j {
			s.job = nil
		}
		s.mu.Unlock()
	}()

	res, err := s.finish(ctx, j, info, includeBlurred)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			s.setState(j, StateCancelled)
			return nil, err
		}
		s.logger.Error("screenshot: finish failed", "error", err)
		j.cancel()
		s.setState(j, StateFailed)
		return nil, err
	}
	s.setState(j, StateDone)
	return res, nil
}

func (s *Screenshotter) finish(ctx context.Context, j *job, info *AnnotationInfo, includeBlurred bool) (*Result, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		j.cancel()
		return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	if j.err != nil {
		return nil, j.err
	}
	if j.cancelled.Load() {
		return nil, ErrCancelled
	}

	// The frame the user saw while placing the pin.
	j.clone.cloner.refreshVideos()

	excerpt, err := Excerpt(j.clone.Roots[0])
	if err != nil {
		s.logger.Debug("screenshot: excerpt failed", "error", err)
	}

	t := j.timer
	t.merge(j.clone.Timings)
	highlighted := false
	if info != nil && info.Highlight != nil {
		t.start(StepHighlight)
		if err := j.clone.highlight(info.Highlight, s.opts.HighlightColor); err != nil {
			s.logger.Warn("screenshot: highlight failed", "error", err)
		} else {
			highlighted = true
		}
		t.stop(StepHighlight)
	}

	t.start(StepCompose)
	svgs, err := s.cloner.Compose(j.clone)
	if err != nil {
		return nil, err
	}
	t.stop(StepCompose)
	s.setState(j, StateComposed)
	svg := svgs[0]

	pr := s.opts.PixelRatio
	w, h := svg.Width, svg.Height
	if j.clip {
		w, h = s.cloner.outputWidth(j.src.Viewport), s.cloner.outputHeight(j.src.Viewport)
	}
	pw, ph := int(math.Round(w*pr)), int(math.Round(h*pr))

	t.start(StepRasterize)
	img, err := s.raster.Rasterize(ctx, svg.Markup, w, h, pr)
	if err != nil {
		return nil, fmt.Errorf("screenshot: rasterize: %w", err)
	}
	t.stop(StepRasterize)
	bg := parseColor(s.opts.BackgroundColor, color.White)
	base := newCanvas(pw, ph, bg)
	drawScaled(base, img)

	out := base
	if info != nil {
		out = newCanvas(pw, ph, bg)
		copy(out.Pix, base.Pix)
		var origin dom.Rect
		if !j.clip {
			origin = j.clone.Rects[0]
		}
		drawPin(out,
			(info.Position.X-origin.Left)*pr,
			(info.Position.Y-origin.Top)*pr,
			s.opts.PinSize*pr,
			parseColor(s.opts.PinColor, color.Black),
			parseColor(s.opts.PinOutlineColor, color.White))
	}

	res := &Result{
		Width:        pw,
		Height:       ph,
		Excerpt:      excerpt,
		Placeholders: j.clone.cloner.Placeholders(),
		Highlighted:  highlighted,
	}
	t.start(StepEncode)
	if res.Regular, err = encodePNG(out); err != nil {
		return nil, err
	}
	if includeBlurred {
		if res.Blurred, err = encodePNG(blur(base, s.opts.BlurRadius*pr)); err != nil {
			return nil, err
		}
	}
	t.stop(StepEncode, StepTotal)
	res.Timings = t.snapshot()
	return res, nil
}

// Take screenshots src without a pin.
func (s *Screenshotter) Take(ctx context.Context, src Source) (*Result, error) {
	if err := s.Start(ctx, src); err != nil {
		return nil, err
	}
	return s.Finish(ctx, nil, s.opts.IncludeBlurredVersion)
}

// Cancel abandons the operation in progress. A pending Finish returns
// ErrCancelled, and the next Start may begin right away: the abandoned
// clone stops at its next checkpoint and its result is dropped.
func (s *Screenshotter) Cancel() {
	s.mu.Lock()
	j := s.job
	if j != nil {
		j.cancel()
		s.job = nil
		s.state = StateCancelled
	}
	s.mu.Unlock()
}

package roddom

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/tracker"
)

//go:embed events.js
var eventsJS string

const eventsBinding = "__pinpoint_events"

// DefaultEditorSelectors are the elements watched for mutations that move
// content without scrolling.
var DefaultEditorSelectors = []string{".monaco-editor .view-lines"}

// Events is a tracker.Source fed by listeners installed in the page:
// scroll, resize, visibility, the redraw event and editor mutations.
type Events struct {
	Page            *rod.Page
	EditorSelectors []string
	Logger          *slog.Logger
}

var _ tracker.Source = (*Events)(nil)

// Start installs the listeners and forwards their events to out until ctx
// is done. Listeners are reinstalled on navigation.
func (e *Events) Start(ctx context.Context, out chan<- tracker.Trigger) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	selectors := e.EditorSelectors
	if selectors == nil {
		selectors = DefaultEditorSelectors
	}

	if err := (proto.RuntimeAddBinding{Name: eventsBinding}).Call(e.Page); err != nil {
		logger.Warn("roddom: addBinding failed (may already exist)", "error", err)
	}

	wait := e.Page.Context(ctx).EachEvent(func(ev *proto.RuntimeBindingCalled) {
		if ev.Name != eventsBinding {
			return
		}
		tr, err := parseEvent(ev.Payload)
		if err != nil {
			logger.Debug("roddom: bad event payload", "error", err)
			return
		}
		select {
		case out <- tr:
		case <-ctx.Done():
		}
	})
	go wait()

	sel, err := json.Marshal(selectors)
	if err != nil {
		return fmt.Errorf("roddom: selectors: %w", err)
	}
	script := fmt.Sprintf("(%s)(%q, %s, %q)", eventsJS, eventsBinding, sel, dom.RedrawEventName)
	if _, err := e.Page.EvalOnNewDocument(script); err != nil {
		return fmt.Errorf("roddom: install events on navigation: %w", err)
	}
	if _, err := e.Page.Context(ctx).Eval(eventsJS, eventsBinding, selectors, dom.RedrawEventName); err != nil {
		return fmt.Errorf("roddom: install events: %w", err)
	}
	logger.Debug("roddom: event listeners installed", "selectors", selectors)
	return nil
}

var eventReasons = map[string]tracker.Reason{
	"scroll":     tracker.ReasonScroll,
	"resize":     tracker.ReasonResize,
	"visibility": tracker.ReasonVisibility,
	"redraw":     tracker.ReasonRedraw,
	"mutation":   tracker.ReasonMutation,
}

// parseEvent decodes one binding payload.
func parseEvent(payload string) (tracker.Trigger, error) {
	var ev struct {
		Reason  string `json:"reason"`
		Visible bool   `json:"visible"`
	}
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return tracker.Trigger{}, err
	}
	r, ok := eventReasons[ev.Reason]
	if !ok {
		return tracker.Trigger{}, fmt.Errorf("unknown event %q", ev.Reason)
	}
	return tracker.Trigger{Reason: r, Visible: ev.Visible, At: time.Now()}, nil
}

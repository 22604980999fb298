package roddom

import (
	"strings"
	"testing"

	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/tracker"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		payload string
		reason  tracker.Reason
		visible bool
		wantErr bool
	}{
		{`{"reason":"scroll"}`, tracker.ReasonScroll, false, false},
		{`{"reason":"resize"}`, tracker.ReasonResize, false, false},
		{`{"reason":"visibility","visible":true}`, tracker.ReasonVisibility, true, false},
		{`{"reason":"visibility","visible":false}`, tracker.ReasonVisibility, false, false},
		{`{"reason":"redraw"}`, tracker.ReasonRedraw, false, false},
		{`{"reason":"mutation"}`, tracker.ReasonMutation, false, false},
		{`{"reason":"poll"}`, "", false, true},
		{`not json`, "", false, true},
	}
	for _, tt := range tests {
		tr, err := parseEvent(tt.payload)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseEvent(%s) error = %v", tt.payload, err)
			continue
		}
		if tt.wantErr {
			continue
		}
		if tr.Reason != tt.reason || tr.Visible != tt.visible || tr.At.IsZero() {
			t.Errorf("parseEvent(%s) = %+v", tt.payload, tr)
		}
	}
}

func TestScripts(t *testing.T) {
	for _, want := range []string{"window.__pinpoint", "data-pinpoint-node", "shadowrootmode", "snapshot()"} {
		if !strings.Contains(pinpointJS, want) {
			t.Errorf("pinpoint.js lacks %q", want)
		}
	}
	if !strings.HasPrefix(strings.TrimSpace(eventsJS), "(binding, selectors, redrawEvent) =>") {
		t.Error("events.js must be a function of the binding, the selectors and the redraw event")
	}
	if len(DefaultEditorSelectors) != 1 || DefaultEditorSelectors[0] != ".monaco-editor .view-lines" {
		t.Errorf("editor selectors: %v", DefaultEditorSelectors)
	}
	if dom.RedrawEventName != "cord-redraw-annotations" {
		t.Errorf("redraw event: %q", dom.RedrawEventName)
	}
}

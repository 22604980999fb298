// Package annotation holds the annotation record and the contracts between
// pinpoint and the host application's handlers.
package annotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/pinpoint/dom"
	"github.com/hazyhaar/pinpoint/location"
)

// Annotation is a pin placed on a page. Drafts are created client-side and
// become immutable once committed; deletion is the only later change.
type Annotation struct {
	ID                     string                 `json:"id"`
	Location               location.Location      `json:"location"`
	CustomLocation         location.Location      `json:"custom_location,omitempty"`
	HighlightedTextConfig  *HighlightedTextConfig `json:"highlighted_text_config,omitempty"`
	CustomLabel            string                 `json:"custom_label,omitempty"`
	CoordsRelativeToTarget Point                  `json:"coords_relative_to_target"`
	SourceID               string                 `json:"source_id"`
	Draft                  bool                   `json:"draft"`
	ThreadID               string                 `json:"thread_id,omitempty"`
	MessageID              string                 `json:"message_id,omitempty"`
	ScreenshotURL          string                 `json:"screenshot_url,omitempty"`
	BlurredScreenshotURL   string                 `json:"blurred_screenshot_url,omitempty"`
	Excerpt                string                 `json:"excerpt,omitempty"`
}

// HighlightedTextConfig records a text selection the annotation was placed on.
type HighlightedTextConfig struct {
	StartElementXPath string `json:"start_element_xpath"`
	StartNodeIndex    int    `json:"start_node_index"`
	StartNodeOffset   int    `json:"start_node_offset"`
	EndElementXPath   string `json:"end_element_xpath"`
	EndNodeIndex      int    `json:"end_node_index"`
	EndNodeOffset     int    `json:"end_node_offset"`
	SelectedText      string `json:"selected_text"`
	TextToDisplay     string `json:"text_to_display,omitempty"`
}

// Point is a plain coordinate pair. For CoordsRelativeToTarget both values
// are fractions of the target box in [0,1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Centre is the default relative position when none was recorded.
var Centre = Point{X: 0.5, Y: 0.5}

// Validate checks the fields a renderer relies on.
func (a *Annotation) Validate() error {
	if a.ID == "" {
		return errors.New("annotation: missing id")
	}
	if a.Location == nil {
		return fmt.Errorf("annotation %s: missing location", a.ID)
	}
	if !location.IsLocation(a.Location) {
		return fmt.Errorf("annotation %s: location is not flat", a.ID)
	}
	if a.CustomLocation != nil && !location.IsLocation(a.CustomLocation) {
		return fmt.Errorf("annotation %s: custom location is not flat", a.ID)
	}
	c := a.CoordsRelativeToTarget
	if c.X < 0 || c.X > 1 || c.Y < 0 || c.Y > 1 {
		return fmt.Errorf("annotation %s: relative coords %v outside [0,1]", a.ID, c)
	}
	return nil
}

// RenderPosition is a handler's answer. Without Element, Coordinates are
// document-relative; with it, they are relative to the element's box.
type RenderPosition struct {
	Coordinates *Coordinates
	Element     dom.Element
}

// Empty reports whether the position carries nothing usable.
func (p *RenderPosition) Empty() bool {
	return p == nil || (p.Coordinates == nil && p.Element == nil)
}

// CapturePosition is where a user placed a new pin, relative to the element
// under the cursor.
type CapturePosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CaptureResult lets a capture handler augment the new annotation.
type CaptureResult struct {
	Location location.Location `json:"location,omitempty"`
	Label    string            `json:"label,omitempty"`
}

// RenderHandler computes where an annotation should be drawn. It is called on
// every recompute and must not have side effects. Returning (nil, nil) means
// "no answer"; errors and panics are treated the same way.
type RenderHandler func(ctx context.Context, ann Annotation, coords *Point) (*RenderPosition, error)

// CaptureHandler is invoked once when a pin is placed.
type CaptureHandler func(ctx context.Context, pos CapturePosition, el dom.Element) (*CaptureResult, error)

// ClickHandler is invoked once when a rendered pin is clicked.
type ClickHandler func(ctx context.Context, ann Annotation) error

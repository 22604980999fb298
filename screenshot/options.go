package screenshot

import (
	"time"

	"github.com/hazyhaar/pinpoint/dom"
)

// Defaults for Options.
const (
	DefaultBackgroundColor = "#ffffff"
	DefaultPinSize         = 24
	DefaultPinColor        = "#7b61ff"
	DefaultPinOutlineColor = "#ffffff"
	DefaultBlurRadius      = 6
)

// Options controls how screenshots are taken.
type Options struct {
	// Width and Height override the output size of viewport screenshots.
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
	// PixelRatio scales the output image. Default: 1.
	PixelRatio float64 `yaml:"pixel_ratio"`
	// BackgroundColor is used when neither the captured root nor the page
	// has an opaque background. Default: white.
	BackgroundColor string `yaml:"background_color"`
	// Style is extra inline style applied to viewport clones.
	Style map[string]string `yaml:"style"`
	// CropRectangle restricts the composed image, in clone coordinates.
	CropRectangle *dom.Rect `yaml:"crop_rectangle"`
	// Target, when set, is screenshotted instead of marked targets.
	Target dom.Node `yaml:"-"`
	// Filter excludes nodes from the clone.
	Filter Filter `yaml:"-"`

	IncludeBlurredVersion bool    `yaml:"include_blurred_version"`
	BlurRadius            float64 `yaml:"blur_radius"`

	PinSize         float64 `yaml:"pin_size"`
	PinColor        string  `yaml:"pin_color"`
	PinOutlineColor string  `yaml:"pin_outline_color"`

	// HighlightColor paints the selected text of an annotation.
	HighlightColor string `yaml:"highlight_color"`

	// YieldBudget is the continuous clone work between two yields.
	YieldBudget time.Duration `yaml:"yield_budget"`
}

func (o *Options) defaults() {
	if o.PixelRatio <= 0 {
		o.PixelRatio = 1
	}
	if o.BackgroundColor == "" {
		o.BackgroundColor = DefaultBackgroundColor
	}
	if o.BlurRadius <= 0 {
		o.BlurRadius = DefaultBlurRadius
	}
	if o.PinSize <= 0 {
		o.PinSize = DefaultPinSize
	}
	if o.PinColor == "" {
		o.PinColor = DefaultPinColor
	}
	if o.PinOutlineColor == "" {
		o.PinOutlineColor = DefaultPinOutlineColor
	}
	if o.HighlightColor == "" {
		o.HighlightColor = DefaultHighlightColor
	}
	if o.YieldBudget <= 0 {
		o.YieldBudget = DefaultYieldBudget
	}
}

package screenshot

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
	"golang.org/x/net/html"

	"github.com/hazyhaar/pinpoint/dom"
)

// PlaceholderText is drawn in place of content that could not be cloned.
const PlaceholderText = "Content not available"

const maxPlaceholderSide = 4096

var (
	placeholderBackground = color.RGBA{R: 0xee, G: 0xee, B: 0xee, A: 0xff}
	placeholderForeground = color.RGBA{R: 0x70, G: 0x70, B: 0x70, A: 0xff}

	placeholderFont     *truetype.Font
	placeholderFontErr  error
	placeholderFontOnce sync.Once

	placeholderCache, _ = lru.New[image.Point, string](64)
)

func loadPlaceholderFont() (*truetype.Font, error) {
	placeholderFontOnce.Do(func() {
		placeholderFont, placeholderFontErr = freetype.ParseFont(goregular.TTF)
	})
	return placeholderFont, placeholderFontErr
}

// placeholderPNG draws a grey box of w×h with the label centred when it
// fits.
func placeholderPNG(w, h int) ([]byte, error) {
	w = min(max(w, 1), maxPlaceholderSide)
	h = min(max(h, 1), maxPlaceholderSide)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(placeholderBackground), image.Point{}, draw.Src)

	size := min(14, float64(h)/2)
	if size >= 6 {
		f, err := loadPlaceholderFont()
		if err != nil {
			return nil, fmt.Errorf("screenshot: placeholder font: %w", err)
		}
		face := truetype.NewFace(f, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingFull})
		d := &font.Drawer{Dst: img, Src: image.NewUniform(placeholderForeground), Face: face}
		if adv := d.MeasureString(PlaceholderText).Ceil(); adv <= w {
			d.Dot = fixed.P((w-adv)/2, (h+int(size*0.7))/2)
			d.DrawString(PlaceholderText)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("screenshot: encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

// placeholderDataURL returns a cached PNG data URL for the size.
func placeholderDataURL(w, h int) (string, error) {
	key := image.Point{X: w, Y: h}
	if v, ok := placeholderCache.Get(key); ok {
		return v, nil
	}
	b, err := placeholderPNG(w, h)
	if err != nil {
		return "", err
	}
	v := "data:image/png;base64," + base64.StdEncoding.EncodeToString(b)
	placeholderCache.Add(key, v)
	return v, nil
}

// newPlaceholder builds the image element standing in for a node at rect.
func newPlaceholder(rect dom.Rect) *html.Node {
	img := newElement("img")
	setAttr(img, "alt", PlaceholderText)
	setAttr(img, "data-pinpoint-placeholder", "")
	if src, err := placeholderDataURL(int(rect.Width), int(rect.Height)); err == nil {
		setAttr(img, "src", src)
	}
	setStyleProp(img, "display", "inline-block", false)
	setStyleProp(img, "width", px(rect.Width), false)
	setStyleProp(img, "height", px(rect.Height), false)
	return img
}

// IsPlaceholder reports whether a clone node stands in for failed content.
func IsPlaceholder(n *html.Node) bool {
	_, ok := getAttr(n, "data-pinpoint-placeholder")
	return ok
}

package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Rasterizer renders a composed SVG document. The returned image should
// be width×height CSS pixels multiplied by scale; other sizes are resampled.
type Rasterizer interface {
	Rasterize(ctx context.Context, svg string, width, height, scale float64) (image.Image, error)
}

// RasterizerFunc adapts a function to Rasterizer.
type RasterizerFunc func(ctx context.Context, svg string, width, height, scale float64) (image.Image, error)

func (f RasterizerFunc) Rasterize(ctx context.Context, svg string, width, height, scale float64) (image.Image, error) {
	return f(ctx, svg, width, height, scale)
}

// newCanvas creates a w×h image filled with bg.
func newCanvas(w, h int, bg color.Color) *image.RGBA {
	c := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.Draw(c, c.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	return c
}

// drawScaled paints src over the whole of dst, resampling when the sizes
// differ.
func drawScaled(dst *image.RGBA, src image.Image) {
	if src.Bounds().Size() == dst.Bounds().Size() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
		return
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
}

// drawPin paints an annotation pin whose tip is at (x, y): a disc above
// and to the right of the tip, joined to it by a square corner.
func drawPin(dst *image.RGBA, x, y, size float64, fill, outline color.Color) {
	r := size / 2
	ow := math.Max(1, size/12)
	paintPin(dst, x, y, r+ow, ow, outline)
	paintPin(dst, x, y, r, 0, fill)
}

func paintPin(dst *image.RGBA, tx, ty, r, grow float64, c color.Color) {
	// Shape of radius r around the centre of the un-grown pin.
	cx, cy := tx+r-grow, ty-r+grow
	minX, maxX := int(math.Floor(tx-grow)), int(math.Ceil(cx+r))
	minY, maxY := int(math.Floor(cy-r)), int(math.Ceil(ty+grow))
	b := dst.Bounds()
	for py := max(minY, b.Min.Y); py < min(maxY, b.Max.Y); py++ {
		for px := max(minX, b.Min.X); px < min(maxX, b.Max.X); px++ {
			fx, fy := float64(px)+0.5, float64(py)+0.5
			inDisc := (fx-cx)*(fx-cx)+(fy-cy)*(fy-cy) <= r*r
			inCorner := fx >= tx-grow && fx <= cx && fy >= cy && fy <= ty+grow
			if inDisc || inCorner {
				dst.Set(px, py, c)
			}
		}
	}
}

// blur returns a gaussian-blurred copy of src; radius is the standard
// deviation in output pixels.
func blur(src image.Image, radius float64) image.Image {
	if radius <= 0 {
		return imaging.Clone(src)
	}
	return imaging.Blur(src, radius)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("screenshot: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// parseColor reads the CSS colour forms a computed style produces, plus
// hex notation. Unknown values yield fallback.
func parseColor(s string, fallback color.Color) color.Color {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "white":
		return color.White
	case "black":
		return color.Black
	case "transparent":
		return color.Transparent
	}
	if strings.HasPrefix(s, "#") {
		return parseHex(s[1:], fallback)
	}
	inner, ok := strings.CutPrefix(s, "rgba(")
	if !ok {
		inner, ok = strings.CutPrefix(s, "rgb(")
	}
	if !ok {
		return fallback
	}
	parts := strings.FieldsFunc(strings.TrimSuffix(inner, ")"), func(r rune) bool {
		return r == ',' || r == ' ' || r == '/'
	})
	if len(parts) < 3 {
		return fallback
	}
	var ch [4]float64
	ch[3] = 1
	for i := 0; i < len(parts) && i < 4; i++ {
		v, err := strconv.ParseFloat(strings.TrimSuffix(parts[i], "%"), 64)
		if err != nil {
			return fallback
		}
		if strings.HasSuffix(parts[i], "%") {
			v /= 100
			if i < 3 {
				v *= 255
			}
		}
		ch[i] = v
	}
	a := math.Min(math.Max(ch[3], 0), 1)
	c := color.NRGBA{R: clamp8(ch[0]), G: clamp8(ch[1]), B: clamp8(ch[2]), A: uint8(math.Round(a * 255))}
	return c
}

func parseHex(h string, fallback color.Color) color.Color {
	if len(h) == 3 || len(h) == 4 {
		var b strings.Builder
		for _, r := range h {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		h = b.String()
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return fallback
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return fallback
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}

func clamp8(v float64) uint8 {
	return uint8(math.Round(math.Min(math.Max(v, 0), 255)))
}

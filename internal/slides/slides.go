// Package slides prepares DAB+ MOT slideshow images for HTTP clients: it
// decodes jpeg, png and webp slides, scales them, and renders a text
// placeholder when a service carries no slide.
package slides

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

// MaxWidth bounds the requested output width.
const MaxWidth = 1024

// ErrBadWidth is returned for a width outside 1..MaxWidth.
var ErrBadWidth = errors.New("width must be between 1 and 1024")

const jpegQuality = 85

// Scale decodes data and re-encodes it as a jpeg width pixels wide, keeping
// the aspect ratio. Slides already narrower than width are not enlarged.
func Scale(data []byte, width int) ([]byte, error) {
	if width < 1 || width > MaxWidth {
		return nil, ErrBadWidth
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode slide: %w", err)
	}
	b := src.Bounds()
	if b.Dx() <= width {
		width = b.Dx()
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode %s slide: %w", format, err)
	}
	return out.Bytes(), nil
}

// Placeholder-card layout, in 7x13 character cells.
const (
	charW = 7
	charH = 13
)

var (
	background = color.RGBA{0x1e, 0x1e, 0x2e, 0xff}
	foreground = color.RGBA{0xff, 0xff, 0xff, 0xff}
	subtle     = color.RGBA{0x99, 0x99, 0x99, 0xff}
)

// Placeholder renders a width x height jpeg card with the service name
// centred and the ensemble underneath.
func Placeholder(title, subtitle string, width, height int) ([]byte, error) {
	if width < 1 || width > MaxWidth || height < 1 || height > MaxWidth {
		return nil, ErrBadWidth
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)

	cols := width/charW - 2
	lines := wrap(title, cols)
	if subtitle != "" {
		lines = append(lines, "")
	}
	y := (height-len(lines)*charH)/2 + charH
	for _, l := range lines {
		drawCentered(img, l, y, foreground)
		y += charH
	}
	if subtitle != "" {
		drawCentered(img, truncate(subtitle, cols), y, subtle)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func drawCentered(img *image.RGBA, text string, y int, col color.Color) {
	x := (img.Bounds().Dx() - len(text)*charW) / 2
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// wrap breaks s into lines of at most cols characters on word boundaries.
func wrap(s string, cols int) []string {
	if cols < 1 {
		return nil
	}
	var lines []string
	var cur string
	for _, w := range strings.Fields(s) {
		w = truncate(w, cols)
		switch {
		case cur == "":
			cur = w
		case len(cur)+1+len(w) <= cols:
			cur += " " + w
		default:
			lines = append(lines, cur)
			cur = w
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

func truncate(s string, n int) string {
	if n < 1 {
		return ""
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}

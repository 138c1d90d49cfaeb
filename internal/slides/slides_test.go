package slides

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"reflect"
	"testing"
)

func pngSlide(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 0x80, 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a jpeg: %v", err)
	}
	return img
}

func TestScale(t *testing.T) {
	tests := []struct {
		name         string
		w, h, width  int
		wantW, wantH int
	}{
		{"downscale", 320, 240, 160, 160, 120},
		{"no upscale", 320, 240, 800, 320, 240},
		{"tall", 100, 400, 50, 50, 200},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Scale(pngSlide(t, tc.w, tc.h), tc.width)
			if err != nil {
				t.Fatal(err)
			}
			b := decodeJPEG(t, out).Bounds()
			if b.Dx() != tc.wantW || b.Dy() != tc.wantH {
				t.Errorf("size = %dx%d, want %dx%d", b.Dx(), b.Dy(), tc.wantW, tc.wantH)
			}
		})
	}
}

func TestScaleErrors(t *testing.T) {
	if _, err := Scale(pngSlide(t, 10, 10), 0); !errors.Is(err, ErrBadWidth) {
		t.Errorf("width 0: %v", err)
	}
	if _, err := Scale(pngSlide(t, 10, 10), MaxWidth+1); !errors.Is(err, ErrBadWidth) {
		t.Errorf("width too large: %v", err)
	}
	if _, err := Scale([]byte("not an image"), 100); err == nil {
		t.Error("garbage decoded")
	}
}

func TestPlaceholder(t *testing.T) {
	out, err := Placeholder("Triple J", "ABC Perth 9B", 320, 240)
	if err != nil {
		t.Fatal(err)
	}
	img := decodeJPEG(t, out)
	if b := img.Bounds(); b.Dx() != 320 || b.Dy() != 240 {
		t.Errorf("size = %v", b)
	}
	// Some pixel in the text band must differ from the background.
	lit := false
	for x := 0; x < 320 && !lit; x++ {
		for y := 100; y < 140; y++ {
			r, _, _, _ := img.At(x, y).RGBA()
			if r>>8 > 0x60 {
				lit = true
				break
			}
		}
	}
	if !lit {
		t.Error("no text drawn")
	}
}

func TestWrap(t *testing.T) {
	got := wrap("Double J Classic Hits", 10)
	want := []string{"Double J", "Classic", "Hits"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("wrap = %q, want %q", got, want)
	}
	if got := wrap("Supercalifragilistic", 5); !reflect.DeepEqual(got, []string{"Super"}) {
		t.Errorf("long word = %q", got)
	}
}

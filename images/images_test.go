package images

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestHasAlpha(t *testing.T) {
	opaque := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		for y := 0; y < 2; y++ {
			opaque.SetNRGBA(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	translucent := image.NewNRGBA(opaque.Rect)
	copy(translucent.Pix, opaque.Pix)
	translucent.SetNRGBA(3, 1, color.NRGBA{A: 128})

	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, opaque, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"opaque png", encode(t, opaque), false},
		{"translucent png", encode(t, translucent), true},
		{"jpeg", jpg.Bytes(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Load(tt.data)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := img.HasAlpha(); got != tt.want {
				t.Errorf("HasAlpha() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	if _, err := Load(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("Load(nil) = %v, want ErrEmpty", err)
	}
	if _, err := Load([]byte("not an image")); err == nil {
		t.Error("garbage decoded")
	}

	img, err := Load(encode(t, image.NewGray(image.Rect(0, 0, 40, 20))))
	if err != nil {
		t.Fatal(err)
	}
	if img.Format != "png" || img.Width != 40 || img.Height != 20 {
		t.Errorf("got %s %dx%d", img.Format, img.Width, img.Height)
	}
	if w, h := img.AspectFit(100, 100); w != 100 || h != 50 {
		t.Errorf("AspectFit = %v x %v, want 100 x 50", w, h)
	}
}

// Package images provides image resources for signature appearances.
//
// JPEG and PNG are always understood. BMP, TIFF and WebP are decoded with
// golang.org/x/image and re-encoded when embedded.
package images

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrEmpty is returned for empty image data.
var ErrEmpty = errors.New("images: no image data")

// Image represents an image resource that can be used in PDF appearances.
type Image struct {
	Data   []byte // Raw encoded image data
	Hash   string // SHA256 hash of image data
	Format string // Format name as registered with the image package
	Width  int
	Height int

	decoded image.Image
}

// Load decodes data and records its format and size.
func Load(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("images: decode: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("images: %s image has no pixels", format)
	}
	sum := sha256.Sum256(data)
	return &Image{
		Data:    data,
		Hash:    hex.EncodeToString(sum[:]),
		Format:  format,
		Width:   b.Dx(),
		Height:  b.Dy(),
		decoded: img,
	}, nil
}

// Decoded returns the decoded pixels.
func (i *Image) Decoded() image.Image {
	return i.decoded
}

// HasAlpha reports whether any pixel is not fully opaque. The samples are
// checked, since decoders may return a type with an alpha channel for
// images that do not use it.
func (i *Image) HasAlpha() bool {
	switch img := i.decoded.(type) {
	case *image.YCbCr, *image.Gray, *image.Gray16, *image.CMYK:
		return false
	case *image.NRGBA:
		for j := 3; j < len(img.Pix); j += 4 {
			if img.Pix[j] != 0xff {
				return true
			}
		}
		return false
	}
	b := i.decoded.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := i.decoded.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// AspectFit returns the largest size with the image's aspect ratio that
// fits into w by h.
func (i *Image) AspectFit(w, h float64) (float64, float64) {
	iw, ih := float64(i.Width), float64(i.Height)
	scale := w / iw
	if s := h / ih; s < scale {
		scale = s
	}
	return iw * scale, ih * scale
}

// Package render draws the visible appearance of a signature as a form
// XObject.
package render

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/fonts"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/images"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
)

// Validate checks that a visible appearance can be drawn into bounds.
func Validate(bounds common.Rectangle, s Spec) error {
	if !s.Visible {
		return nil
	}
	if !bounds.Usable() {
		return &common.AppearanceError{Msg: fmt.Sprintf("bounds %+v have no usable area", bounds)}
	}
	if strings.TrimSpace(s.Text) == "" && s.Image == nil {
		return &common.AppearanceError{Msg: "visible signature has neither text nor image"}
	}
	return nil
}

// box is an area inside the form's coordinate system.
type box struct {
	x, y, w, h float64
}

// Render adds the appearance stream of s, and the fonts and images it uses,
// through adder and returns the reference of the form XObject.
func Render(bounds common.Rectangle, s Spec, adder ObjectAdder) (pdf.Ref, error) {
	if err := Validate(bounds, s); err != nil {
		return pdf.Ref{}, err
	}
	w, h := bounds.Width, bounds.Height

	var stream bytes.Buffer
	resources := pdf.Dict{"ProcSet": pdf.Array{pdf.Name("PDF"), pdf.Name("Text"), pdf.Name("ImageC")}}

	if c := s.Background; c != nil {
		fmt.Fprintf(&stream, "q %s rg 0 0 %s %s re f Q\n", rgb(*c), num(w), num(h))
	}
	if c := s.Border; c != nil && s.BorderWidth > 0 {
		half := s.BorderWidth / 2
		fmt.Fprintf(&stream, "q %s RG %s w %s %s %s %s re S Q\n",
			rgb(*c), num(s.BorderWidth), num(half), num(half), num(w-s.BorderWidth), num(h-s.BorderWidth))
	}

	inner := box{x: padding, y: padding, w: w - 2*padding, h: h - 2*padding}
	if inner.w <= 0 || inner.h <= 0 {
		inner = box{w: w, h: h}
	}
	textArea := inner
	text := strings.TrimSpace(s.Text)

	if s.Image != nil {
		imgArea := inner
		if text != "" {
			// Image on the left, text on the right.
			imgArea.w = min(inner.w/3, inner.h)
			textArea.x += imgArea.w + padding
			textArea.w -= imgArea.w + padding
		}
		ref, err := registerImage(adder, s.Image)
		if err != nil {
			return pdf.Ref{}, err
		}
		resources["XObject"] = pdf.Dict{"Im1": ref}

		iw, ih := s.Image.AspectFit(imgArea.w, imgArea.h)
		ix := imgArea.x + (imgArea.w-iw)/2
		iy := imgArea.y + (imgArea.h-ih)/2
		fmt.Fprintf(&stream, "q %s 0 0 %s %s %s cm /Im1 Do Q\n", num(iw), num(ih), num(ix), num(iy))
	}

	if text != "" && textArea.w > 0 {
		ref, err := registerFont(adder, s.Font)
		if err != nil {
			return pdf.Ref{}, err
		}
		resources["Font"] = pdf.Dict{"F1": ref}
		writeText(&stream, text, s, textArea)
	}

	form := &pdf.Stream{
		Dict: pdf.Dict{
			"Type":      pdf.Name("XObject"),
			"Subtype":   pdf.Name("Form"),
			"FormType":  int64(1),
			"BBox":      pdf.RectArray(0, 0, w, h),
			"Matrix":    pdf.Array{int64(1), int64(0), int64(0), int64(1), int64(0), int64(0)},
			"Resources": resources,
			"Length":    int64(stream.Len()),
		},
		Data: stream.Bytes(),
	}
	return adder.AddObject(pdf.Serialize(form)), nil
}

func writeText(stream *bytes.Buffer, text string, s Spec, area box) {
	var metrics *fonts.Metrics
	if s.Font != nil {
		metrics = s.Font.Metrics
	}
	size, lines := Fit(metrics, text, area.w, area.h, s.FontSize)
	lead := size * lineSpacing

	// Center the block vertically; the first baseline sits one font size
	// below its top.
	block := float64(len(lines)) * lead
	y := area.y + (area.h+block)/2 - size
	if block > area.h {
		y = area.y + area.h - size
	}

	fmt.Fprintf(stream, "q BT /F1 %s Tf %s rg\n", num(size), rgb(s.TextColor))
	for _, line := range lines {
		fmt.Fprintf(stream, "1 0 0 1 %s %s Tm <%s> Tj\n", num(area.x), num(y), hex.EncodeToString(EncodeText(line)))
		y -= lead
	}
	stream.WriteString("ET Q\n")
}

// EncodeText converts text for a simple font with WinAnsiEncoding. Text
// outside of that code page is written as UTF-16BE.
func EncodeText(s string) []byte {
	if b, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s)); err == nil {
		return b
	}
	b, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}

// registerImage adds an image XObject. JPEG data is embedded as is, other
// formats are stored as Flate compressed RGB with an optional soft mask.
func registerImage(adder ObjectAdder, img *images.Image) (pdf.Ref, error) {
	dict := pdf.Dict{
		"Type":             pdf.Name("XObject"),
		"Subtype":          pdf.Name("Image"),
		"Width":            int64(img.Width),
		"Height":           int64(img.Height),
		"BitsPerComponent": int64(8),
	}

	src := img.Decoded()
	if img.Format == "jpeg" {
		switch src.ColorModel() {
		case color.GrayModel:
			dict["ColorSpace"] = pdf.Name("DeviceGray")
		case color.CMYKModel:
			// Adobe CMYK JPEGs store inverted values.
			dict["ColorSpace"] = pdf.Name("DeviceCMYK")
			dict["Decode"] = pdf.Array{int64(1), int64(0), int64(1), int64(0), int64(1), int64(0), int64(1), int64(0)}
		default:
			dict["ColorSpace"] = pdf.Name("DeviceRGB")
		}
		dict["Filter"] = pdf.Name("DCTDecode")
		dict["Length"] = int64(len(img.Data))
		return adder.AddObject(pdf.Serialize(&pdf.Stream{Dict: dict, Data: img.Data})), nil
	}

	rgbData, alphaData, err := samples(src, img.HasAlpha())
	if err != nil {
		return pdf.Ref{}, &common.AppearanceError{Msg: "encode image: " + err.Error()}
	}
	if alphaData != nil {
		mask := pdf.Dict{
			"Type":             pdf.Name("XObject"),
			"Subtype":          pdf.Name("Image"),
			"Width":            int64(img.Width),
			"Height":           int64(img.Height),
			"ColorSpace":       pdf.Name("DeviceGray"),
			"BitsPerComponent": int64(8),
			"Filter":           pdf.Name("FlateDecode"),
			"Length":           int64(len(alphaData)),
		}
		dict["SMask"] = adder.AddObject(pdf.Serialize(&pdf.Stream{Dict: mask, Data: alphaData}))
	}
	dict["ColorSpace"] = pdf.Name("DeviceRGB")
	dict["Filter"] = pdf.Name("FlateDecode")
	dict["Length"] = int64(len(rgbData))
	return adder.AddObject(pdf.Serialize(&pdf.Stream{Dict: dict, Data: rgbData})), nil
}

// samples returns the compressed RGB samples of src and, when withAlpha is
// set, its compressed alpha channel.
func samples(src image.Image, withAlpha bool) ([]byte, []byte, error) {
	var rgbBuf, alphaBuf bytes.Buffer
	rgbW := zlib.NewWriter(&rgbBuf)
	alphaW := zlib.NewWriter(&alphaBuf)

	b := src.Bounds()
	row := make([]byte, 0, 3*b.Dx())
	arow := make([]byte, 0, b.Dx())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row, arow = row[:0], arow[:0]
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			row = append(row, c.R, c.G, c.B)
			arow = append(arow, c.A)
		}
		if _, err := rgbW.Write(row); err != nil {
			return nil, nil, err
		}
		if withAlpha {
			if _, err := alphaW.Write(arow); err != nil {
				return nil, nil, err
			}
		}
	}
	if err := rgbW.Close(); err != nil {
		return nil, nil, err
	}
	if err := alphaW.Close(); err != nil {
		return nil, nil, err
	}
	if !withAlpha {
		return rgbBuf.Bytes(), nil, nil
	}
	return rgbBuf.Bytes(), alphaBuf.Bytes(), nil
}

// registerFont adds a font dictionary. Standard fonts are referenced by
// name; TrueType fonts are embedded with a descriptor and widths.
func registerFont(adder ObjectAdder, f *fonts.Font) (pdf.Ref, error) {
	if f == nil {
		f = fonts.Standard(fonts.Helvetica)
	}
	if !f.Embedded || len(f.Data) == 0 {
		return adder.AddObject(pdf.Serialize(pdf.Dict{
			"Type":     pdf.Name("Font"),
			"Subtype":  pdf.Name("Type1"),
			"BaseFont": pdf.Name(f.Name),
			"Encoding": pdf.Name("WinAnsiEncoding"),
		})), nil
	}

	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	if _, err := zw.Write(f.Data); err != nil {
		return pdf.Ref{}, err
	}
	if err := zw.Close(); err != nil {
		return pdf.Ref{}, err
	}
	file := adder.AddObject(pdf.Serialize(&pdf.Stream{
		Dict: pdf.Dict{
			"Length":  int64(z.Len()),
			"Length1": int64(len(f.Data)),
			"Filter":  pdf.Name("FlateDecode"),
		},
		Data: z.Bytes(),
	}))

	m := f.Metrics
	descriptor := adder.AddObject(pdf.Serialize(pdf.Dict{
		"Type":        pdf.Name("FontDescriptor"),
		"FontName":    pdf.Name(f.Name),
		"Flags":       int64(32), // nonsymbolic
		"FontBBox":    pdf.Array{int64(m.BBox[0]), int64(m.BBox[1]), int64(m.BBox[2]), int64(m.BBox[3])},
		"ItalicAngle": int64(0),
		"Ascent":      int64(m.Ascent),
		"Descent":     int64(m.Descent),
		"CapHeight":   int64(m.CapHeight),
		"StemV":       int64(80),
		"FontFile2":   file,
	}))

	widths := make(pdf.Array, 0, 224)
	for _, w := range m.WidthsArray() {
		widths = append(widths, int64(w))
	}
	return adder.AddObject(pdf.Serialize(pdf.Dict{
		"Type":           pdf.Name("Font"),
		"Subtype":        pdf.Name("TrueType"),
		"BaseFont":       pdf.Name(f.Name),
		"FirstChar":      int64(32),
		"LastChar":       int64(255),
		"Widths":         widths,
		"Encoding":       pdf.Name("WinAnsiEncoding"),
		"FontDescriptor": descriptor,
	})), nil
}

func rgb(c common.Color) string {
	return fmt.Sprintf("%s %s %s", num(float64(c.R)/255), num(float64(c.G)/255), num(float64(c.B)/255))
}

func num(f float64) string {
	return pdf.FormatNumber(f)
}

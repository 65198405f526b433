package render

import (
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/fonts"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/images"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
)

// Font size limits used when fitting text.
const (
	DefaultFontSize = 12.0
	MinFontSize     = 4.0

	padding     = 2.0
	lineSpacing = 1.2
)

// ObjectAdder stores new objects of the revision being written.
// *incremental.Updater satisfies it.
type ObjectAdder interface {
	AddObject(body []byte) pdf.Ref
}

// Spec is a prepared appearance. Build it with NewSpec so that font and
// image data are parsed once, before anything is written.
type Spec struct {
	Visible bool
	Text    string
	Image   *images.Image
	Font    *fonts.Font

	// FontSize is the starting size; text shrinks from it until it fits.
	FontSize float64

	TextColor   common.Color
	Background  *common.Color
	Border      *common.Color
	BorderWidth float64
}

// NewSpec parses the font and image data of a.
func NewSpec(a common.Appearance) (Spec, error) {
	s := Spec{
		Visible:     a.Visible,
		Text:        a.Text,
		FontSize:    a.FontSize,
		Background:  a.Background,
		Border:      a.Border,
		BorderWidth: a.BorderWidth,
		Font:        fonts.Standard(fonts.Helvetica),
	}
	if a.TextColor != nil {
		s.TextColor = *a.TextColor
	}
	if s.FontSize <= 0 {
		s.FontSize = DefaultFontSize
	}
	if s.Border != nil && s.BorderWidth <= 0 {
		s.BorderWidth = 1
	}

	if len(a.FontData) > 0 {
		f, err := fonts.Load(a.FontData)
		if err != nil {
			return Spec{}, &common.AppearanceError{Msg: err.Error()}
		}
		s.Font = f
	}
	if len(a.Image) > 0 {
		img, err := images.Load(a.Image)
		if err != nil {
			return Spec{}, &common.AppearanceError{Msg: err.Error()}
		}
		s.Image = img
	}
	return s, nil
}

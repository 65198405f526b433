// Package forms manages the signature fields of an interactive form.
package forms

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/incremental"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
)

// Signature flags of the AcroForm dictionary.
const (
	SigFlagSignaturesExist = 1
	SigFlagAppendOnly      = 2
)

// Annotation flag "Print".
const annotPrint = 4

// FieldSpec describes a field to create.
type FieldSpec struct {
	Name   string           `json:"name"`
	Page   int              `json:"page"`
	Bounds common.Rectangle `json:"bounds"`
}

// Manager adds and resolves signature fields.
type Manager struct {
	logger *slog.Logger
}

// NewManager returns a Manager logging to logger, or nowhere when nil.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{logger: logger}
}

// Fields lists every signature field of doc.
func (m *Manager) Fields(doc *pdf.Document) ([]common.SignatureField, error) {
	fields, err := doc.Fields()
	if err != nil {
		return nil, err
	}
	out := make([]common.SignatureField, len(fields))
	for i, f := range fields {
		out[i] = f.SignatureField
	}
	return out, nil
}

// ResolveField finds a field by name. A missing field is a
// *common.FieldNotFoundError.
func (m *Manager) ResolveField(doc *pdf.Document, name string) (pdf.Field, error) {
	return doc.Field(name)
}

func validate(doc *pdf.Document, spec FieldSpec) ([]pdf.Page, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("forms: field name is empty")
	}
	if !spec.Bounds.Usable() {
		return nil, &common.AppearanceError{Msg: fmt.Sprintf("field %q has unusable bounds %+v", spec.Name, spec.Bounds)}
	}
	pages, err := doc.Pages()
	if err != nil {
		return nil, err
	}
	if spec.Page < 0 || spec.Page >= len(pages) {
		return nil, fmt.Errorf("forms: page %d out of range, document has %d pages", spec.Page, len(pages))
	}
	names, err := doc.FieldNames()
	if err != nil {
		return nil, err
	}
	if slices.Contains(names, spec.Name) {
		return nil, &common.DuplicateFieldError{Name: spec.Name}
	}
	return pages, nil
}

// AddField appends a revision containing a new, unsigned signature field.
func (m *Manager) AddField(doc *pdf.Document, spec FieldSpec) (*pdf.Document, common.SignatureField, error) {
	pages, err := validate(doc, spec)
	if err != nil {
		return nil, common.SignatureField{}, err
	}
	page := pages[spec.Page]

	u := incremental.New(doc)
	widget := NewWidget(spec.Name, page.Ref, spec.Bounds)
	ref := u.AddObject(pdf.Serialize(widget))

	if err := AppendAnnotation(u, page, ref); err != nil {
		return nil, common.SignatureField{}, err
	}
	if err := RegisterField(u, ref, 0); err != nil {
		return nil, common.SignatureField{}, err
	}

	res, err := u.Write()
	if err != nil {
		return nil, common.SignatureField{}, err
	}
	next, err := doc.Append(res.Increment())
	if err != nil {
		return nil, common.SignatureField{}, err
	}

	m.logger.Debug("signature field added", slog.String("field", spec.Name), slog.Int("page", spec.Page), slog.Uint64("id", uint64(ref.ID)))
	return next, common.SignatureField{
		Name:       spec.Name,
		Page:       spec.Page,
		Bounds:     spec.Bounds,
		Predefined: true,
	}, nil
}

// NewWidget returns a merged signature field and widget annotation.
func NewWidget(name string, page pdf.Ref, bounds common.Rectangle) pdf.Dict {
	c := bounds.Corners()
	return pdf.Dict{
		"Type":    pdf.Name("Annot"),
		"Subtype": pdf.Name("Widget"),
		"FT":      pdf.Name("Sig"),
		"T":       pdf.TextString(name),
		"Rect":    pdf.RectArray(c[0], c[1], c[2], c[3]),
		"P":       page,
		"F":       int64(annotPrint),
	}
}

// AppendAnnotation adds ref to the /Annots of page.
func AppendAnnotation(u *incremental.Updater, page pdf.Page, ref pdf.Ref) error {
	doc := u.Document()
	switch annots := page.Dict["Annots"].(type) {
	case pdf.Ref:
		arr, ok := doc.Resolve(annots).(pdf.Array)
		if !ok {
			break
		}
		if containsRef(arr, ref) {
			return nil
		}
		return u.UpdateObject(annots.ID, pdf.Serialize(append(slices.Clone(arr), ref)))
	case pdf.Array:
		if containsRef(annots, ref) {
			return nil
		}
		p := page.Dict.Clone()
		p["Annots"] = append(slices.Clone(annots), ref)
		return u.UpdateObject(page.Ref.ID, pdf.Serialize(p))
	}
	p := page.Dict.Clone()
	p["Annots"] = pdf.Array{ref}
	return u.UpdateObject(page.Ref.ID, pdf.Serialize(p))
}

// containsRef compares by type assertion; arrays may hold dictionaries,
// which are not comparable.
func containsRef(arr pdf.Array, ref pdf.Ref) bool {
	for _, o := range arr {
		if r, ok := o.(pdf.Ref); ok && r.ID == ref.ID {
			return true
		}
	}
	return false
}

// RegisterField makes sure ref is listed in the AcroForm /Fields and ORs
// sigFlags into /SigFlags. A missing AcroForm is created.
func RegisterField(u *incremental.Updater, ref pdf.Ref, sigFlags int64) error {
	doc := u.Document()
	catalog, err := doc.Catalog()
	if err != nil {
		return err
	}

	form, formRef, ok := doc.AcroForm()
	if !ok {
		form = pdf.Dict{"Fields": pdf.Array{}}
	}
	form = form.Clone()

	var fields pdf.Array
	fieldsRef, fieldsIndirect := form["Fields"].(pdf.Ref)
	if fieldsIndirect {
		fields, _ = doc.Resolve(fieldsRef).(pdf.Array)
	} else {
		fields, _ = form["Fields"].(pdf.Array)
	}
	listed := containsRef(fields, ref)
	if !listed {
		fields = append(slices.Clone(fields), ref)
	}

	flags, _ := form.Int("SigFlags")
	newFlags := flags | sigFlags
	if listed && newFlags == flags && ok {
		return nil
	}

	if fieldsIndirect {
		if !listed {
			if err := u.UpdateObject(fieldsRef.ID, pdf.Serialize(fields)); err != nil {
				return err
			}
		}
	} else {
		form["Fields"] = fields
	}
	if newFlags != 0 {
		form["SigFlags"] = newFlags
	}

	if !formRef.IsZero() {
		return u.UpdateObject(formRef.ID, pdf.Serialize(form))
	}
	catalog = catalog.Clone()
	catalog["AcroForm"] = u.AddObject(pdf.Serialize(form))
	return u.UpdateObject(doc.CatalogRef().ID, pdf.Serialize(catalog))
}

// SetSigFlags ORs sigFlags into the /SigFlags of the existing form.
func SetSigFlags(u *incremental.Updater, sigFlags int64) error {
	doc := u.Document()
	form, formRef, ok := doc.AcroForm()
	if !ok {
		return fmt.Errorf("forms: document has no interactive form")
	}
	flags, _ := form.Int("SigFlags")
	if flags|sigFlags == flags {
		return nil
	}
	form = form.Clone()
	form["SigFlags"] = flags | sigFlags
	if !formRef.IsZero() {
		return u.UpdateObject(formRef.ID, pdf.Serialize(form))
	}
	catalog, err := doc.Catalog()
	if err != nil {
		return err
	}
	catalog = catalog.Clone()
	catalog["AcroForm"] = form
	return u.UpdateObject(doc.CatalogRef().ID, pdf.Serialize(catalog))
}

// EffectiveBounds returns where a signature appearance is placed. A
// predefined field keeps its own rectangle whatever was requested.
func EffectiveBounds(field common.SignatureField, requested *common.Rectangle) (common.Rectangle, error) {
	if field.Predefined {
		if !field.Bounds.Usable() {
			return common.Rectangle{}, &common.AppearanceError{Msg: fmt.Sprintf("field %q has no usable rectangle", field.Name)}
		}
		return field.Bounds, nil
	}
	if requested == nil {
		return common.Rectangle{}, &common.AppearanceError{Msg: "visible signature requires bounds"}
	}
	r := *requested
	if !r.Usable() {
		return common.Rectangle{}, &common.AppearanceError{Msg: fmt.Sprintf("unusable bounds %+v", r)}
	}
	return r, nil
}

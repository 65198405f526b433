package verify

import (
	"bytes"
	"fmt"
	"io"
	"reflect"

	"github.com/digitorus/pkcs7"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/extract"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
)

// IntegrityStatus classifies the signed bytes of one signature.
type IntegrityStatus int

const (
	// Intact means the signed ranges still hash to the signed digest.
	Intact IntegrityStatus = iota
	// Modified means the signed ranges changed after signing.
	Modified
	// Corrupted means the signature can no longer be checked: its byte
	// range or container is unusable, or its field was removed.
	Corrupted
)

func (s IntegrityStatus) String() string {
	switch s {
	case Intact:
		return "intact"
	case Modified:
		return "modified"
	case Corrupted:
		return "corrupted"
	}
	return fmt.Sprintf("IntegrityStatus(%d)", int(s))
}

func (s IntegrityStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ModificationType string

const (
	ContentChanged         ModificationType = "content_changed"
	SignatureFieldModified ModificationType = "signature_field_modified"
	SignatureFieldRemoved  ModificationType = "signature_field_removed"
	SignatureAdded         ModificationType = "signature_added"
	MetadataChanged        ModificationType = "metadata_changed"
	AnnotationAdded        ModificationType = "annotation_added"
	AnnotationModified     ModificationType = "annotation_modified"
	AnnotationRemoved      ModificationType = "annotation_removed"
	FormFieldModified      ModificationType = "form_field_modified"
	PageAdded              ModificationType = "page_added"
	PageRemoved            ModificationType = "page_removed"
)

// Modification is one change found after a signature was applied.
type Modification struct {
	Type        ModificationType `json:"type"`
	Description string           `json:"description"`
	Pages       []int            `json:"pages,omitempty"` // 0-based
}

// TamperReport is the result of DetectTampering.
type TamperReport struct {
	Index         int             `json:"index"`
	Intact        bool            `json:"intact"`
	Status        IntegrityStatus `json:"status"`
	Modifications []Modification  `json:"modifications,omitempty"`
}

// CheckIntegrity reports whether the byte range of signature index is well
// formed and its signed ranges still hash to the signed message digest.
func (v *Validator) CheckIntegrity(doc *pdf.Document, index int) bool {
	sig, ok := signatureAt(doc, index)
	if !ok {
		return false
	}
	status, _ := integrity(doc, sig)
	return status == Intact
}

func signatureAt(doc *pdf.Document, index int) (*extract.Signature, bool) {
	sigs, _ := extract.Signatures(doc)
	if index < 0 || index >= len(sigs) {
		return nil, false
	}
	return sigs[index], true
}

// integrity recomputes the digest of sig over the current bytes.
func integrity(doc *pdf.Document, sig *extract.Signature) (IntegrityStatus, string) {
	if !byteRangeWellFormed(sig.ByteRange(), doc.Bytes()) {
		return Corrupted, "byte range is malformed"
	}
	p7, err := pkcs7.Parse(sig.Contents())
	if err != nil || len(p7.Signers) == 0 {
		return Corrupted, "signature container cannot be parsed"
	}
	h, ok := common.HashFromOID(p7.Signers[0].DigestAlgorithm.Algorithm)
	if !ok {
		return Corrupted, "unsupported digest algorithm"
	}
	r, err := sig.SignedData()
	if err != nil {
		return Corrupted, err.Error()
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return Corrupted, err.Error()
	}
	if !checkMessageDigest(p7, h, content) {
		return Modified, "document content has been modified since signing"
	}
	return Intact, ""
}

// DetectTampering checks signature index and lists what later increments
// changed. Later changes are reported but do not alter the status: they
// are outside the signed ranges.
func (v *Validator) DetectTampering(doc *pdf.Document, index int) TamperReport {
	report := TamperReport{Index: index}
	sig, ok := signatureAt(doc, index)
	if !ok {
		report.Status = Corrupted
		report.Modifications = append(report.Modifications, Modification{
			Type:        SignatureFieldRemoved,
			Description: fmt.Sprintf("no signature at index %d", index),
		})
		return report
	}

	status, msg := integrity(doc, sig)
	report.Status = status
	if status != Intact {
		report.Modifications = append(report.Modifications, Modification{Type: ContentChanged, Description: msg})
	}

	if status != Corrupted && !sig.CoversWholeDocument() {
		br := sig.ByteRange()
		end := br[2] + br[3]
		if old, err := pdf.Parse(doc.Bytes()[:end]); err == nil {
			d := &differ{old: old, cur: doc, end: end, sig: sig}
			report.Modifications = append(report.Modifications, d.run()...)
			if d.removed {
				report.Status = Corrupted
			}
		} else {
			v.logger.Warn("signed revision cannot be parsed", "op", "tamper", "field", sig.FieldName, "error", err)
		}
	}

	report.Intact = report.Status == Intact
	v.logger.Debug("tamper check", "op", "tamper", "field", sig.FieldName, "status", report.Status.String(), "modifications", len(report.Modifications))
	return report
}

// differ compares the revision a signature covers with the current one.
type differ struct {
	old, cur *pdf.Document
	end      int64
	sig      *extract.Signature
	reported map[uint32]bool
	removed  bool
	out      []Modification
}

func (d *differ) add(t ModificationType, pages []int, format string, args ...any) {
	d.out = append(d.out, Modification{Type: t, Description: fmt.Sprintf(format, args...), Pages: pages})
}

// redefined reports whether object id existed when signing and was
// written again later.
func (d *differ) redefined(id uint32) bool {
	off, ok := d.cur.ObjectOffset(id)
	if !ok || off < d.end {
		return false
	}
	_, err := d.old.Object(id)
	return err == nil
}

func (d *differ) run() []Modification {
	d.reported = map[uint32]bool{}
	d.pages()
	d.signatureFields()
	d.metadata()
	d.objects()
	return d.out
}

func (d *differ) pages() {
	oldPages, err1 := d.old.Pages()
	curPages, err2 := d.cur.Pages()
	if err1 != nil || err2 != nil {
		return
	}
	switch {
	case len(curPages) > len(oldPages):
		var idx []int
		for i := len(oldPages); i < len(curPages); i++ {
			idx = append(idx, i)
		}
		d.add(PageAdded, idx, "%d page(s) added", len(idx))
	case len(curPages) < len(oldPages):
		d.add(PageRemoved, nil, "%d page(s) removed", len(oldPages)-len(curPages))
	}

	for i := range min(len(oldPages), len(curPages)) {
		o, c := oldPages[i], curPages[i]
		d.reported[c.Ref.ID] = true

		changed := !bytes.Equal(pdf.Serialize(o.Dict["Contents"]), pdf.Serialize(c.Dict["Contents"]))
		for _, ref := range refs(c.Dict["Contents"], d.cur) {
			d.reported[ref.ID] = true
			if d.redefined(ref.ID) {
				changed = true
			}
		}
		if changed {
			d.add(ContentChanged, []int{i}, "content of page %d changed", i+1)
		}

		oldAnnots := map[uint32]bool{}
		for _, r := range refs(o.Dict["Annots"], d.old) {
			oldAnnots[r.ID] = true
		}
		curAnnots := map[uint32]bool{}
		for _, r := range refs(c.Dict["Annots"], d.cur) {
			curAnnots[r.ID] = true
			if oldAnnots[r.ID] || d.isSignatureWidget(r) {
				continue
			}
			d.reported[r.ID] = true
			d.add(AnnotationAdded, []int{i}, "annotation %s added to page %d", r, i+1)
		}
		for id := range oldAnnots {
			if !curAnnots[id] {
				d.add(AnnotationRemoved, []int{i}, "annotation %d removed from page %d", id, i+1)
			}
		}
	}
}

// refs returns the references of a reference or an array of references.
func refs(o pdf.Object, doc *pdf.Document) []pdf.Ref {
	if r, ok := o.(pdf.Ref); ok {
		if arr, ok := doc.Resolve(r).(pdf.Array); ok {
			o = arr
		} else {
			return []pdf.Ref{r}
		}
	}
	arr, _ := o.(pdf.Array)
	var out []pdf.Ref
	for _, e := range arr {
		if r, ok := e.(pdf.Ref); ok {
			out = append(out, r)
		}
	}
	return out
}

func (d *differ) isSignatureWidget(r pdf.Ref) bool {
	dict, ok := d.cur.ResolveDict(r)
	if !ok {
		return false
	}
	if dict.Name("FT") == "Sig" {
		return true
	}
	parent, ok := d.cur.ResolveDict(dict["Parent"])
	return ok && parent.Name("FT") == "Sig"
}

func (d *differ) signatureFields() {
	oldFields, err1 := d.old.Fields()
	curFields, err2 := d.cur.Fields()
	if err1 != nil || err2 != nil {
		return
	}
	current := make(map[string]pdf.Field, len(curFields))
	for _, f := range curFields {
		current[f.Name] = f
	}
	existed := make(map[string]bool, len(oldFields))

	for _, of := range oldFields {
		existed[of.Name] = true
		cf, ok := current[of.Name]
		own := of.Value == d.sig.Ref && of.Signed
		if !ok {
			d.add(SignatureFieldRemoved, []int{of.Page}, "signature field %q removed", of.Name)
			if own {
				d.removed = true
			}
			continue
		}
		d.reported[cf.Ref.ID] = true
		d.reported[cf.Widget.ID] = true
		switch {
		case cf.Page != of.Page || !cf.Bounds.Equal(of.Bounds, 0.001):
			d.add(SignatureFieldModified, []int{cf.Page}, "bounds of signature field %q changed", of.Name)
		case of.Signed && cf.Value != of.Value:
			d.add(SignatureFieldModified, []int{cf.Page}, "value of signed field %q replaced", of.Name)
		case !of.Signed && cf.Signed:
			d.add(SignatureAdded, []int{cf.Page}, "field %q signed", of.Name)
		}
	}

	for _, cf := range curFields {
		if existed[cf.Name] {
			continue
		}
		d.reported[cf.Ref.ID] = true
		d.reported[cf.Widget.ID] = true
		if cf.Signed {
			d.add(SignatureAdded, []int{cf.Page}, "signature field %q added and signed", cf.Name)
		} else {
			d.add(SignatureFieldModified, []int{cf.Page}, "signature field %q added", cf.Name)
		}
	}
}

func (d *differ) metadata() {
	oldInfo, curInfo := d.old.Info(), d.cur.Info()
	oldInfo.Pages, curInfo.Pages = 0, 0
	if !reflect.DeepEqual(oldInfo, curInfo) {
		d.add(MetadataChanged, nil, "document information dictionary changed")
	}
	if ref, ok := d.cur.InfoRef(); ok {
		d.reported[ref.ID] = true
	}
	catalog, err := d.cur.Catalog()
	if err != nil {
		return
	}
	if ref, ok := catalog.Ref("Metadata"); ok {
		d.reported[ref.ID] = true
		if d.redefined(ref.ID) {
			d.add(MetadataChanged, nil, "XMP metadata stream changed")
		}
	}
}

// objects classifies the remaining objects written again after signing.
// The catalog, page tree and form dictionary are updated by every new
// signature and are not reported.
func (d *differ) objects() {
	skip := map[pdf.Name]bool{"Catalog": true, "Pages": true, "Sig": true, "DocTimeStamp": true}
	_, formRef, _ := d.cur.AcroForm()

	for _, id := range d.cur.ObjectIDs() {
		if d.reported[id] || id == formRef.ID || !d.redefined(id) {
			continue
		}
		obj := d.cur.Resolve(pdf.Ref{ID: id})
		dict, ok := d.cur.ResolveDict(pdf.Ref{ID: id})
		if !ok {
			continue
		}
		switch {
		case skip[dict.Name("Type")]:
		case dict.Name("Type") == "Metadata":
			d.add(MetadataChanged, nil, "metadata object %d changed", id)
		case dict.Name("FT") == "Sig":
		case dict.Name("FT") != "":
			d.add(FormFieldModified, nil, "form field object %d changed", id)
		case dict.Name("Type") == "Annot" || dict.Name("Subtype") == "Widget":
			d.add(AnnotationModified, nil, "annotation object %d changed", id)
		default:
			if _, isStream := obj.(*pdf.Stream); isStream {
				d.add(ContentChanged, nil, "stream object %d changed", id)
			}
		}
	}
}

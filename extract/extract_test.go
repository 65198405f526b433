package extract_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/extract"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/testpki"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/sign"
)

func signedDocument(t testing.TB, pki *testpki.PKI, signers ...string) *pdf.Document {
	doc, err := pdf.Parse(testpki.GeneratePDF(testpki.PDFOptions{Pages: 2}))
	require.NoError(t, err)
	for _, name := range signers {
		key, leaf := pki.IssueLeaf(name)
		res, err := sign.New().Sign(context.Background(), doc, &sign.Credentials{
			Certificate: leaf,
			Signer:      key,
			Chain:       pki.Chain(),
		}, &sign.Options{
			Name:        name,
			Reason:      "Test Extraction",
			Location:    "Utrecht",
			ContactInfo: "signer@example.com",
			SigningTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		doc = res.Document
	}
	return doc
}

func TestSignatureExtraction(t *testing.T) {
	pki := testpki.New(t)
	doc := signedDocument(t, pki, "Test Extraction")

	found := false
	for sig, err := range extract.Iter(doc) {
		require.NoError(t, err)
		found = true

		assert.Equal(t, "Test Extraction", sig.Name())
		assert.Equal(t, "Test Extraction", sig.Reason())
		assert.Equal(t, "Utrecht", sig.Location())
		assert.Equal(t, "signer@example.com", sig.ContactInfo())
		assert.Equal(t, "Adobe.PPKLite", sig.Filter())
		assert.Equal(t, "adbe.pkcs7.detached", sig.SubFilter())
		assert.Equal(t, "Signature1", sig.FieldName)

		m, ok := sig.SigningTime()
		require.True(t, ok)
		assert.True(t, m.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

		br := sig.ByteRange()
		require.Len(t, br, 4)
		assert.True(t, sig.CoversWholeDocument())

		contents := sig.Contents()
		require.NotEmpty(t, contents)
		assert.NotEqual(t, byte(0), contents[len(contents)-1], "padding must be trimmed")

		reader, err := sig.SignedData()
		require.NoError(t, err)
		data, err := io.ReadAll(reader)
		require.NoError(t, err)

		want := append([]byte(nil), doc.Bytes()[br[0]:br[0]+br[1]]...)
		want = append(want, doc.Bytes()[br[2]:br[2]+br[3]]...)
		assert.Equal(t, want, data)
	}
	assert.True(t, found, "no signatures found in signed document")
}

func TestPkcs7(t *testing.T) {
	pki := testpki.New(t)
	doc := signedDocument(t, pki, "Alice", "Bob")

	containers, err := extract.Containers(doc)
	require.NoError(t, err)
	require.Len(t, containers, 2)

	for i, c := range containers {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, common.HashOID(common.SHA256.Hash()), c.DigestAlgorithm)
		assert.NotEmpty(t, c.SignedAttrs)
		assert.Equal(t, byte(0x31), c.SignedAttrs[0])
		assert.NotEmpty(t, c.Signature)
		assert.Empty(t, c.TimestampToken)
		require.NotEmpty(t, c.Certificates)
	}
	assert.Equal(t, "Alice", containers[0].Certificates[0].Subject.CommonName)
	assert.Equal(t, "Signature2", containers[1].FieldName)
}

func TestCoversWholeDocumentAfterAppend(t *testing.T) {
	pki := testpki.New(t)
	doc := signedDocument(t, pki, "Alice", "Bob")

	sigs, err := extract.Signatures(doc)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.False(t, sigs[0].CoversWholeDocument())
	assert.True(t, sigs[1].CoversWholeDocument())
}

func TestSignedDataRejectsOutOfRange(t *testing.T) {
	sig := &extract.Signature{
		Dict: pdf.Dict{"ByteRange": pdf.Array{int64(0), int64(10), int64(20), int64(100)}},
		File: bytes.NewReader(make([]byte, 50)),
		Size: 50,
	}
	_, err := sig.SignedData()
	assert.Error(t, err)
}

func TestPkcs7Garbage(t *testing.T) {
	sig := &extract.Signature{
		Dict: pdf.Dict{"Contents": pdf.String("not a container")},
	}
	_, err := sig.Pkcs7()
	assert.Error(t, err)

	empty := &extract.Signature{Dict: pdf.Dict{"Contents": pdf.String(make([]byte, 16))}}
	_, err = empty.Pkcs7()
	assert.Error(t, err)
}

func TestUnsignedDocument(t *testing.T) {
	doc, err := pdf.Parse(testpki.GeneratePDF(testpki.PDFOptions{Pages: 1}))
	require.NoError(t, err)
	sigs, err := extract.Signatures(doc)
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestByteRangeReader(t *testing.T) {
	data := []byte("0123456789abcdefghij")
	r := &extract.ByteRangeReader{
		File:   bytes.NewReader(data),
		Ranges: []int64{0, 4, 10, 3},
	}
	buf := make([]byte, 3)
	var out []byte
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, "0123abc", string(out))
}

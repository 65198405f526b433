package cli

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/testpki"
)

type exitCode int

// runCommand runs fn with the given arguments and returns its output and
// exit status. Flag globals are reset first.
func runCommand(t *testing.T, fn func(), args ...string) (out string, code int) {
	t.Helper()
	origArgs, origExit, origStdout := os.Args, osExit, stdout
	defer func() {
		os.Args, osExit, stdout = origArgs, origExit, origStdout
	}()

	InfoName, InfoLocation, InfoReason, InfoContact, TSA = "", "", "", "", ""
	Password, FieldName, HashName, AlgorithmName = "", "", "", ""
	Visible, EmbedRevocation = false, false
	AppearanceText, AppearanceImage, AppearanceRect = "", "", ""
	AppearancePage = 0

	var buf bytes.Buffer
	stdout = &buf
	osExit = func(c int) { panic(exitCode(c)) }
	os.Args = append([]string{"pdfsign"}, args...)

	func() {
		defer func() {
			if r := recover(); r != nil {
				c, ok := r.(exitCode)
				if !ok {
					panic(r)
				}
				code = int(c)
			}
		}()
		fn()
	}()
	return buf.String(), code
}

type fixture struct {
	pki      *testpki.PKI
	dir      string
	input    string
	certPath string
	keyPath  string
	p12Path  string
	rootPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pki := testpki.New(t)
	dir := t.TempDir()
	f := &fixture{
		pki:      pki,
		dir:      dir,
		input:    filepath.Join(dir, "input.pdf"),
		certPath: filepath.Join(dir, "cert.pem"),
		keyPath:  filepath.Join(dir, "key.pem"),
		p12Path:  filepath.Join(dir, "signer.p12"),
		rootPath: filepath.Join(dir, "root.pem"),
	}
	key, leaf := pki.IssueLeaf("CLI Signer")
	chain := append([]*x509.Certificate{leaf}, pki.Chain()...)
	write := func(path string, data []byte) {
		require.NoError(t, os.WriteFile(path, data, 0o600))
	}
	write(f.input, testpki.GeneratePDF(testpki.PDFOptions{Pages: 2}))
	write(f.certPath, testpki.CertPEM(chain...))
	write(f.keyPath, testpki.KeyPEM(t, key))
	write(f.p12Path, testpki.PKCS12(t, key, leaf, pki.Chain(), "secret"))
	write(f.rootPath, testpki.CertPEM(pki.RootCert))
	return f
}

func TestParseRect(t *testing.T) {
	r, err := ParseRect("10, 20.5,100,40")
	require.NoError(t, err)
	assert.Equal(t, &common.Rectangle{X: 10, Y: 20.5, Width: 100, Height: 40}, r)

	r, err = ParseRect("")
	assert.NoError(t, err)
	assert.Nil(t, r)

	for _, bad := range []string{"1,2,3", "a,b,c,d", "0,0,0,10"} {
		_, err := ParseRect(bad)
		assert.Error(t, err, bad)
	}
}

func TestUsage(t *testing.T) {
	out, code := runCommand(t, Run)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "capabilities")

	_, code = runCommand(t, Run, "unknown")
	assert.Equal(t, 1, code)
}

func TestCapabilitiesCommand(t *testing.T) {
	out, code := runCommand(t, Run, "capabilities")
	assert.Equal(t, 0, code)
	var caps common.Capabilities
	require.NoError(t, json.Unmarshal([]byte(out), &caps))
	assert.Contains(t, caps.HashAlgorithms, "SHA-256")
}

// verifyOutput is the part of VerifyReport the tests look at.
type verifyOutput struct {
	Document struct {
		Pages int `json:"pages"`
	} `json:"document"`
	Signatures []struct {
		SignerName string   `json:"signer_name"`
		Reason     string   `json:"reason"`
		Trusted    bool     `json:"trusted_issuer"`
		Errors     []string `json:"errors"`
		Tampering  struct {
			Intact bool   `json:"intact"`
			Status string `json:"status"`
		} `json:"tampering"`
	} `json:"signatures"`
}

func TestSignAndVerifyCommands(t *testing.T) {
	f := newFixture(t)
	output := filepath.Join(f.dir, "signed.pdf")

	_, code := runCommand(t, Run, "sign", "-name", "CLI Signer", "-reason", "Testing",
		"-visible", "-rect", "50,50,200,60", "-text", "Signed on the command line",
		f.input, output, f.certPath, f.keyPath)
	require.Equal(t, 0, code)

	out, code := runCommand(t, Run, "verify", "-trust", f.rootPath, "-strict", output)
	require.Equal(t, 0, code, out)
	var report verifyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Document.Pages)
	require.Len(t, report.Signatures, 1)
	sig := report.Signatures[0]
	assert.Equal(t, "CLI Signer", sig.SignerName)
	assert.Equal(t, "Testing", sig.Reason)
	assert.True(t, sig.Trusted)
	assert.True(t, sig.Tampering.Intact)
	assert.Equal(t, "intact", sig.Tampering.Status)
	assert.Empty(t, sig.Errors)

	// Without the root the signature is untrusted.
	out, code = runCommand(t, Run, "verify", "-strict", output)
	assert.Equal(t, 2, code)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Signatures[0].Trusted)
	assert.NotEmpty(t, report.Signatures[0].Errors)
}

func TestSignCommandPKCS12(t *testing.T) {
	f := newFixture(t)
	output := filepath.Join(f.dir, "signed.pdf")

	_, code := runCommand(t, Run, "sign", "-password", "wrong", f.input, output, f.p12Path)
	assert.Equal(t, 1, code)

	_, code = runCommand(t, Run, "sign", "-password", "secret", "-hash", "SHA-512", f.input, output, f.p12Path)
	require.Equal(t, 0, code)
	_, err := os.Stat(output)
	assert.NoError(t, err)
}

func TestSignCommandErrors(t *testing.T) {
	f := newFixture(t)
	output := filepath.Join(f.dir, "signed.pdf")

	tests := []struct {
		name string
		args []string
	}{
		{"missing arguments", []string{"sign", f.input}},
		{"missing input", []string{"sign", filepath.Join(f.dir, "none.pdf"), output, f.certPath, f.keyPath}},
		{"missing certificate", []string{"sign", f.input, output, filepath.Join(f.dir, "none.pem"), f.keyPath}},
		{"bad hash", []string{"sign", "-hash", "MD5", f.input, output, f.certPath, f.keyPath}},
		{"bad rect", []string{"sign", "-rect", "1,2", f.input, output, f.certPath, f.keyPath}},
		{"unknown field", []string{"sign", "-field", "Nope", f.input, output, f.certPath, f.keyPath}},
		{"missing config", []string{"sign", "-config", filepath.Join(f.dir, "none.toml"), f.input, output, f.certPath, f.keyPath}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, code := runCommand(t, Run, tt.args...)
			assert.Equal(t, 1, code)
		})
	}
	_, err := os.Stat(output)
	assert.True(t, os.IsNotExist(err))
}

func TestSignCommandFlagParsing(t *testing.T) {
	orig := SignPDF
	defer func() { SignPDF = orig }()

	var got []string
	SignPDF = func(ef *engineFlags, input, output, certPath, keyPath string) {
		got = []string{input, output, certPath, keyPath}
		assert.True(t, ef.verbose)
	}
	_, code := runCommand(t, SignCommand, "sign", "-v", "-location", "Delft", "in.pdf", "out.pdf", "cert.p12")
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"in.pdf", "out.pdf", "cert.p12", ""}, got)
	assert.Equal(t, "Delft", InfoLocation)
}

func TestFieldsCommand(t *testing.T) {
	f := newFixture(t)
	withField := filepath.Join(f.dir, "field.pdf")

	out, code := runCommand(t, Run, "fields", "-add", "Approval", "-page", "1", "-rect", "100,100,200,50", "-o", withField, f.input)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Approval")

	out, code = runCommand(t, Run, "fields", withField)
	require.Equal(t, 0, code)
	var fields []common.SignatureField
	require.NoError(t, json.Unmarshal([]byte(out), &fields))
	require.Len(t, fields, 1)
	assert.Equal(t, 1, fields[0].Page)
	assert.False(t, fields[0].Signed)

	signed := filepath.Join(f.dir, "signed.pdf")
	_, code = runCommand(t, Run, "sign", "-field", "Approval", withField, signed, f.certPath, f.keyPath)
	require.Equal(t, 0, code)
	out, _ = runCommand(t, Run, "fields", signed)
	require.NoError(t, json.Unmarshal([]byte(out), &fields))
	assert.True(t, fields[0].Signed)

	_, code = runCommand(t, Run, "fields", "-add", "Approval", f.input)
	assert.Equal(t, 1, code, "adding requires -rect and -o")
}

func TestBatchCommand(t *testing.T) {
	f := newFixture(t)
	var inputs []string
	for i := range 3 {
		p := filepath.Join(f.dir, fmt.Sprintf("doc%d.pdf", i))
		require.NoError(t, os.WriteFile(p, testpki.GeneratePDF(testpki.PDFOptions{Pages: i + 1}), 0o600))
		inputs = append(inputs, p)
	}
	outDir := filepath.Join(f.dir, "out")

	args := append([]string{"batch", "-out", outDir, "-key", f.keyPath, "-reason", "Bulk", f.certPath}, inputs...)
	out, code := runCommand(t, Run, args...)
	require.Equal(t, 0, code, out)

	var report BatchReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Documents, 3)
	for i, d := range report.Documents {
		assert.Empty(t, d.Error)
		assert.Equal(t, SignedName(outDir, inputs[i]), d.Output)
		_, err := os.Stat(d.Output)
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(3), report.Stats.Processed)

	// A missing input fails only that document.
	args = append([]string{"batch", "-out", outDir, "-key", f.keyPath, f.certPath}, inputs[0], filepath.Join(f.dir, "none.pdf"))
	out, code = runCommand(t, Run, args...)
	assert.Equal(t, 1, code)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Empty(t, report.Documents[0].Error)
	assert.NotEmpty(t, report.Documents[1].Error)
}

func TestSignedName(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "report-signed.pdf"), SignedName("out", "/tmp/report.pdf"))
	assert.Equal(t, filepath.Join("out", "scan-signed.pdf"), SignedName("out", "scan"))
}

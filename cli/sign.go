package cli

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/certificate"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/sign"
)

var (
	InfoName, InfoLocation, InfoReason, InfoContact, TSA string
	Password, FieldName, HashName, AlgorithmName         string
	Visible                                              bool
	AppearanceText, AppearanceImage, AppearanceRect      string
	AppearancePage                                       int
	EmbedRevocation                                      bool
)

// ParseRect reads "x,y,width,height".
func ParseRect(s string) (*common.Rectangle, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("rectangle %q: want x,y,width,height", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("rectangle %q: %w", s, err)
		}
		v[i] = f
	}
	r := common.Rectangle{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	if !r.Usable() {
		return nil, fmt.Errorf("rectangle %q has no area", s)
	}
	return &r, nil
}

func registerSignFlags(fs *flag.FlagSet) {
	fs.StringVar(&InfoName, "name", "", "Name of the signatory")
	fs.StringVar(&InfoLocation, "location", "", "Location of the signatory")
	fs.StringVar(&InfoReason, "reason", "", "Reason for signing")
	fs.StringVar(&InfoContact, "contact", "", "Contact information for signatory")
	fs.StringVar(&TSA, "tsa", "", "URL for Time-Stamp Authority")
	fs.StringVar(&Password, "password", "", "Password of an encrypted key or PKCS#12 file")
	fs.StringVar(&HashName, "hash", "", "Digest algorithm (SHA-256, SHA-384, SHA-512)")
	fs.StringVar(&AlgorithmName, "algorithm", "", "Signature algorithm (RSA-PKCS1v15, RSA-PSS, ECDSA-P256, ...)")
	fs.BoolVar(&Visible, "visible", false, "Draw a visible signature")
	fs.StringVar(&AppearanceText, "text", "", "Text of the visible signature")
	fs.StringVar(&AppearanceImage, "image", "", "JPEG or PNG image of the visible signature")
	fs.StringVar(&AppearanceRect, "rect", "", "Bounds of a new visible signature: x,y,width,height")
	fs.IntVar(&AppearancePage, "page", 0, "0-based page of a new visible signature")
	fs.BoolVar(&EmbedRevocation, "embed-revocation", false, "Embed OCSP responses and CRLs of the chain")
}

// SignOptions builds sign.Options from the flag values.
func SignOptions() (*sign.Options, error) {
	h, err := common.ParseHashAlgorithm(HashName)
	if err != nil {
		return nil, err
	}
	alg, err := common.ParseSignatureAlgorithm(AlgorithmName)
	if err != nil {
		return nil, err
	}
	bounds, err := ParseRect(AppearanceRect)
	if err != nil {
		return nil, err
	}
	opts := &sign.Options{
		Name:            InfoName,
		Reason:          InfoReason,
		Location:        InfoLocation,
		ContactInfo:     InfoContact,
		Hash:            h,
		Algorithm:       alg,
		TSA:             sign.TSA{URL: TSA},
		FieldName:       FieldName,
		EmbedRevocation: EmbedRevocation,
		Appearance: common.Appearance{
			Visible: Visible,
			Page:    AppearancePage,
			Bounds:  bounds,
			Text:    AppearanceText,
		},
	}
	if AppearanceImage != "" {
		img, err := os.ReadFile(AppearanceImage)
		if err != nil {
			return nil, err
		}
		opts.Appearance.Image = img
	}
	return opts, nil
}

func SignCommand() {
	signFlags := flag.NewFlagSet("sign", flag.ExitOnError)
	var ef engineFlags
	ef.register(signFlags)
	registerSignFlags(signFlags)
	signFlags.StringVar(&FieldName, "field", "", "Sign this existing signature field")

	signFlags.Usage = func() {
		fmt.Fprintf(stdout, "Usage: %s sign [options] <input.pdf> <output.pdf> <certificate> [private_key]\n\n", os.Args[0])
		fmt.Fprintln(stdout, "Sign a PDF file with a digital signature. The certificate may be a PEM")
		fmt.Fprintln(stdout, "or DER file followed by its chain, or a PKCS#12 (.p12, .pfx) bundle.")
		fmt.Fprintln(stdout, "\nOptions:")
		signFlags.SetOutput(stdout)
		signFlags.PrintDefaults()
		fmt.Fprintln(stdout, "\nExamples:")
		fmt.Fprintf(stdout, "  %s sign -name \"John Doe\" input.pdf output.pdf cert.crt key.key\n", os.Args[0])
		fmt.Fprintf(stdout, "  %s sign -visible -rect 50,50,200,60 -text \"Approved\" input.pdf output.pdf signer.p12\n", os.Args[0])
		fmt.Fprintf(stdout, "  %s sign -field Approval -tsa https://freetsa.org/tsr input.pdf output.pdf cert.pem key.pem\n", os.Args[0])
	}

	if err := signFlags.Parse(os.Args[2:]); err != nil {
		log.Printf("Failed to parse sign flags: %v", err)
		osExit(1)
		return
	}

	if signFlags.NArg() < 3 {
		signFlags.Usage()
		osExit(1)
		return
	}
	var keyPath string
	if signFlags.NArg() > 3 {
		keyPath = signFlags.Arg(3)
	}
	SignPDF(&ef, signFlags.Arg(0), signFlags.Arg(1), signFlags.Arg(2), keyPath)
}

// SignPDF is replaced in tests.
var SignPDF = signPDFImpl

func signPDFImpl(ef *engineFlags, input, output, certPath, keyPath string) {
	opts, err := SignOptions()
	if err != nil {
		log.Println(err)
		osExit(1)
		return
	}
	bundle, err := certificate.LoadFiles(certPath, keyPath, Password)
	if err != nil {
		log.Println(err)
		osExit(1)
		return
	}
	data, err := os.ReadFile(input)
	if err != nil {
		log.Println(err)
		osExit(1)
		return
	}

	e := ef.engine()
	defer func() { _ = e.Close() }()

	res, err := e.Sign(context.Background(), data, bundle.Credentials(), opts)
	if err != nil {
		log.Println(err)
		osExit(1)
		return
	}
	for _, w := range res.Warnings {
		log.Printf("Warning: %v", w)
	}
	if err := os.WriteFile(output, res.Data, 0o644); err != nil {
		log.Println(err)
		osExit(1)
		return
	}
	log.Println("Signed PDF written to " + output)
}

package cli

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/verify"
)

// VerifyReport is the JSON printed by the verify command.
type VerifyReport struct {
	Document   common.DocumentInfo `json:"document"`
	Signatures []SignatureReport   `json:"signatures"`
}

type SignatureReport struct {
	verify.Result
	Errors    []string            `json:"errors,omitempty"`
	Tampering verify.TamperReport `json:"tampering"`
}

func VerifyCommand() {
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)
	var ef engineFlags
	ef.register(verifyFlags)
	var strict bool
	verifyFlags.BoolVar(&strict, "strict", false, "Exit with status 2 unless every signature is valid and trusted")

	verifyFlags.Usage = func() {
		fmt.Fprintf(stdout, "Usage: %s verify [options] <input.pdf>\n\n", os.Args[0])
		fmt.Fprintln(stdout, "Verify the digital signatures of a PDF file")
		fmt.Fprintln(stdout, "\nOptions:")
		verifyFlags.SetOutput(stdout)
		verifyFlags.PrintDefaults()
		fmt.Fprintln(stdout, "\nExamples:")
		fmt.Fprintf(stdout, "  %s verify -trust roots.pem document.pdf\n", os.Args[0])
		fmt.Fprintf(stdout, "  %s verify -external -http-timeout=30s document.pdf\n", os.Args[0])
	}

	if err := verifyFlags.Parse(os.Args[2:]); err != nil {
		log.Printf("Failed to parse verify flags: %v", err)
		osExit(1)
		return
	}

	if verifyFlags.NArg() < 1 {
		verifyFlags.Usage()
		osExit(1)
		return
	}

	VerifyPDF(&ef, verifyFlags.Arg(0), strict)
}

func VerifyPDF(ef *engineFlags, input string, strict bool) {
	data, err := os.ReadFile(input)
	if err != nil {
		log.Println(err)
		osExit(1)
		return
	}
	doc, err := pdf.Parse(data)
	if err != nil {
		log.Println(err)
		osExit(1)
		return
	}

	e := ef.engine()
	defer func() { _ = e.Close() }()

	results, err := e.ValidateSignatures(context.Background(), data)
	if err != nil {
		log.Println(err)
		osExit(1)
		return
	}

	report := VerifyReport{Document: verify.DocumentInfo(doc)}
	allOK := true
	for i, r := range results {
		allOK = allOK && r.OK()
		report.Signatures = append(report.Signatures, SignatureReport{
			Result:    r,
			Errors:    r.ErrorStrings(),
			Tampering: e.DetectTampering(data, i),
		})
	}
	writeJSON(report)

	if strict && (!allOK || len(results) == 0) {
		osExit(2)
	}
}

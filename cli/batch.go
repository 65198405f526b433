package cli

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/batch"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/certificate"
)

// BatchReport is the JSON printed by the batch command.
type BatchReport struct {
	Documents []BatchDocument `json:"documents"`
	Stats     batch.Stats     `json:"stats"`
}

type BatchDocument struct {
	Input  string `json:"input"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func BatchCommand() {
	batchFlags := flag.NewFlagSet("batch", flag.ExitOnError)
	var ef engineFlags
	ef.register(batchFlags)
	registerSignFlags(batchFlags)
	var outDir, keyPath string
	batchFlags.StringVar(&outDir, "out", ".", "Directory for the signed files")
	batchFlags.StringVar(&keyPath, "key", "", "Private key file when the certificate file has none")

	batchFlags.Usage = func() {
		fmt.Fprintf(stdout, "Usage: %s batch [options] <certificate> <input.pdf>...\n\n", os.Args[0])
		fmt.Fprintln(stdout, "Sign several PDF files in parallel. Each output is named <input>-signed.pdf.")
		fmt.Fprintln(stdout, "\nOptions:")
		batchFlags.SetOutput(stdout)
		batchFlags.PrintDefaults()
		fmt.Fprintln(stdout, "\nExamples:")
		fmt.Fprintf(stdout, "  %s batch -out signed -key key.pem cert.pem a.pdf b.pdf\n", os.Args[0])
	}

	if err := batchFlags.Parse(os.Args[2:]); err != nil {
		log.Printf("Failed to parse batch flags: %v", err)
		osExit(1)
		return
	}
	if batchFlags.NArg() < 2 {
		batchFlags.Usage()
		osExit(1)
		return
	}
	SignBatch(&ef, batchFlags.Arg(0), keyPath, outDir, batchFlags.Args()[1:])
}

// SignedName returns the output path of input inside dir.
func SignedName(dir, input string) string {
	base := filepath.Base(input)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+"-signed.pdf")
}

func SignBatch(ef *engineFlags, certPath, keyPath, outDir string, inputs []string) {
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
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Println(err)
		osExit(1)
		return
	}

	report := BatchReport{Documents: make([]BatchDocument, len(inputs))}
	docs := make([][]byte, 0, len(inputs))
	index := make([]int, 0, len(inputs))
	for i, in := range inputs {
		report.Documents[i].Input = in
		data, err := os.ReadFile(in)
		if err != nil {
			report.Documents[i].Error = err.Error()
			continue
		}
		docs = append(docs, data)
		index = append(index, i)
	}

	e := ef.engine()
	defer func() { _ = e.Close() }()

	failed := false
	for j, res := range e.SignMultipleDocuments(context.Background(), docs, bundle.Credentials(), opts) {
		doc := &report.Documents[index[j]]
		if res.Err != nil {
			doc.Error = res.Err.Error()
			continue
		}
		out := SignedName(outDir, doc.Input)
		if err := os.WriteFile(out, res.Signed.Data, 0o644); err != nil {
			doc.Error = err.Error()
			continue
		}
		doc.Output = out
	}
	for _, d := range report.Documents {
		failed = failed || d.Error != ""
	}
	report.Stats = e.Statistics()
	writeJSON(report)
	if failed {
		osExit(1)
	}
}

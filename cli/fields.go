package cli

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/forms"
)

func FieldsCommand() {
	fieldsFlags := flag.NewFlagSet("fields", flag.ExitOnError)
	var ef engineFlags
	ef.register(fieldsFlags)
	var add, rect, output string
	var page int
	fieldsFlags.StringVar(&add, "add", "", "Name of a signature field to add")
	fieldsFlags.StringVar(&rect, "rect", "", "Bounds of the new field: x,y,width,height")
	fieldsFlags.IntVar(&page, "page", 0, "0-based page of the new field")
	fieldsFlags.StringVar(&output, "o", "", "Output file when adding a field")

	fieldsFlags.Usage = func() {
		fmt.Fprintf(stdout, "Usage: %s fields [options] <input.pdf>\n\n", os.Args[0])
		fmt.Fprintln(stdout, "List the signature fields of a PDF file, or add one")
		fmt.Fprintln(stdout, "\nOptions:")
		fieldsFlags.SetOutput(stdout)
		fieldsFlags.PrintDefaults()
		fmt.Fprintln(stdout, "\nExamples:")
		fmt.Fprintf(stdout, "  %s fields document.pdf\n", os.Args[0])
		fmt.Fprintf(stdout, "  %s fields -add Approval -page 0 -rect 50,50,200,60 -o out.pdf document.pdf\n", os.Args[0])
	}

	if err := fieldsFlags.Parse(os.Args[2:]); err != nil {
		log.Printf("Failed to parse fields flags: %v", err)
		osExit(1)
		return
	}
	if fieldsFlags.NArg() < 1 || (add != "" && (rect == "" || output == "")) {
		fieldsFlags.Usage()
		osExit(1)
		return
	}

	data, err := os.ReadFile(fieldsFlags.Arg(0))
	if err != nil {
		log.Println(err)
		osExit(1)
		return
	}
	e := ef.engine()
	defer func() { _ = e.Close() }()

	if add != "" {
		bounds, err := ParseRect(rect)
		if err != nil {
			log.Println(err)
			osExit(1)
			return
		}
		out, field, err := e.AddSignatureField(data, forms.FieldSpec{Name: add, Page: page, Bounds: *bounds})
		if err != nil {
			log.Println(err)
			osExit(1)
			return
		}
		if err := os.WriteFile(output, out, 0o644); err != nil {
			log.Println(err)
			osExit(1)
			return
		}
		writeJSON(field)
		return
	}

	fields, err := e.SignatureFields(data)
	if err != nil {
		log.Println(err)
		osExit(1)
		return
	}
	writeJSON(fields)
}

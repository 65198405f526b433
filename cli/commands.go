package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	pdfsign "github.com/CodeMinds-Digital/dso-signtusk-sub012"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/config"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/revocation"
)

var (
	osExit           = os.Exit
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func Usage() {
	fmt.Fprintf(stdout, "Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, "  sign          Sign a PDF file")
	fmt.Fprintln(stdout, "  verify        Verify the signatures of a PDF file")
	fmt.Fprintln(stdout, "  batch         Sign several PDF files with one certificate")
	fmt.Fprintln(stdout, "  fields        List or add signature fields")
	fmt.Fprintln(stdout, "  capabilities  Print supported algorithms and standards")
	fmt.Fprintln(stdout, "")
	fmt.Fprintf(stdout, "Use '%s <command> -h' for command-specific help\n", os.Args[0])
	osExit(1)
}

// Run dispatches os.Args to a command.
func Run() {
	if len(os.Args) < 2 {
		Usage()
		return
	}
	switch os.Args[1] {
	case "sign":
		SignCommand()
	case "verify":
		VerifyCommand()
	case "batch":
		BatchCommand()
	case "fields":
		FieldsCommand()
	case "capabilities":
		CapabilitiesCommand()
	default:
		Usage()
	}
}

// engineFlags are shared by every command that builds an Engine.
type engineFlags struct {
	configPath  string
	trustPath   string
	external    bool
	httpTimeout time.Duration
	verbose     bool
}

func (f *engineFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "Configuration file (TOML, or YAML with a .yaml/.yml extension)")
	fs.StringVar(&f.trustPath, "trust", "", "PEM file with trusted root certificates")
	fs.BoolVar(&f.external, "external", false, "Enable external OCSP and CRL checking")
	fs.DurationVar(&f.httpTimeout, "http-timeout", 10*time.Second, "Timeout for external revocation requests")
	fs.BoolVar(&f.verbose, "v", false, "Log progress to stderr")
}

func newLogger(verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// engine builds an Engine or exits.
func (f *engineFlags) engine() *pdfsign.Engine {
	logger := newLogger(f.verbose)
	opts := []pdfsign.Option{pdfsign.WithLogger(logger)}

	if f.configPath != "" {
		cfg, err := config.Read(f.configPath)
		if err != nil {
			log.Println(err)
			osExit(1)
			return nil
		}
		opts = append(opts, pdfsign.WithConfig(cfg))
	}
	if f.trustPath != "" {
		anchors, _, err := config.Trust{Anchors: []string{f.trustPath}}.LoadTrust()
		if err != nil {
			log.Println(err)
			osExit(1)
			return nil
		}
		opts = append(opts, pdfsign.WithTrustAnchors(anchors...))
	}
	if f.external {
		opts = append(opts, pdfsign.WithRevocation(revocation.NewFetcher(revocation.Options{
			Cache:   revocation.NewMemoryCache(),
			Timeout: f.httpTimeout,
			Logger:  logger,
		})))
	}

	e, err := pdfsign.New(opts...)
	if err != nil {
		log.Println(err)
		osExit(1)
		return nil
	}
	return e
}

func writeJSON(v any) {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Println(err)
		osExit(1)
	}
}

func CapabilitiesCommand() {
	writeJSON(pdfsign.GetCapabilities())
}

// Command pdfsign signs and verifies PDF documents.
package main

import (
	"log"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/cli"
)

func main() {
	log.SetFlags(0)
	cli.Run()
}

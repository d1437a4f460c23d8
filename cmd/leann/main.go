// Command leann is the entry point for the document search service.
// It provides a CLI interface (via Cobra) for indexing and querying a
// documents directory, and an HTTP server exposing the same operations.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/leann-go/cmd/leann/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

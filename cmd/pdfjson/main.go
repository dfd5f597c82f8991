// Command pdfjson converts PDFs to qpdf JSON and back, and serves an editing
// workflow over HTTP, the file system and MCP.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pdfjson/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}

// Command tallyctl is the Tally admin CLI.
package main

import (
	"os"

	"github.com/tallyhq/tally/cmd/tallyctl/cmd"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

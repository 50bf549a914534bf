// Command condamirror mirrors a conda-style package channel into an
// OCI-compatible artifact registry, bidirectionally.
package main

import (
	"os"

	"github.com/condamirror/condamirror/cmd/condamirror/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

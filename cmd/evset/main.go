// Command evset runs, validates and traces declarative workloads
// against event sets tracking asynchronous operations.
package main

import (
	"fmt"
	"os"

	"github.com/evset-io/evset/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

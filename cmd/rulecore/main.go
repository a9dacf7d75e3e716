// Command rulecore compiles, validates, tests and runs CUE rule bases.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/rulecore/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}

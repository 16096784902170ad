// Command entitystore manages optimistic entity stores from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/entitystore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "entitystore:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

// Command battery collects hardware noise into an elite store and derives
// keys from it.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/battery/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		// Commands that failed through the formatter have already reported.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) || exitErr.Err == nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(cli.GetExitCode(err))
}

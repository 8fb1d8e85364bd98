// Command duet compiles scenario scripts, runs the relay, and plays
// two-player narrative sessions from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/duet/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

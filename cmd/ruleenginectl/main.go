// Command ruleenginectl is the operator CLI for a running rule engine:
// inspecting its persisted rule registry, replaying a recorded event
// sequence against it, and running its dispatch loop as a foreground
// process.
package main

import (
	"fmt"
	"os"

	"github.com/hamicek/ruleengine/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}

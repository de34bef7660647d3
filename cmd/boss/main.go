// Command boss runs the task-resolution fabric: registry, mastery executor,
// evolver, metrics store, alerts, and the monitoring API, or drives one of
// them remotely via the submit/compose/status subcommands. All logic lives
// in internal/clicmd; main stays a thin entry point with top-level panic
// recovery, following the same "main.go should be simple" principle the
// teacher's own internal/cli package documents.
package main

import (
	"fmt"
	"os"

	"github.com/risa-labs-inc/boss/internal/clicmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "boss: fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := clicmd.BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "boss: %v\n", err)
		os.Exit(1)
	}
}

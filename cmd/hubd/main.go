// Command hubd is the federation hub process: the long-lived server plus
// the operator subcommands for bundle and spoke lifecycle management
// (spec.md §6 "CLI and env").
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hubd",
		Short: "DIVE federation hub",
		Long:  "hubd runs the federation trust and policy-distribution hub, or performs one-shot administrative operations against it.",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newBundleCmd())
	root.AddCommand(newSpokeCmd())
	return root
}

// exitCode is attached to errors that should set a specific process exit
// code (spec.md §6 "Exit codes: 0 success, 1 fatal configuration error, 2
// unrecoverable startup dependency failure").
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string { return e.err.Error() }
func (e *exitCode) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCode{code: code, err: err}
}

func exitCodeFor(err error) int {
	var ec *exitCode
	if errors.As(err, &ec) {
		return ec.code
	}
	return 1
}

// Package cmd defines the pypack command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pypack/pypack/internal/logging"
	"github.com/pypack/pypack/internal/version"
	"github.com/pypack/pypack/pkg/packager"
)

// Exit codes. Fatal configuration problems, per-unit build failures and
// missing backend tools are distinguishable for scripting.
const (
	ExitSuccess            = 0
	ExitFatal              = 1
	ExitBuildFailed        = 2
	ExitBackendUnavailable = 3
)

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

var verbosity int

func Root() *cobra.Command {
	root := &cobra.Command{
		Use:           "pypack",
		Short:         "Package a Python source file and its local dependencies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")

	root.AddCommand(newBuildCmd())
	root.AddCommand(newDepsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pypack version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
}

func newLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: logging.LevelWarn + verbosity})
}

// Execute runs the command tree and maps errors to exit codes. A user
// interrupt cancels the run context, which terminates in-flight backend
// subprocesses.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := Root().ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.msg != "" {
			fmt.Fprintln(os.Stderr, "error:", exit.msg)
		}
		return exit.code
	}

	fmt.Fprintln(os.Stderr, "error:", err)
	if packager.IsBackendUnavailable(err) {
		return ExitBackendUnavailable
	}
	return ExitFatal
}

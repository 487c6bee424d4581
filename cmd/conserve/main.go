// Command conserve is the CLI front end for the archive, backup,
// restore, and garbage-collection packages under internal/.
//
// One newXCommand() constructor per subcommand, registered onto a
// single root command, with a plain os.Exit on any top-level error —
// including a distinct exit code for validation-found-corruption.
package main

import (
	"fmt"
	"os"

	"github.com/fenilsonani/conserve/internal/errs"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

// newRootCommand builds the conserve command tree. Split out from main
// so tests can exercise it with SetArgs/SetOut instead of the process.
func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conserve",
		Short: "Incremental, content-addressed backup",
		Long: `Conserve is an incremental, content-addressed backup system that
captures successive snapshots of a source directory into an archive on
durable storage, deduplicating file contents at the block level.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newInitCommand(),
		newBackupCommand(),
		newRestoreCommand(),
		newLsCommand(),
		newDiffCommand(),
		newVersionsCommand(),
		newValidateCommand(),
		newGCCommand(),
		newDeleteCommand(),
		newDebugCommand(),
	)
	return rootCmd
}

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "conserve:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process exit code: 0 success,
// 1 failure, 2 validation found corruption.
func exitCode(err error) int {
	if err == validationFoundProblems {
		return 2
	}
	return errs.ExitCode(err)
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// validationFoundProblems is returned by the validate command's RunE
// (never printed itself) when the archive opened and ran cleanly but
// Validate's stats report corruption; main.go maps it to exit code 2.
var validationFoundProblems = errors.New("validation found problems")

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <archive>",
		Short: "Check an archive's structural invariants and block integrity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openArchive(ctx, args[0])
			if err != nil {
				return err
			}
			stats, err := a.Validate(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d bands, %d blocks checked, %d io errors, %d block errors, "+
				"%d unreferenced blocks, %d missing referenced blocks\n",
				stats.BandCount, stats.BlockCount, stats.IOErrors, stats.BlockErrors,
				stats.UnreferencedBlocks, stats.MissingReferencedBlocks)
			if stats.HasProblems() {
				return validationFoundProblems
			}
			return nil
		},
	}
	return cmd
}

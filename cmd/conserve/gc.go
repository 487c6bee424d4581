package main

import (
	"fmt"

	"github.com/fenilsonani/conserve/internal/gc"
	"github.com/spf13/cobra"
)

func newGCCommand() *cobra.Command {
	var dryRun bool
	var breakLock bool

	cmd := &cobra.Command{
		Use:   "gc <archive>",
		Short: "Delete blocks no longer referenced by any retained band",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openArchive(ctx, args[0])
			if err != nil {
				return err
			}
			stats, err := gc.DeleteBands(ctx, a, nil, gc.Options{DryRun: dryRun, BreakLock: breakLock})
			if err != nil {
				return err
			}
			printGCStats(stats, dryRun)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting it")
	cmd.Flags().BoolVar(&breakLock, "break-lock", false, "steal an existing GC_LOCK instead of failing")
	return cmd
}

func printGCStats(stats gc.Stats, dryRun bool) {
	verb := "deleted"
	if dryRun {
		verb = "would delete"
	}
	fmt.Printf("%d unreferenced blocks (%d bytes compressed), %d bands %s, %d blocks %s, %d errors\n",
		stats.UnreferencedBlockCount, stats.UnreferencedBlockBytes,
		stats.DeletedBandCount, verb, stats.DeletedBlockCount, verb, stats.DeletionErrors)
}

package main

import (
	"github.com/fenilsonani/conserve/internal/band"
	"github.com/fenilsonani/conserve/internal/gc"
	"github.com/spf13/cobra"
)

func newDeleteCommand() *cobra.Command {
	var backupIDs []string
	var dryRun bool
	var breakLock bool

	cmd := &cobra.Command{
		Use:   "delete <archive> --backup ID [--backup ID ...]",
		Short: "Delete one or more bands and any blocks that become unreferenced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openArchive(ctx, args[0])
			if err != nil {
				return err
			}
			ids := make([]band.ID, 0, len(backupIDs))
			for _, s := range backupIDs {
				id, err := band.ParseID(s)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			stats, err := gc.DeleteBands(ctx, a, ids, gc.Options{DryRun: dryRun, BreakLock: breakLock})
			if err != nil {
				return err
			}
			printGCStats(stats, dryRun)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&backupIDs, "backup", nil, "band id to delete (may repeat)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting it")
	cmd.Flags().BoolVar(&breakLock, "break-lock", false, "steal an existing GC_LOCK instead of failing")
	cmd.MarkFlagRequired("backup")
	return cmd
}

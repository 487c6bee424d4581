package main

import (
	"fmt"

	"github.com/fenilsonani/conserve/internal/apath"
	"github.com/fenilsonani/conserve/internal/band"
	"github.com/fenilsonani/conserve/internal/restore"
	"github.com/spf13/cobra"
)

func newRestoreCommand() *cobra.Command {
	var backupID string
	var only string
	var force bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "restore <archive> <dest>",
		Short: "Write a stored tree back out to a real directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openArchive(ctx, args[0])
			if err != nil {
				return err
			}
			opts := restore.Options{
				ForceOverwrite: force,
				Monitor:        printingMonitor{verbose: verbose},
			}
			if backupID != "" {
				id, err := band.ParseID(backupID)
				if err != nil {
					return err
				}
				opts.BandID = &id
			}
			if only != "" {
				p := apath.Apath(only)
				opts.Only = &p
			}
			stats, err := restore.Restore(ctx, a, args[1], opts)
			if err != nil {
				return err
			}
			fmt.Printf("%d files, %d dirs, %d symlinks; %d errors\n",
				stats.Files, stats.Directories, stats.Symlinks, stats.Errors)
			return nil
		},
	}
	cmd.Flags().StringVar(&backupID, "backup", "", "band id to restore (default: latest complete)")
	cmd.Flags().StringVar(&only, "only", "", "restrict restore to one subtree apath")
	cmd.Flags().BoolVar(&force, "force-overwrite", false, "replace existing files at the destination")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each entry as it is restored")
	return cmd
}

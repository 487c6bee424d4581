package main

import (
	"fmt"

	"github.com/fenilsonani/conserve/internal/backup"
	"github.com/spf13/cobra"
)

func newBackupCommand() *cobra.Command {
	var excludePatterns []string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "backup <archive> <source>",
		Short: "Store a new snapshot of source into archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openArchive(ctx, args[0])
			if err != nil {
				return err
			}
			ex, err := buildExcludes(excludePatterns)
			if err != nil {
				return err
			}
			stats, err := backup.Backup(ctx, a, args[1], backup.Options{
				Excludes: ex,
				Monitor:  printingMonitor{verbose: verbose},
			})
			if err != nil {
				return err
			}
			fmt.Printf("%d files: %d new, %d changed, %d unchanged; %d dirs, %d symlinks; "+
				"%d blocks written, %d deduplicated; %d errors\n",
				stats.Files, stats.NewFiles, stats.ChangedFiles, stats.UnchangedFiles,
				stats.Directories, stats.Symlinks,
				stats.WrittenBlocks, stats.DeduplicatedBlocks, stats.Errors)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&excludePatterns, "exclude", nil, "exclude paths matching PATTERN (may repeat)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each entry as it is copied")
	return cmd
}

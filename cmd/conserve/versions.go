package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionsCommand() *cobra.Command {
	var short bool
	var sizes bool

	cmd := &cobra.Command{
		Use:   "versions <archive>",
		Short: "List the bands stored in an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openArchive(ctx, args[0])
			if err != nil {
				return err
			}
			ids, err := a.ListBandIDs(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				b, err := a.OpenBand(ctx, id)
				if err != nil {
					return err
				}
				closed, err := b.IsClosed(ctx)
				if err != nil {
					return err
				}
				if short {
					fmt.Println(id)
					continue
				}
				status := "incomplete"
				var hunkCount uint64
				if closed {
					status = "complete"
					tail, err := b.ReadTail(ctx)
					if err != nil {
						return err
					}
					hunkCount = tail.IndexHunkCount
				}
				if sizes {
					fmt.Printf("%s %s (%d hunks)\n", id, status, hunkCount)
				} else {
					fmt.Printf("%s %s\n", id, status)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only band ids")
	cmd.Flags().BoolVar(&sizes, "sizes", false, "include index hunk counts")
	return cmd
}

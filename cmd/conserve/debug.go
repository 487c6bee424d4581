package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDebugCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Low-level archive inspection commands",
	}
	cmd.AddCommand(
		newDebugIndexCommand(),
		newDebugBlocksCommand(),
		newDebugReferencedCommand(),
		newDebugUnreferencedCommand(),
	)
	return cmd
}

func newDebugIndexCommand() *cobra.Command {
	var backupID string
	cmd := &cobra.Command{
		Use:   "index <archive>",
		Short: "Print every index entry of a band, unstitched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openArchive(ctx, args[0])
			if err != nil {
				return err
			}
			id, err := a.ResolveBandID(ctx, backupID)
			if err != nil {
				return err
			}
			b, err := a.OpenBand(ctx, id)
			if err != nil {
				return err
			}
			closed, err := b.IsClosed(ctx)
			if err != nil {
				return err
			}
			if !closed {
				return fmt.Errorf("band %s is not closed; use the stitched ls command instead", id)
			}
			tail, err := b.ReadTail(ctx)
			if err != nil {
				return err
			}
			r := newIndexReader(b, tail.IndexHunkCount)
			for {
				e, ok, err := r.Next(ctx)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				printEntry(e)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&backupID, "backup", "", "band id (default: latest complete)")
	return cmd
}

func newDebugBlocksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "blocks <archive>",
		Short: "Print every block hash stored in the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openArchive(ctx, args[0])
			if err != nil {
				return err
			}
			names, err := a.BlockDir().BlockNames(ctx)
			if err != nil {
				return err
			}
			for _, h := range names {
				fmt.Println(h)
			}
			return nil
		},
	}
}

func newDebugReferencedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "referenced <archive>",
		Short: "Print every block hash referenced by a retained band",
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
			refs, err := a.ReferencedBlocks(ctx, ids)
			if err != nil {
				return err
			}
			for h := range refs {
				fmt.Println(h)
			}
			return nil
		},
	}
}

func newDebugUnreferencedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unreferenced <archive>",
		Short: "Print every stored block hash not referenced by any retained band",
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
			refs, err := a.ReferencedBlocks(ctx, ids)
			if err != nil {
				return err
			}
			names, err := a.BlockDir().BlockNames(ctx)
			if err != nil {
				return err
			}
			for _, h := range names {
				if _, ok := refs[h]; !ok {
					fmt.Println(h)
				}
			}
			return nil
		},
	}
}

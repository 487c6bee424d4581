package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fenilsonani/conserve/internal/apath"
	"github.com/fenilsonani/conserve/internal/index"
	"github.com/spf13/cobra"
)

func newDiffCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <archive> <source>",
		Short: "Compare a live source directory against the latest backup",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openArchive(ctx, args[0])
			if err != nil {
				return err
			}
			id, err := a.ResolveBandID(ctx, "")
			if err != nil {
				return err
			}
			it, err := a.IterStitchedIndexHunks(ctx, id)
			if err != nil {
				return err
			}
			stored := make(map[apath.Apath]index.Entry)
			for {
				e, ok, err := it.Next(ctx)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				stored[e.Apath] = e
			}

			root := filepath.Clean(args[1])
			live := make(map[apath.Apath]os.FileInfo)
			err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
				if err != nil || path == root {
					return err
				}
				rel, err := filepath.Rel(root, path)
				if err != nil {
					return err
				}
				info, err := d.Info()
				if err != nil {
					return err
				}
				live[apath.Apath(filepath.ToSlash(rel))] = info
				return nil
			})
			if err != nil {
				return err
			}

			for a, info := range live {
				e, ok := stored[a]
				if !ok {
					fmt.Printf("+ %s\n", a)
					continue
				}
				if !info.IsDir() && e.Kind == index.KindFile {
					var size uint64
					if e.Size != nil {
						size = *e.Size
					}
					if uint64(info.Size()) != size || e.MTime != info.ModTime().Unix() {
						fmt.Printf("M %s\n", a)
					}
				}
			}
			for a := range stored {
				if _, ok := live[a]; !ok {
					fmt.Printf("- %s\n", a)
				}
			}
			return nil
		},
	}
	return cmd
}

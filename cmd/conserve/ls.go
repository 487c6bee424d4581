package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fenilsonani/conserve/internal/apath"
	"github.com/fenilsonani/conserve/internal/excludes"
	"github.com/fenilsonani/conserve/internal/index"
	"github.com/spf13/cobra"
)

func newLsCommand() *cobra.Command {
	var source string
	var backupID string
	var excludePatterns []string

	cmd := &cobra.Command{
		Use:   "ls [archive]",
		Short: "List the apaths in a live source tree or a stored backup",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := buildExcludes(excludePatterns)
			if err != nil {
				return err
			}
			if source != "" {
				return lsSource(source, ex)
			}
			if len(args) != 1 {
				return fmt.Errorf("ls: either --source PATH or <archive> is required")
			}
			return lsArchive(cmd, args[0], backupID, ex)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "list a live source directory instead of an archive")
	cmd.Flags().StringVar(&backupID, "backup", "", "band id to list (default: latest complete)")
	cmd.Flags().StringArrayVar(&excludePatterns, "exclude", nil, "exclude paths matching PATTERN (may repeat)")
	return cmd
}

func lsSource(root string, ex *excludes.Set) error {
	var apaths []apath.Apath
	root = filepath.Clean(root)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		a := apath.Apath(filepath.ToSlash(rel))
		if ex.Match(a) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		apaths = append(apaths, a)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(apaths, func(i, j int) bool { return apath.Less(apaths[i], apaths[j]) })
	for _, a := range apaths {
		fmt.Println(a)
	}
	return nil
}

func lsArchive(cmd *cobra.Command, archivePath, backupID string, ex *excludes.Set) error {
	ctx := cmd.Context()
	a, err := openArchive(ctx, archivePath)
	if err != nil {
		return err
	}
	id, err := a.ResolveBandID(ctx, backupID)
	if err != nil {
		return err
	}
	it, err := a.IterStitchedIndexHunks(ctx, id)
	if err != nil {
		return err
	}
	for {
		e, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if ex.Match(e.Apath) {
			continue
		}
		printEntry(e)
	}
	return nil
}

func printEntry(e index.Entry) {
	fmt.Printf("%-8s %s\n", e.Kind, e.Apath)
}

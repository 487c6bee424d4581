package main

import (
	"fmt"
	"path/filepath"

	"github.com/fenilsonani/conserve/internal/archive"
	"github.com/fenilsonani/conserve/internal/transport"
	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <archive>",
		Short: "Create a new, empty archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve archive path: %w", err)
			}
			_, err = archive.Create(cmd.Context(), transport.NewLocal(abs), nil)
			if err != nil {
				return err
			}
			fmt.Printf("Created archive in %s\n", abs)
			return nil
		},
	}
	return cmd
}

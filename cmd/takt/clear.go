package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newClearCommand(app **App) *cobra.Command {
	var completed, failed, queued bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove queued, completed, and/or failed task directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := *app
			if !completed && !failed && !queued {
				completed, failed, queued = true, true, true
			}
			var cleared []string
			if queued {
				if err := clearDir(filepath.Join(a.Store.Root, "tasks")); err != nil {
					return err
				}
				cleared = append(cleared, "queued")
			}
			if completed {
				if err := clearDir(filepath.Join(a.Store.Root, "completed")); err != nil {
					return err
				}
				cleared = append(cleared, "completed")
			}
			if failed {
				if err := clearDir(filepath.Join(a.Store.Root, "failed")); err != nil {
					return err
				}
				cleared = append(cleared, "failed")
			}
			for _, label := range cleared {
				fmt.Printf("%s cleared %s\n", green("✓"), label)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&completed, "completed", false, "clear only completed tasks")
	cmd.Flags().BoolVar(&failed, "failed", false, "clear only failed tasks")
	cmd.Flags().BoolVar(&queued, "queued", false, "clear only queued tasks")
	return cmd
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

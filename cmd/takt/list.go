package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newListCommand(app **App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show queued, completed, and failed tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := *app
			names, err := a.Store.ListTasks()
			if err != nil {
				return err
			}
			printSection("queued", names)
			printDirSection("completed", filepath.Join(a.Store.Root, "completed"))
			printDirSection("failed", filepath.Join(a.Store.Root, "failed"))
			return nil
		},
	}
}

func printSection(label string, names []string) {
	fmt.Printf("%s (%d)\n", bold(label), len(names))
	if len(names) == 0 {
		fmt.Println(gray("  (none)"))
		return
	}
	for _, name := range names {
		fmt.Printf("  %s %s\n", gray("-"), name)
	}
}

func printDirSection(label, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		printSection(label, nil)
		return
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	printSection(label, names)
}

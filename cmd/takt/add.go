package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// taskFile is the on-disk YAML shape for a queued task; distinct from
// taskqueue.Task, which also carries parser-internal fields (Name, Path)
// that have no business in the written file.
type taskFile struct {
	Task     string `yaml:"task"`
	Piece    string `yaml:"piece,omitempty"`
	Worktree bool   `yaml:"worktree,omitempty"`
	Branch   string `yaml:"branch,omitempty"`
}

func newAddCommand(app **App) *cobra.Command {
	var pieceID, branch string
	var worktree bool

	cmd := &cobra.Command{
		Use:   "add <task description>",
		Short: "Queue a task without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := *app
			name := slugName(strings.Join(args, " "))
			task := taskFile{
				Task:     strings.Join(args, " "),
				Piece:    pieceID,
				Worktree: worktree,
				Branch:   branch,
			}
			raw, err := yaml.Marshal(task)
			if err != nil {
				return fmt.Errorf("marshal task: %w", err)
			}
			path := filepath.Join(a.Store.Root, "tasks", name+".yaml")
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				return fmt.Errorf("write task: %w", err)
			}
			fmt.Printf("%s queued %s\n", green("+"), name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&pieceID, "piece", "p", "", "piece identifier for this task")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch name to use with --worktree")
	cmd.Flags().BoolVarP(&worktree, "worktree", "w", false, "run this task in an isolated git worktree")
	return cmd
}

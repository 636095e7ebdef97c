package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cklxx/takt/internal/ghissue"
	"github.com/cklxx/takt/internal/pieceruntime"
	"github.com/cklxx/takt/internal/taskqueue"
)

func newRunCommand(app **App) *cobra.Command {
	var pieceID string
	var interactive bool

	cmd := &cobra.Command{
		Use:   "run <task description|#N>",
		Short: "Run a task description (or #N GitHub issue reference) to completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskInteractive(cmd.Context(), *app, strings.Join(args, " "), pieceID, interactive)
		},
	}
	cmd.Flags().StringVarP(&pieceID, "piece", "p", "", "piece identifier to run (overrides the default)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt on stdin when a movement blocks for user input")
	return cmd
}

func runTask(ctx context.Context, app *App, desc string, pieceID string) error {
	return runTaskInteractive(ctx, app, desc, pieceID, false)
}

// runTaskInteractive resolves desc to a task (expanding a #N reference via
// the IssueClient when one matches), drives it through the Piece Engine
// synchronously, and prints the resulting report. When interactive is
// true, a movement that blocks for user input prompts on stdin instead of
// aborting the run.
func runTaskInteractive(ctx context.Context, app *App, desc string, pieceID string, interactive bool) error {
	task := taskqueue.Task{Name: slugName(desc), TaskText: desc}

	if _, _, ok := ghissue.ParseRef(strings.TrimSpace(desc)); ok {
		title, body, err := app.Issues.FetchIssue(ctx, strings.TrimSpace(desc))
		if err != nil {
			return fmt.Errorf("resolve issue reference %q: %w", desc, err)
		}
		task.TaskText = title + "\n\n" + body
	}
	if pieceID != "" {
		task.Piece = pieceID
	}

	runner := &pieceruntime.Runner{
		Loader:       app.Loader,
		AgentClient:  app.AgentClient,
		VCS:          app.VCS,
		ProjectDir:   app.ProjectDir,
		DefaultPiece: pieceID,
		Interactive:  interactive,
		JudgeEnabled: true,
		Sink:         newEventPrinter(app.Localizer()),
	}
	if interactive {
		runner.OnUserInput = interactiveUserInput
	}

	started := time.Now()
	record, err := runner.RunTask(ctx, task)
	record.StartedAt = started
	record.CompletedAt = time.Now()

	if err != nil {
		record.ExecutionLog = append(record.ExecutionLog, err.Error())
		if failErr := app.Store.FailTask(taskqueue.Result{Record: record, Success: false}); failErr != nil {
			app.Logger.Error("persist failed run", "error", failErr)
		}
		return fmt.Errorf("task %q failed: %w", task.Name, err)
	}

	record.Success = true
	if completeErr := app.Store.CompleteTask(taskqueue.Result{Record: record, Success: true}); completeErr != nil {
		app.Logger.Error("persist completed run", "error", completeErr)
	}
	fmt.Printf("\n%s %s\n\n", green("done:"), task.Name)
	PrintMarkdown(record.Response)
	fmt.Println()
	return nil
}

func slugName(desc string) string {
	desc = strings.ToLower(strings.TrimSpace(desc))
	var b strings.Builder
	lastDash := false
	for _, r := range desc {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "task"
	}
	if len(slug) > 40 {
		slug = slug[:40]
	}
	return fmt.Sprintf("%s-%d", slug, time.Now().UnixNano())
}

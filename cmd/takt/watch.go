package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cklxx/takt/internal/pieceruntime"
	"github.com/cklxx/takt/internal/supervisor"
)

func newWatchCommand(app **App) *cobra.Command {
	var piece string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Start the polling worker pool and run tasks as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, *app, piece)
		},
	}
	cmd.Flags().StringVarP(&piece, "piece", "p", "", "default piece for tasks that don't name one")
	return cmd
}

func runWatch(cmd *cobra.Command, app *App, defaultPiece string) error {
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	if concurrency <= 0 {
		concurrency = app.Config.Concurrency
	}

	runner := &pieceruntime.Runner{
		Loader:       app.Loader,
		AgentClient:  app.AgentClient,
		VCS:          app.VCS,
		ProjectDir:   app.ProjectDir,
		DefaultPiece: defaultPiece,
		JudgeEnabled: true,
		Sink:         newEventPrinter(app.Localizer()),
	}

	sup := supervisor.New(app.Store, runner, supervisor.Config{
		Concurrency:      concurrency,
		TaskPollInterval: time.Duration(app.Config.TaskPollIntervalMs) * time.Millisecond,
		DrainTimeout:     30 * time.Second,
	}, app.Logger)

	fmt.Printf("%s watching %s (concurrency=%d)\n", cyan("takt"), app.Store.Root, concurrency)

	runCtx := installSignalHandling(context.Background(), sup.Drain, sup.AbortAll)
	sup.Start(runCtx)
	sup.Wait()
	return nil
}

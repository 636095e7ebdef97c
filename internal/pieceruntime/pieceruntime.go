// Package pieceruntime wires the Piece Loader, Movement Executor, Parallel
// Runner, and Piece Engine into a single supervisor.TaskRunner: the bridge
// from a claimed Task Store entry to a completed piece run and its
// RunRecord, per SPEC_FULL.md §4.9's description of the Task Supervisor's
// TaskRunner collaborator. Grounded on the teacher's CLI-initializes-agent
// wiring in cmd/cobra_cli.go's CLI.initialize, generalized from "build one
// agent" to "build one piece engine per task run".
package pieceruntime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cklxx/takt/internal/agentclient"
	"github.com/cklxx/takt/internal/agentjudge"
	"github.com/cklxx/takt/internal/engine"
	"github.com/cklxx/takt/internal/movement"
	"github.com/cklxx/takt/internal/parallelrun"
	"github.com/cklxx/takt/internal/phase"
	"github.com/cklxx/takt/internal/piece"
	"github.com/cklxx/takt/internal/ruleeval"
	"github.com/cklxx/takt/internal/taskqueue"
	"github.com/cklxx/takt/internal/vcsclient"
)

// Runner builds and drives one Piece Engine run per claimed task.
type Runner struct {
	Loader      *piece.Loader
	AgentClient agentclient.Client
	VCS         vcsclient.Client
	ProjectDir  string
	DefaultPiece string
	Interactive  bool
	JudgeEnabled bool
	Sink         engine.EventSink

	// OnUserInput is consulted whenever a movement blocks for a human
	// reply; nil means blocked movements always abort the run (the
	// correct behavior for the unattended Task Supervisor).
	OnUserInput engine.UserInputCallback
}

// RunTask satisfies supervisor.TaskRunner: it loads the task's piece,
// drives the engine to completion, optionally commits a worktree, and
// returns the RunRecord the Task Store persists.
func (r *Runner) RunTask(ctx context.Context, task taskqueue.Task) (taskqueue.RunRecord, error) {
	pieceID := task.Piece
	if pieceID == "" {
		pieceID = r.DefaultPiece
	}
	p, err := r.Loader.Load(pieceID)
	if err != nil {
		return taskqueue.RunRecord{}, fmt.Errorf("load piece %q: %w", pieceID, err)
	}

	cwd := r.ProjectDir
	if task.Worktree {
		if r.VCS == nil {
			return taskqueue.RunRecord{}, fmt.Errorf("task %q requests a worktree but no VCSClient is configured", task.Name)
		}
		branch := task.Branch
		if branch == "" {
			branch = "takt/" + task.Name
		}
		dir, err := r.VCS.PrepareWorktree(ctx, branch)
		if err != nil {
			return taskqueue.RunRecord{}, fmt.Errorf("prepare worktree: %w", err)
		}
		cwd = dir
	}

	reportDir := filepath.Join(r.ProjectDir, ".takt", "reports", reportSlug(task.Name))
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return taskqueue.RunRecord{}, fmt.Errorf("create report dir: %w", err)
	}

	phaseRunner := phase.New(r.AgentClient)
	evaluator := &ruleeval.Evaluator{
		TagRegex:     r.Loader.TagRegex,
		Judge:        agentjudge.New(r.AgentClient, ""),
		Interactive:  r.Interactive,
		JudgeEnabled: r.JudgeEnabled,
	}
	executor := movement.New(p, phaseRunner, evaluator, task.Text(), cwd, reportDir)
	runner := &parallelrun.Runner{Piece: p, Executor: executor, Evaluator: evaluator}

	eng := engine.New(p, runner, r.Sink, nil)
	if task.StartMovement != "" {
		// Engine always begins at p.InitialMovement; a non-default start
		// movement requeued from a failed run overrides that by mutating
		// a throwaway copy of the piece's InitialMovement field.
		overridden := *p
		overridden.InitialMovement = task.StartMovement
		eng = engine.New(&overridden, runner, r.Sink, nil)
	}
	eng.OnUserInput = r.OnUserInput

	started := time.Now()
	st, runErr := eng.Run(ctx)
	record := taskqueue.RunRecord{
		Task:        task,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	if runErr != nil {
		return record, runErr
	}
	if st.Status != engine.RunCompleted {
		record.ExecutionLog = append(record.ExecutionLog, fmt.Sprintf("workflow ended with status %q", st.Status))
		return record, fmt.Errorf("piece %q did not complete: status=%s", p.Name, st.Status)
	}

	record.Response = st.LastOutput
	if task.Worktree && r.VCS != nil {
		if err := r.VCS.AutoCommitAndPush(ctx, cwd, fmt.Sprintf("takt: %s", task.Name)); err != nil {
			record.ExecutionLog = append(record.ExecutionLog, fmt.Sprintf("auto-commit/push failed: %v", err))
			return record, fmt.Errorf("auto-commit/push: %w", err)
		}
	}
	return record, nil
}

func reportSlug(taskName string) string {
	return fmt.Sprintf("%s-%s", taskName, time.Now().UTC().Format("2006-01-02T15-04-05.000"))
}

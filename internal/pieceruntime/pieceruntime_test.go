package pieceruntime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cklxx/takt/internal/agentclient"
	"github.com/cklxx/takt/internal/piece"
	"github.com/cklxx/takt/internal/taskqueue"
)

func writePiece(t *testing.T, dir, name string) {
	t.Helper()
	content := `
name: demo
initial_movement: work
movements:
  - name: work
    persona: engineer
    instruction_template: "{task}"
    rules:
      - condition: "done"
        next: COMPLETE
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o644))
}

func TestRunnerRunsTaskToCompletion(t *testing.T) {
	projectDir := t.TempDir()
	piecesDir := filepath.Join(projectDir, ".takt", "pieces")
	require.NoError(t, os.MkdirAll(piecesDir, 0o755))
	writePiece(t, piecesDir, "demo")

	loader, err := piece.NewLoader(piecesDir, "", "")
	require.NoError(t, err)

	client := agentclient.NewMockScript(map[string][]agentclient.Response{
		"engineer": {{Status: agentclient.StatusDone, Content: "done"}},
	})

	runner := &Runner{
		Loader:       loader,
		AgentClient:  client,
		ProjectDir:   projectDir,
		DefaultPiece: "demo",
	}

	record, err := runner.RunTask(context.Background(), taskqueue.Task{Name: "task1", TaskText: "fix it"})
	require.NoError(t, err)
	require.Equal(t, "done", record.Response)
}

func TestRunnerRequiresVCSForWorktreeTasks(t *testing.T) {
	projectDir := t.TempDir()
	piecesDir := filepath.Join(projectDir, ".takt", "pieces")
	require.NoError(t, os.MkdirAll(piecesDir, 0o755))
	writePiece(t, piecesDir, "demo")

	loader, err := piece.NewLoader(piecesDir, "", "")
	require.NoError(t, err)

	runner := &Runner{
		Loader:       loader,
		AgentClient:  agentclient.NewMockScript(nil),
		ProjectDir:   projectDir,
		DefaultPiece: "demo",
	}

	_, err = runner.RunTask(context.Background(), taskqueue.Task{Name: "task1", TaskText: "x", Worktree: true})
	require.Error(t, err)
}
